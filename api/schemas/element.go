package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownElementKind is returned when a name does not denote an element kind.
var ErrUnknownElementKind = errors.New("unknown element kind")

// ElementKind identifies where a payload is injected and how findings are grouped.
type ElementKind string

// The closed set of element kinds an audit can target.
const (
	ElementLink   ElementKind = "link"
	ElementForm   ElementKind = "form"
	ElementCookie ElementKind = "cookie"
	ElementHeader ElementKind = "header"
	ElementBody   ElementKind = "body"
	ElementPath   ElementKind = "path"
)

// DefaultElementKinds is the order candidates are selected in when neither the
// caller nor the check narrows it down.
var DefaultElementKinds = []ElementKind{
	ElementLink,
	ElementForm,
	ElementCookie,
	ElementHeader,
	ElementBody,
}

var knownElementKinds = map[ElementKind]struct{}{
	ElementLink:   {},
	ElementForm:   {},
	ElementCookie: {},
	ElementHeader: {},
	ElementBody:   {},
	ElementPath:   {},
}

// Valid reports whether k is one of the known element kinds.
func (k ElementKind) Valid() bool {
	_, ok := knownElementKinds[k]
	return ok
}

func (k ElementKind) String() string { return string(k) }

// ParseElementKind accepts both singular and plural spellings ("links", "Forms")
// since that is how they show up in config files.
func ParseElementKind(s string) (ElementKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.TrimSuffix(norm, "s")
	k := ElementKind(norm)
	if !k.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownElementKind, s)
	}
	return k, nil
}
