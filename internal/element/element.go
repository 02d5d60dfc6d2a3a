// Package element models the page input surfaces an audit injects payloads into.
//
// An Element is always an owned copy: the crawl-wide instance a page exposes is
// never handed to a check directly. Copies are made with Clone and are safe to
// mutate by whoever holds them.
package element

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

// Input is a single named input of an element.
type Input struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Element is a page input surface: a link's query, a form, the cookie jar,
// request headers, the raw body or the request path.
type Element struct {
	Kind   schemas.ElementKind `json:"kind"`
	Action string              `json:"action"`
	Method string              `json:"method"`
	Inputs []Input             `json:"inputs"`

	// Auditor names the check that owns this copy.
	Auditor string `json:"auditor,omitempty"`

	// Altered is the input carrying the payload on a mutated copy.
	Altered  string `json:"altered,omitempty"`
	Injected string `json:"injected,omitempty"`
}

// New creates an element of the given kind. Method defaults to GET.
func New(kind schemas.ElementKind, action, method string, inputs ...Input) *Element {
	if method == "" {
		method = http.MethodGet
	}
	return &Element{
		Kind:   kind,
		Action: action,
		Method: strings.ToUpper(method),
		Inputs: append([]Input(nil), inputs...),
	}
}

// Clone returns a detached deep copy.
func (e *Element) Clone() *Element {
	c := *e
	c.Inputs = append([]Input(nil), e.Inputs...)
	return &c
}

// HasInputs reports whether the element has anything to inject into.
func (e *Element) HasInputs() bool { return len(e.Inputs) > 0 }

// InputNames returns input names in element order.
func (e *Element) InputNames() []string {
	names := make([]string, len(e.Inputs))
	for i, in := range e.Inputs {
		names[i] = in.Name
	}
	return names
}

// Get returns the value of the named input.
func (e *Element) Get(name string) (string, bool) {
	for _, in := range e.Inputs {
		if in.Name == name {
			return in.Value, true
		}
	}
	return "", false
}

// Set updates the named input, appending it if missing.
func (e *Element) Set(name, value string) {
	for i := range e.Inputs {
		if e.Inputs[i].Name == name {
			e.Inputs[i].Value = value
			return
		}
	}
	e.Inputs = append(e.Inputs, Input{Name: name, Value: value})
}

// ID identifies the element independently of input values: two copies of the
// same form with different values share an ID.
func (e *Element) ID() string {
	names := e.InputNames()
	sort.Strings(names)
	return fmt.Sprintf("%s:%s:%s:%s", e.Kind, e.Method, e.Action, strings.Join(names, ","))
}

// IssueID returns the identifier an issue logged by check against this
// element will carry. Discriminators distinguish several findings logged
// against the same element, such as distinct pattern matches.
func (e *Element) IssueID(check string, discriminators ...string) string {
	h := murmur3.New64()
	h.Write([]byte(e.ID()))
	for _, d := range discriminators {
		if d == "" {
			continue
		}
		h.Write([]byte{0})
		h.Write([]byte(d))
	}
	return fmt.Sprintf("%s-%016x", check, h.Sum64())
}

// Mutations returns one copy per input with that input's value replaced by
// payload. The receiver is left untouched.
func (e *Element) Mutations(payload string) []*Element {
	out := make([]*Element, 0, len(e.Inputs))
	for _, in := range e.Inputs {
		m := e.Clone()
		m.Set(in.Name, payload)
		m.Altered = in.Name
		m.Injected = payload
		out = append(out, m)
	}
	return out
}

// Request builds the HTTP request that submits the element's current inputs.
func (e *Element) Request() (*network.Request, error) {
	target, err := url.Parse(e.Action)
	if err != nil {
		return nil, fmt.Errorf("invalid element action %q: %w", e.Action, err)
	}

	req := &network.Request{
		Method:  e.Method,
		Headers: make(http.Header),
	}

	switch e.Kind {
	case schemas.ElementLink:
		target.RawQuery = e.encodeInputs()
	case schemas.ElementForm:
		if e.Method == http.MethodGet {
			target.RawQuery = e.encodeInputs()
		} else {
			req.Body = e.encodeInputs()
			req.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	case schemas.ElementCookie:
		parts := make([]string, 0, len(e.Inputs))
		for _, in := range e.Inputs {
			parts = append(parts, (&http.Cookie{Name: in.Name, Value: url.QueryEscape(in.Value)}).String())
		}
		req.Headers.Set("Cookie", strings.Join(parts, "; "))
	case schemas.ElementHeader:
		for _, in := range e.Inputs {
			req.Headers.Set(in.Name, in.Value)
		}
	case schemas.ElementBody:
		req.Method = http.MethodPost
		for _, in := range e.Inputs {
			req.Body += in.Value
		}
	case schemas.ElementPath:
		if v, ok := e.Get("path"); ok {
			target.Path = v
		}
	default:
		return nil, fmt.Errorf("element kind %q cannot be submitted", e.Kind)
	}

	req.URL = target.String()
	return req, nil
}

func (e *Element) encodeInputs() string {
	parts := make([]string, 0, len(e.Inputs))
	for _, in := range e.Inputs {
		parts = append(parts, url.QueryEscape(in.Name)+"="+url.QueryEscape(in.Value))
	}
	return strings.Join(parts, "&")
}
