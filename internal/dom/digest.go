package dom

import (
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"
)

// DigestHTML fingerprints a serialized document. Whitespace between tags is
// ignored.
func DigestHTML(doc string) string {
	var b strings.Builder
	for _, field := range strings.Fields(doc) {
		b.WriteString(field)
		b.WriteByte(' ')
	}
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(b.String())))
}

// Initial returns the state of a page as fetched over HTTP: the page load
// marker, the request for url and the digest of body.
func Initial(url, body string) *State {
	s := NewState(url)
	s.PushTransition(PageLoad())
	s.PushTransition(Request(url))
	s.SetDigest(DigestHTML(body))
	return s
}
