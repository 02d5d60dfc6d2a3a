package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestHTML(t *testing.T) {
	a := DigestHTML("<html><body>\n  <p>hi</p>\n</body></html>")
	b := DigestHTML("<html><body> <p>hi</p> </body></html>")
	c := DigestHTML("<html><body><p>bye</p></body></html>")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^[0-9a-f]{16}$`, a)
}

func TestInitial(t *testing.T) {
	s := Initial("http://t.test/", "<html><p>hi</p></html>")

	assert.Equal(t, "http://t.test/", s.URL())
	assert.Equal(t, DigestHTML("<html><p>hi</p></html>"), s.Digest())
	assert.Zero(t, s.Depth(), "the initial load does not count")
	assert.Empty(t, s.PlayableTransitions())
}
