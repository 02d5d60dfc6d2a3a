package element

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

func TestElement_IDIgnoresValues(t *testing.T) {
	a := New(schemas.ElementForm, "http://t.test/login", "post", Input{Name: "user", Value: "a"}, Input{Name: "pass", Value: "b"})
	b := New(schemas.ElementForm, "http://t.test/login", "POST", Input{Name: "pass", Value: "x"}, Input{Name: "user", Value: "y"})
	c := New(schemas.ElementLink, "http://t.test/login", "GET", Input{Name: "user"}, Input{Name: "pass"})

	assert.Equal(t, a.ID(), b.ID(), "input values and order do not change identity")
	assert.NotEqual(t, a.ID(), c.ID())
	assert.Equal(t, "POST", a.Method)
}

func TestElement_IssueID(t *testing.T) {
	el := New(schemas.ElementLink, "http://t.test/s", "", Input{Name: "q", Value: "1"})

	assert.Equal(t, el.IssueID("xss"), el.Clone().IssueID("xss"))
	assert.Equal(t, el.IssueID("xss"), el.IssueID("xss", ""), "empty discriminators are ignored")
	assert.NotEqual(t, el.IssueID("xss"), el.IssueID("sqli"))
	assert.NotEqual(t, el.IssueID("xss", "q", "a"), el.IssueID("xss", "q", "b"))
	assert.Regexp(t, `^xss-[0-9a-f]{16}$`, el.IssueID("xss"))
}

func TestElement_CloneIsDetached(t *testing.T) {
	el := New(schemas.ElementLink, "http://t.test/s", "", Input{Name: "q", Value: "1"})
	c := el.Clone()
	c.Set("q", "2")
	c.Set("extra", "3")

	v, _ := el.Get("q")
	assert.Equal(t, "1", v)
	assert.Len(t, el.Inputs, 1)
}

func TestElement_Mutations(t *testing.T) {
	el := New(schemas.ElementForm, "http://t.test/f", "POST", Input{Name: "a", Value: "1"}, Input{Name: "b", Value: "2"})
	muts := el.Mutations("<x>")
	require.Len(t, muts, 2)

	assert.Equal(t, "a", muts[0].Altered)
	assert.Equal(t, "<x>", muts[0].Injected)
	v, _ := muts[0].Get("a")
	assert.Equal(t, "<x>", v)
	v, _ = muts[0].Get("b")
	assert.Equal(t, "2", v)

	assert.Equal(t, "b", muts[1].Altered)
	assert.Equal(t, el.ID(), muts[1].ID())

	v, _ = el.Get("a")
	assert.Equal(t, "1", v)
	assert.Empty(t, el.Altered)

	assert.Empty(t, New(schemas.ElementLink, "http://t.test/", "").Mutations("x"))
}

func TestElement_Request(t *testing.T) {
	tests := []struct {
		name  string
		el    *Element
		check func(t *testing.T, method, rawURL string, headers http.Header, body string)
	}{
		{
			name: "link query",
			el:   New(schemas.ElementLink, "http://t.test/s?old=1", "", Input{Name: "myvar", Value: "my value"}),
			check: func(t *testing.T, method, rawURL string, _ http.Header, body string) {
				u, err := url.Parse(rawURL)
				require.NoError(t, err)
				assert.Equal(t, http.MethodGet, method)
				assert.Equal(t, "my value", u.Query().Get("myvar"))
				assert.Empty(t, u.Query().Get("old"), "the element's inputs replace the query")
				assert.Empty(t, body)
			},
		},
		{
			name: "post form",
			el:   New(schemas.ElementForm, "http://t.test/login", "POST", Input{Name: "user", Value: "a&b"}),
			check: func(t *testing.T, method, rawURL string, headers http.Header, body string) {
				assert.Equal(t, http.MethodPost, method)
				assert.Equal(t, "http://t.test/login", rawURL)
				assert.Equal(t, "user=a%26b", body)
				assert.Equal(t, "application/x-www-form-urlencoded", headers.Get("Content-Type"))
			},
		},
		{
			name: "get form",
			el:   New(schemas.ElementForm, "http://t.test/find", "GET", Input{Name: "q", Value: "x"}),
			check: func(t *testing.T, method, rawURL string, _ http.Header, body string) {
				assert.Equal(t, "http://t.test/find?q=x", rawURL)
				assert.Empty(t, body)
			},
		},
		{
			name: "cookies",
			el:   New(schemas.ElementCookie, "http://t.test/", "", Input{Name: "sid", Value: "a b"}, Input{Name: "lang", Value: "en"}),
			check: func(t *testing.T, _, _ string, headers http.Header, _ string) {
				assert.Equal(t, "sid=a+b; lang=en", headers.Get("Cookie"))
			},
		},
		{
			name: "headers",
			el:   New(schemas.ElementHeader, "http://t.test/", "", Input{Name: "X-Forwarded-For", Value: "127.0.0.1"}),
			check: func(t *testing.T, _, _ string, headers http.Header, _ string) {
				assert.Equal(t, "127.0.0.1", headers.Get("X-Forwarded-For"))
			},
		},
		{
			name: "body",
			el:   New(schemas.ElementBody, "http://t.test/api", "", Input{Name: "body", Value: `{"a":1}`}),
			check: func(t *testing.T, method, _ string, _ http.Header, body string) {
				assert.Equal(t, http.MethodPost, method)
				assert.Equal(t, `{"a":1}`, body)
			},
		},
		{
			name: "path",
			el:   New(schemas.ElementPath, "http://t.test/a/b", "", Input{Name: "path", Value: "/backup.zip"}),
			check: func(t *testing.T, _, rawURL string, _ http.Header, _ string) {
				assert.Equal(t, "http://t.test/backup.zip", rawURL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.el.Request()
			require.NoError(t, err)
			tt.check(t, req.Method, req.URL, req.Headers, req.Body)
		})
	}
}

func TestElement_RequestErrors(t *testing.T) {
	_, err := New(schemas.ElementLink, "http://bad host/%zz", "").Request()
	assert.Error(t, err)

	_, err = New(schemas.ElementKind("json"), "http://t.test/", "").Request()
	assert.Error(t, err)
}
