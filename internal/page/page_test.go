package page

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/dom"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

const sampleHTML = `<html><head><title>Shop</title></head><body>
<a href="/search?myvar=my%20value&page=2#top">search</a>
<a href="/search?page=3&myvar=other">same link, other values</a>
<a href="/about">no query</a>
<a href="https://evil.example/?x=1">offsite</a>
<a href="/logo.png?v=1">asset</a>
<a href="javascript:alert(1)">js</a>
<form action="/login" method="post">
  <input type="text" name="user" value="guest">
  <input type="password" name="pass">
  <input type="submit" name="go" value="Login">
  <input type="file" name="avatar">
</form>
<form method="get">
  <textarea name="comment">hello</textarea>
  <select name="color"><option value="r">Red</option><option value="g" selected>Green</option></select>
</form>
<form action="/empty"><input type="reset" name="r"></form>
</body></html>`

func sampleResponse() *network.Response {
	return &network.Response{
		URL:        "http://shop.test/index.php?cat=1",
		StatusCode: http.StatusOK,
		Body:       sampleHTML,
		Headers: http.Header{
			"Content-Type": {"text/html; charset=utf-8"},
			"Set-Cookie":   {"sid=abc123; Path=/; HttpOnly"},
		},
		Request: &network.Request{
			Method: http.MethodGet,
			URL:    "http://shop.test/index.php?cat=1",
			Headers: http.Header{
				"User-Agent": {"scalpel"},
				"Cookie":     {"lang=en"},
			},
		},
	}
}

func TestFromResponse(t *testing.T) {
	scope, err := NewScope("http://shop.test/", false)
	require.NoError(t, err)

	p, err := FromResponse(sampleResponse(), scope)
	require.NoError(t, err)

	t.Run("links", func(t *testing.T) {
		links := p.Elements(schemas.ElementLink)
		require.Len(t, links, 2, "the page's own query plus one deduplicated in-scope link")
		assert.Equal(t, "http://shop.test/index.php", links[0].Action)
		assert.Equal(t, []string{"cat"}, links[0].InputNames())

		assert.Equal(t, "http://shop.test/search", links[1].Action)
		assert.Equal(t, []string{"myvar", "page"}, links[1].InputNames())
		v, _ := links[1].Get("myvar")
		assert.Equal(t, "my value", v)
	})

	t.Run("forms", func(t *testing.T) {
		forms := p.Elements(schemas.ElementForm)
		require.Len(t, forms, 2)

		login := forms[0]
		assert.Equal(t, "http://shop.test/login", login.Action)
		assert.Equal(t, http.MethodPost, login.Method)
		assert.Equal(t, []string{"user", "pass", "go"}, login.InputNames())

		comment := forms[1]
		assert.Equal(t, "http://shop.test/index.php", comment.Action, "empty action posts back to the page")
		assert.Equal(t, http.MethodGet, comment.Method)
		v, _ := comment.Get("color")
		assert.Equal(t, "g", v)
		v, _ = comment.Get("comment")
		assert.Equal(t, "hello", v)
	})

	t.Run("cookies", func(t *testing.T) {
		cookies := p.Elements(schemas.ElementCookie)
		require.Len(t, cookies, 1)
		assert.Equal(t, []string{"lang", "sid"}, cookies[0].InputNames())
	})

	t.Run("headers", func(t *testing.T) {
		headers := p.Elements(schemas.ElementHeader)
		require.Len(t, headers, 1)
		assert.Equal(t, []string{"User-Agent"}, headers[0].InputNames())
	})

	assert.Equal(t, sampleHTML, p.Body())
	assert.Equal(t, http.StatusOK, p.StatusCode())
	require.NotNil(t, p.DOM())
	assert.Equal(t, dom.DigestHTML(sampleHTML), p.DOM().Digest())
	assert.Equal(t, "http://shop.test/index.php?cat=1", p.DOM().PageURL())
}

func TestFromResponse_NonHTML(t *testing.T) {
	resp := &network.Response{
		URL:        "http://shop.test/api?id=1",
		StatusCode: http.StatusOK,
		Body:       `{"link":"<a href='/x?y=1'>"}`,
		Headers:    http.Header{"Content-Type": {"application/json"}},
	}
	p, err := FromResponse(resp, nil)
	require.NoError(t, err)
	require.Len(t, p.Elements(schemas.ElementLink), 1)
	assert.Empty(t, p.Elements(schemas.ElementForm))
	assert.Nil(t, p.DOM(), "only HTML pages have a client-side state")
}

func TestPage_AddDeduplicates(t *testing.T) {
	p := New("http://shop.test/", 200, "", nil)
	a := element.New(schemas.ElementLink, "http://shop.test/s", "", element.Input{Name: "q", Value: "1"})
	b := element.New(schemas.ElementLink, "http://shop.test/s", "", element.Input{Name: "q", Value: "2"})
	p.Add(a, b, nil)
	assert.Len(t, p.Elements(schemas.ElementLink), 1)
	assert.Len(t, p.All(), 1)
}

func TestScope(t *testing.T) {
	s, err := NewScope("https://www.example.co.uk/app", true)
	require.NoError(t, err)
	assert.Equal(t, "example.co.uk", s.RootDomain())

	in, _ := url.Parse("https://api.example.co.uk/")
	out, _ := url.Parse("https://notexample.co.uk/")
	assert.True(t, s.Contains(in))
	assert.False(t, s.Contains(out))

	strict, err := NewScope("https://www.example.co.uk/app", false)
	require.NoError(t, err)
	assert.False(t, strict.Contains(in))

	local, err := NewScope("http://127.0.0.1:8080/", false)
	require.NoError(t, err)
	same, _ := url.Parse("http://127.0.0.1:9090/x")
	assert.True(t, local.Contains(same))

	_, err = NewScope("/relative", false)
	assert.Error(t, err)
}

func TestTrainer(t *testing.T) {
	var mu sync.Mutex
	var found []*element.Element
	tr := NewTrainer(nil, func(_ context.Context, p *Page, fresh []*element.Element) {
		mu.Lock()
		defer mu.Unlock()
		found = append(found, fresh...)
	}, nil)

	known, err := FromResponse(&network.Response{URL: "http://shop.test/?a=1", Headers: http.Header{}}, nil)
	require.NoError(t, err)
	tr.Seed(known)
	assert.Equal(t, 1, tr.Seen())

	resp := &network.Response{
		URL:        "http://shop.test/?a=1",
		StatusCode: 200,
		Body:       `<a href="/next?b=2">next</a>`,
		Headers:    http.Header{"Content-Type": {"text/html"}},
	}
	tr.Train(context.Background(), resp)
	tr.Train(context.Background(), resp)
	tr.Train(context.Background(), nil)

	require.Len(t, found, 1, "each element is reported once")
	assert.Equal(t, "http://shop.test/next", found[0].Action)
	assert.Equal(t, 2, tr.Seen())
	assert.Equal(t, 2, tr.States().Len())
}

func TestTrainer_SkipsExploredDOMStates(t *testing.T) {
	var pages []*Page
	tr := NewTrainer(nil, func(_ context.Context, p *Page, _ []*element.Element) {
		pages = append(pages, p)
	}, nil)

	body := `<a href="/next?b=2">next</a>`
	tr.Train(context.Background(), &network.Response{URL: "http://shop.test/one?x=1", StatusCode: 200, Body: body, Headers: http.Header{}})
	tr.Train(context.Background(), &network.Response{URL: "http://shop.test/two?y=1", StatusCode: 200, Body: body, Headers: http.Header{}})

	require.Len(t, pages, 1, "the second response renders a document already explored")
	assert.Equal(t, "http://shop.test/one?x=1", pages[0].URL())
	assert.Same(t, tr.States(), pages[0].DOM().SkipStates())
	assert.False(t, pages[0].DOM().IsNovel(dom.DigestHTML(body)))
}
