// Package page turns HTTP responses into the pages an audit runs against,
// extracting the elements a check can inject into.
package page

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/audit"
	"github.com/xkilldash9x/scalpel-audit/internal/dom"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

var _ audit.Page = (*Page)(nil)

// Page is a crawled resource together with its elements.
type Page struct {
	url     string
	status  int
	body    string
	headers http.Header

	mu       sync.RWMutex
	elements map[schemas.ElementKind][]*element.Element
	state    *dom.State
}

// New creates a page without elements.
func New(rawURL string, status int, body string, headers http.Header) *Page {
	if headers == nil {
		headers = make(http.Header)
	}
	return &Page{
		url:      rawURL,
		status:   status,
		body:     body,
		headers:  headers,
		elements: make(map[schemas.ElementKind][]*element.Element),
	}
}

// FromResponse builds a page from resp. Links and forms are only extracted
// from HTML bodies; elements pointing outside scope are dropped. A nil
// scope accepts everything.
func FromResponse(resp *network.Response, scope *Scope) (*Page, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response")
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", resp.URL, err)
	}

	p := New(resp.URL, resp.StatusCode, resp.Body, resp.Headers.Clone())

	if u, err := normalize(resp.URL, nil, scope); err == nil {
		p.Add(linkFromURL(u))
	}

	if isHTML(resp.Headers) {
		doc, err := htmlquery.Parse(strings.NewReader(resp.Body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML response from %q: %w", resp.URL, err)
		}
		if href := baseHref(doc); href != "" {
			if b, err := base.Parse(href); err == nil {
				base = b
			}
		}
		p.Add(links(doc, base, scope)...)
		p.Add(forms(doc, base, scope)...)
		p.state = dom.Initial(resp.URL, resp.Body)
	}

	if c := cookies(resp); c != nil {
		p.Add(c)
	}
	if h := requestHeaders(resp); h != nil {
		p.Add(h)
	}
	return p, nil
}

func (p *Page) URL() string                  { return p.url }
func (p *Page) StatusCode() int              { return p.status }
func (p *Page) Body() string                 { return p.body }
func (p *Page) ResponseHeaders() http.Header { return p.headers }

// Elements returns the page's elements of kind in page order.
func (p *Page) Elements(kind schemas.ElementKind) []*element.Element {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*element.Element(nil), p.elements[kind]...)
}

// Add appends elements, ignoring any whose ID the page already has.
func (p *Page) Add(els ...*element.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range els {
		if el == nil {
			continue
		}
		dup := false
		for _, have := range p.elements[el.Kind] {
			if have.ID() == el.ID() {
				dup = true
				break
			}
		}
		if !dup {
			p.elements[el.Kind] = append(p.elements[el.Kind], el)
		}
	}
}

// All returns every element in default kind order, then path elements.
func (p *Page) All() []*element.Element {
	var out []*element.Element
	for _, k := range append(append([]schemas.ElementKind(nil), schemas.DefaultElementKinds...), schemas.ElementPath) {
		out = append(out, p.Elements(k)...)
	}
	return out
}

// DOM returns the explored client-side state, or nil.
func (p *Page) DOM() *dom.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetDOM attaches the explored client-side state.
func (p *Page) SetDOM(s *dom.State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func isHTML(h http.Header) bool {
	ct := strings.ToLower(h.Get("Content-Type"))
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func baseHref(doc *html.Node) string {
	if n := htmlquery.FindOne(doc, "//base[@href]"); n != nil {
		return strings.TrimSpace(htmlquery.SelectAttr(n, "href"))
	}
	return ""
}

// linkFromURL returns the link element for u's query, or nil without one.
func linkFromURL(u *url.URL) *element.Element {
	inputs := queryInputs(u.RawQuery)
	if len(inputs) == 0 {
		return nil
	}
	action := *u
	action.RawQuery = ""
	return element.New(schemas.ElementLink, action.String(), http.MethodGet, inputs...)
}

// queryInputs splits a raw query in order, keeping repeated names once.
func queryInputs(raw string) []element.Input {
	var inputs []element.Input
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		if n, err := url.QueryUnescape(name); err == nil {
			name = n
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		inputs = append(inputs, element.Input{Name: name, Value: value})
	}
	return inputs
}

func links(doc *html.Node, base *url.URL, scope *Scope) []*element.Element {
	var out []*element.Element
	for _, a := range htmlquery.Find(doc, "//a[@href] | //area[@href]") {
		u, err := normalize(htmlquery.SelectAttr(a, "href"), base, scope)
		if err != nil {
			continue
		}
		if el := linkFromURL(u); el != nil {
			out = append(out, el)
		}
	}
	return out
}

func forms(doc *html.Node, base *url.URL, scope *Scope) []*element.Element {
	var out []*element.Element
	for _, f := range htmlquery.Find(doc, "//form") {
		action := htmlquery.SelectAttr(f, "action")
		u, err := normalize(action, base, scope)
		if err != nil {
			continue
		}

		method := strings.ToUpper(strings.TrimSpace(htmlquery.SelectAttr(f, "method")))
		if method != http.MethodPost {
			method = http.MethodGet
		}
		// A GET form replaces the action's query on submit.
		if method == http.MethodGet {
			u.RawQuery = ""
		}

		inputs := formInputs(f)
		if len(inputs) == 0 {
			continue
		}
		out = append(out, element.New(schemas.ElementForm, u.String(), method, inputs...))
	}
	return out
}

func formInputs(form *html.Node) []element.Input {
	var inputs []element.Input
	seen := make(map[string]struct{})
	add := func(name, value string) {
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		inputs = append(inputs, element.Input{Name: name, Value: value})
	}

	for _, n := range htmlquery.Find(form, ".//input[@name] | .//textarea[@name] | .//select[@name] | .//button[@name]") {
		name := htmlquery.SelectAttr(n, "name")
		switch n.Data {
		case "textarea":
			add(name, htmlquery.InnerText(n))
		case "select":
			add(name, selectValue(n))
		default:
			typ := strings.ToLower(htmlquery.SelectAttr(n, "type"))
			if typ == "image" || typ == "reset" || typ == "file" {
				continue
			}
			add(name, htmlquery.SelectAttr(n, "value"))
		}
	}
	return inputs
}

// selectValue is the value a browser would submit: the selected option, or
// the first one.
func selectValue(sel *html.Node) string {
	option := htmlquery.FindOne(sel, ".//option[@selected]")
	if option == nil {
		option = htmlquery.FindOne(sel, ".//option")
	}
	if option == nil {
		return ""
	}
	for _, attr := range option.Attr {
		if attr.Key == "value" {
			return attr.Val
		}
	}
	return strings.TrimSpace(htmlquery.InnerText(option))
}

// cookies collects the cookies the response sets together with those the
// request sent into one element.
func cookies(resp *network.Response) *element.Element {
	var inputs []element.Input
	seen := make(map[string]struct{})
	add := func(c *http.Cookie) {
		if _, dup := seen[c.Name]; dup {
			return
		}
		seen[c.Name] = struct{}{}
		inputs = append(inputs, element.Input{Name: c.Name, Value: c.Value})
	}

	if req := resp.Request; req != nil {
		r := http.Request{Header: req.Headers}
		for _, c := range r.Cookies() {
			add(c)
		}
	}
	for _, c := range (&http.Response{Header: resp.Headers}).Cookies() {
		add(c)
	}
	if len(inputs) == 0 {
		return nil
	}
	return element.New(schemas.ElementCookie, resp.URL, http.MethodGet, inputs...)
}

// requestHeaders exposes the headers the page was requested with, minus
// those the transport manages itself.
func requestHeaders(resp *network.Response) *element.Element {
	if resp.Request == nil || len(resp.Request.Headers) == 0 {
		return nil
	}
	names := make([]string, 0, len(resp.Request.Headers))
	for name := range resp.Request.Headers {
		switch http.CanonicalHeaderKey(name) {
		case "Cookie", "Content-Length", "Content-Type", "Host":
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	inputs := make([]element.Input, 0, len(names))
	for _, name := range names {
		inputs = append(inputs, element.Input{Name: name, Value: resp.Request.Headers.Get(name)})
	}
	return element.New(schemas.ElementHeader, resp.URL, http.MethodGet, inputs...)
}
