package audit

import (
	"context"
	"net/http"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/dom"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

// ResultsSink receives registered issues. It owns global deduplication and
// exposes the issue-identifier set Skip consults.
type ResultsSink interface {
	Register(ctx context.Context, issues []schemas.Issue) error
	// HasIssue reports whether an issue with the given ID or digest has been
	// registered.
	HasIssue(id string) bool
}

// Transport sends requests to the target.
type Transport interface {
	// Queue dispatches req asynchronously and calls cb on completion. An
	// error means the request was never dispatched.
	Queue(ctx context.Context, req *network.Request, cb network.Callback) error
	Do(ctx context.Context, req *network.Request) (*network.Response, error)
	// IsCustom404 reports whether resp is the site's not-found page in disguise.
	IsCustom404(ctx context.Context, resp *network.Response) bool
}

// Trainer re-parses responses for elements the crawl has not seen yet.
type Trainer interface {
	Train(ctx context.Context, resp *network.Response)
}

// Page is what the dispatcher needs from a crawled page.
type Page interface {
	URL() string
	StatusCode() int
	Body() string
	ResponseHeaders() http.Header
	// Elements returns the page's elements of kind in page order. Callers
	// must not mutate them.
	Elements(kind schemas.ElementKind) []*element.Element
	// DOM is the explored client-side state, or nil.
	DOM() *dom.State
}
