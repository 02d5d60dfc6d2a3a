package audit

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

// ProbeResult says whether a remote file probe was sent. Whether the file
// exists is only known once the probe completes.
type ProbeResult int

const (
	// ProbeNotAttempted means no URL was given.
	ProbeNotAttempted ProbeResult = iota
	// ProbeFailed means the probe could not be dispatched.
	ProbeFailed
	// ProbeDispatched means the probe is in flight.
	ProbeDispatched
)

func (r ProbeResult) String() string {
	switch r {
	case ProbeNotAttempted:
		return "not_attempted"
	case ProbeFailed:
		return "failed"
	case ProbeDispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

// LogRemoteFileIfExists probes rawURL asynchronously and logs a path issue
// if it answers 200 with something other than the site's not-found page.
func (a *Auditor) LogRemoteFileIfExists(ctx context.Context, rawURL string) ProbeResult {
	if rawURL == "" {
		a.deps.Metrics.Probe(ProbeNotAttempted.String())
		return ProbeNotAttempted
	}

	// A canceled caller cannot dispatch, but once dispatched the request and
	// its completion outlive the caller's scope.
	if err := ctx.Err(); err != nil {
		a.logger.Debug("Remote file probe not dispatched, caller is done.", zap.String("url", rawURL), zap.Error(err))
		a.deps.Metrics.Probe(ProbeFailed.String())
		return ProbeFailed
	}
	detached := context.WithoutCancel(ctx)
	req := &network.Request{Method: http.MethodGet, URL: rawURL}
	err := a.deps.Transport.Queue(detached, req, func(resp *network.Response, err error) {
		a.remoteFileProbed(detached, rawURL, resp, err)
	})
	if err != nil {
		a.logger.Warn("Remote file probe could not be dispatched.", zap.String("url", rawURL), zap.Error(err))
		a.deps.Metrics.Probe(ProbeFailed.String())
		return ProbeFailed
	}
	a.deps.Metrics.Probe(ProbeDispatched.String())
	return ProbeDispatched
}

func (a *Auditor) remoteFileProbed(ctx context.Context, rawURL string, resp *network.Response, err error) {
	if err != nil {
		a.logger.Warn("Remote file probe failed.", zap.String("url", rawURL), zap.Error(err))
		return
	}
	if resp.StatusCode != http.StatusOK || a.deps.Transport.IsCustom404(ctx, resp) {
		a.logger.Debug("Remote file does not exist.", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		return
	}

	path := rawURL
	if u, perr := url.Parse(rawURL); perr == nil {
		path = u.Path
	}
	el := element.New(schemas.ElementPath, rawURL, http.MethodGet, element.Input{Name: "path", Value: path})
	el.Auditor = a.check.Name()

	a.logger.Info("Remote file found.", zap.String("url", rawURL))
	a.log(ctx, a.NewIssue(el, resp))
}
