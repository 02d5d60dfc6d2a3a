// Package browser drives a headless Chrome through chromedp to replay
// recorded DOM transitions and fingerprint the resulting documents.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/dom"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
)

var _ dom.Handle = (*Driver)(nil)

// ErrElementNotFound is returned when a replayed transition's target is not
// in the document.
var ErrElementNotFound = errors.New("browser: transition target not found")

const shutdownTimeout = 10 * time.Second

// Driver owns one browser tab. Operations run on the tab in the order they
// are issued; a Driver must not be shared by concurrent restores.
type Driver struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewDriver launches a browser and opens a tab. The browser lives until
// Close or until parent is canceled.
func NewDriver(parent context.Context, cfg Config, logger *zap.Logger, metrics *observability.Metrics) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.PostLoadWait < 0 {
		cfg.PostLoadWait = 0
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, ExecOptions(cfg)...)
	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Warnf),
	)

	// The first Run starts the browser.
	if err := chromedp.Run(tabCtx, headerActions(cfg.Headers)...); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	d := &Driver{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		logger:      logger.Named("browser"),
		metrics:     metrics,
	}
	d.logger.Info("Browser started.", zap.Bool("headless", cfg.Headless))
	return d, nil
}

// Navigate loads url and waits for the document to settle.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	opCtx, opCancel := CombineContext(d.ctx, ctx)
	defer opCancel()

	navCtx, navCancel := context.WithTimeout(opCtx, d.cfg.NavigationTimeout)
	defer navCancel()

	d.logger.Debug("Navigating.", zap.String("url", url))
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded && opCtx.Err() == nil {
			return fmt.Errorf("navigation timed out after %s: %w", d.cfg.NavigationTimeout, err)
		}
		if opCtx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", opCtx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return d.stabilize(opCtx)
}

// Replay fires t in the current document. Request transitions navigate.
func (d *Driver) Replay(ctx context.Context, t dom.Transition) error {
	if t.IsRequest() {
		return d.Navigate(ctx, t.Element())
	}
	script, err := dispatchScript(t)
	if err != nil {
		return err
	}

	opCtx, opCancel := CombineContext(d.ctx, ctx)
	defer opCancel()

	var found bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &found)); err != nil {
		if opCtx.Err() != nil {
			return fmt.Errorf("replay canceled: %w", opCtx.Err())
		}
		return fmt.Errorf("replaying %s: %w", t, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, t.Element())
	}
	return d.stabilize(opCtx)
}

// Digest fingerprints the current document.
func (d *Driver) Digest(ctx context.Context) (string, error) {
	opCtx, opCancel := CombineContext(d.ctx, ctx)
	defer opCancel()

	var outer string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &outer, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	return dom.DigestHTML(outer), nil
}

// Capture records the tab's current location and digest into st.
func (d *Driver) Capture(ctx context.Context, st *dom.State) error {
	opCtx, opCancel := CombineContext(d.ctx, ctx)
	defer opCancel()

	var location string
	if err := chromedp.Run(opCtx, chromedp.Location(&location)); err != nil {
		return fmt.Errorf("reading location: %w", err)
	}
	digest, err := d.Digest(opCtx)
	if err != nil {
		return err
	}
	st.SetURL(location)
	st.SetDigest(digest)
	return nil
}

// Restore brings the tab to st and reports whether the document reached
// matches the recorded digest. A restore that cannot be completed returns an
// error wrapping dom.ErrRestoreFailed.
func (d *Driver) Restore(ctx context.Context, st *dom.State, stepTimeout time.Duration) (bool, error) {
	if err := st.Restore(ctx, d, stepTimeout); err != nil {
		d.metrics.Restore("failed")
		d.logger.Warn("Could not restore DOM state.", zap.String("url", st.URL()), zap.Error(err))
		return false, err
	}

	want := st.Digest()
	if want == "" {
		d.metrics.Restore("restored")
		return true, nil
	}
	got, err := d.Digest(ctx)
	if err != nil {
		d.metrics.Restore("failed")
		return false, fmt.Errorf("%w: %v", dom.ErrRestoreFailed, err)
	}
	if got != want {
		d.metrics.Restore("diverged")
		d.logger.Debug("Restored DOM differs from the recorded state.", zap.String("url", st.URL()), zap.String("want", want), zap.String("got", got))
		return false, nil
	}
	d.metrics.Restore("restored")
	return true, nil
}

// Close shuts the browser down.
func (d *Driver) Close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(d.ctx) }()

	var err error
	select {
	case err = <-done:
	case <-shutdownCtx.Done():
		err = fmt.Errorf("browser shutdown timed out: %w", shutdownCtx.Err())
	}
	d.cancel()
	d.allocCancel()
	return err
}

// headerActions enables the network domain and installs extra request
// headers. It returns nothing when there are no headers to set.
func headerActions(headers map[string]string) []chromedp.Action {
	if len(headers) == 0 {
		return nil
	}
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(h),
	}
}

func (d *Driver) stabilize(ctx context.Context) error {
	stabCtx, cancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	defer cancel()

	if err := chromedp.Run(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}
	if d.cfg.PostLoadWait > 0 {
		if err := chromedp.Run(ctx, chromedp.Sleep(d.cfg.PostLoadWait)); err != nil {
			return err
		}
	}
	return nil
}

// dispatchScript returns the JavaScript firing t. It evaluates to false when
// the target does not exist. The page marker targets window.
func dispatchScript(t dom.Transition) (string, error) {
	target, err := schemas.Marshal(t.Element())
	if err != nil {
		return "", err
	}
	event, err := schemas.Marshal(strings.TrimPrefix(t.Event(), "on"))
	if err != nil {
		return "", err
	}
	pageTarget := t.Element() == dom.PageMarker

	return fmt.Sprintf(`(function(sel, ev, isPage) {
	var el = isPage ? window : document.querySelector(sel);
	if (!el) { return false; }
	if (ev === "click" && typeof el.click === "function") { el.click(); return true; }
	el.dispatchEvent(new Event(ev, {bubbles: true, cancelable: true}));
	return true;
})(%s, %s, %t)`, target, event, pageTarget), nil
}
