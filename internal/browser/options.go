package browser

import (
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Defaults for Config.
const (
	DefaultNavigationTimeout = 90 * time.Second
	DefaultPostLoadWait      = 500 * time.Millisecond
)

// Config controls the headless browser used to replay DOM states.
type Config struct {
	Headless bool
	// ExecPath points at the browser binary. Empty lets chromedp search.
	ExecPath    string
	Args        []string
	UserDataDir string

	IgnoreTLSErrors   bool
	NavigationTimeout time.Duration
	// PostLoadWait is how long the page is given to settle after a
	// navigation or replayed event.
	PostLoadWait time.Duration
	// Headers are attached to every request the tab issues.
	Headers map[string]string
}

// ExecOptions builds the allocator options for cfg.
func ExecOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}
