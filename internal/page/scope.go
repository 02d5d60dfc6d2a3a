package page

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var ignoredExtensions = map[string]struct{}{
	".css": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".woff": {}, ".woff2": {}, ".ico": {}, ".svg": {}, ".ttf": {}, ".eot": {},
}

var errOutOfScope = errors.New("out of scope")

// Scope bounds which URLs elements are extracted from.
type Scope struct {
	rootDomain        string
	includeSubdomains bool
}

// NewScope derives the scope from the target URL. Hosts are compared by
// registrable domain (eTLD+1); IP addresses and single-label hosts such as
// localhost must match exactly.
func NewScope(target string, includeSubdomains bool) (*Scope, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	hostname := u.Hostname()
	if hostname == "" {
		return nil, fmt.Errorf("target URL must have a hostname: %s", target)
	}

	root := hostname
	if net.ParseIP(hostname) == nil && strings.Contains(hostname, ".") {
		domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
		if err != nil {
			return nil, fmt.Errorf("could not determine effective TLD+1 for %s: %w", hostname, err)
		}
		root = domain
	}
	return &Scope{rootDomain: root, includeSubdomains: includeSubdomains}, nil
}

// Contains reports whether u belongs to the target domain, or one of its
// subdomains when they are included.
func (s *Scope) Contains(u *url.URL) bool {
	if s == nil {
		return true
	}
	host := u.Hostname()
	if host == s.rootDomain {
		return true
	}
	return s.includeSubdomains && strings.HasSuffix(host, "."+s.rootDomain)
}

// RootDomain returns the domain defining the scope.
func (s *Scope) RootDomain() string { return s.rootDomain }

// normalize resolves rawURL against base and drops anything that is not an
// in-scope HTTP resource worth auditing.
func normalize(rawURL string, base *url.URL, scope *Scope) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Fragment = ""

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if !scope.Contains(u) {
		return nil, fmt.Errorf("%w: %s", errOutOfScope, u)
	}

	host := u.Host
	if (u.Scheme == "http" && strings.HasSuffix(host, ":80")) || (u.Scheme == "https" && strings.HasSuffix(host, ":443")) {
		u.Host = u.Hostname()
	}
	if u.Path == "" {
		u.Path = "/"
	}

	ext := strings.ToLower(filepath.Ext(u.Path))
	if _, ignore := ignoredExtensions[ext]; ignore {
		return nil, fmt.Errorf("static asset ignored")
	}
	return u, nil
}
