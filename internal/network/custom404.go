package network

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCustom404Threshold is the simhash distance under which two bodies are
// treated as the same not-found page.
const DefaultCustom404Threshold = 3

// notFoundSignature is what a site answers for a path that certainly does not exist.
type notFoundSignature struct {
	status int
	hash   uint64
	ok     bool
}

// custom404Detector learns, per directory and extension, what the site serves
// for missing resources and compares candidate responses against it.
type custom404Detector struct {
	client    *Client
	threshold int
	logger    *zap.Logger

	group      singleflight.Group
	mu         sync.RWMutex
	signatures map[string]notFoundSignature
}

func newCustom404Detector(client *Client, threshold int, logger *zap.Logger) *custom404Detector {
	if threshold <= 0 {
		threshold = DefaultCustom404Threshold
	}
	return &custom404Detector{
		client:     client,
		threshold:  threshold,
		logger:     logger.Named("custom404"),
		signatures: make(map[string]notFoundSignature),
	}
}

func (d *custom404Detector) isCustom404(ctx context.Context, resp *Response) bool {
	if resp == nil {
		return false
	}
	if resp.StatusCode == http.StatusNotFound {
		return true
	}

	u, err := url.Parse(resp.URL)
	if err != nil {
		return false
	}
	dir, ext := path.Dir(u.Path), path.Ext(u.Path)
	key := u.Scheme + "://" + u.Host + dir + "|" + ext

	sig := d.signature(ctx, key, u, dir, ext)
	if !sig.ok || sig.status != resp.StatusCode {
		return false
	}

	hash := Simhash(stripToken(resp.Body, path.Base(u.Path)))
	return HammingDistance(hash, sig.hash) <= d.threshold
}

func (d *custom404Detector) signature(ctx context.Context, key string, u *url.URL, dir, ext string) notFoundSignature {
	d.mu.RLock()
	sig, found := d.signatures[key]
	d.mu.RUnlock()
	if found {
		return sig
	}

	v, _, _ := d.group.Do(key, func() (interface{}, error) {
		token := uuid.NewString() + ext
		probe := *u
		probe.Path = path.Join(dir, token)
		probe.RawQuery = ""
		probe.Fragment = ""

		resp, err := d.client.Do(ctx, &Request{Method: http.MethodGet, URL: probe.String()})
		if err != nil {
			// Not cached: a transient failure should not poison the directory.
			d.logger.Debug("Could not fetch not-found baseline.", zap.String("url", probe.String()), zap.Error(err))
			return notFoundSignature{}, nil
		}
		sig := notFoundSignature{
			status: resp.StatusCode,
			hash:   Simhash(stripToken(resp.Body, token)),
			ok:     true,
		}
		d.mu.Lock()
		d.signatures[key] = sig
		d.mu.Unlock()
		return sig, nil
	})
	return v.(notFoundSignature)
}

// stripToken removes the requested file name from a body, since not-found
// pages commonly echo it back.
func stripToken(body, token string) string {
	if token == "" || token == "." || token == "/" {
		return body
	}
	return strings.ReplaceAll(body, token, "")
}

// Simhash computes a 64-bit locality-sensitive fingerprint of text: similar
// texts produce fingerprints with a small Hamming distance.
func Simhash(text string) uint64 {
	var v [64]int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		hash := murmur3.Sum64([]byte(word))
		for i := 0; i < 64; i++ {
			if (hash>>i)&1 == 1 {
				v[i]++
			} else {
				v[i]--
			}
		}
	}
	var fingerprint uint64
	for i := 0; i < 64; i++ {
		if v[i] > 0 {
			fingerprint |= 1 << i
		}
	}
	return fingerprint
}

// HammingDistance returns the number of differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	xor := a ^ b
	count := 0
	for xor != 0 {
		count++
		xor &= xor - 1
	}
	return count
}
