// Package results holds the issues registered during a scan and exposes the
// issue-identifier set the audit dispatcher consults.
package results

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// DefaultBatchSize is how many new issues are buffered before they are persisted.
const DefaultBatchSize = 50

// Persister stores issues durably.
type Persister interface {
	PersistIssues(ctx context.Context, scanID string, issues []schemas.Issue) error
}

// KeyLoader returns the IDs and digests of issues stored for a scan.
type KeyLoader interface {
	IssueKeys(ctx context.Context, scanID string) (ids, digests []string, err error)
}

// Config configures a Registry.
type Config struct {
	ScanID string
	// Persister is optional. Without it issues are kept in memory only.
	Persister Persister
	BatchSize int
	Logger    *zap.Logger
}

// Registry is the results sink. It drops issues whose ID it has already seen
// and remembers both IDs and digests for HasIssue. It is safe for concurrent
// use; HasIssue takes only a read lock.
type Registry struct {
	scanID    string
	persister Persister
	batchSize int
	logger    *zap.Logger

	mu      sync.RWMutex
	ids     map[string]struct{}
	digests map[string]struct{}
	issues  []schemas.Issue
	pending []schemas.Issue
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		scanID:    cfg.ScanID,
		persister: cfg.Persister,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger.Named("results"),
		ids:       make(map[string]struct{}),
		digests:   make(map[string]struct{}),
	}
}

// Register records the issues not seen before and persists them once a full
// batch is pending.
func (r *Registry) Register(ctx context.Context, issues []schemas.Issue) error {
	r.mu.Lock()
	added := 0
	for _, issue := range issues {
		if _, dup := r.ids[issue.ID]; dup {
			r.logger.Debug("Duplicate issue dropped.", zap.String("id", issue.ID))
			continue
		}
		r.ids[issue.ID] = struct{}{}
		if issue.Digest != "" {
			r.digests[issue.Digest] = struct{}{}
		}
		r.issues = append(r.issues, issue)
		if r.persister != nil {
			r.pending = append(r.pending, issue)
		}
		added++
	}
	var batch []schemas.Issue
	if len(r.pending) >= r.batchSize {
		batch, r.pending = r.pending, nil
	}
	r.mu.Unlock()

	if added > 0 {
		r.logger.Debug("Issues registered.", zap.Int("count", added))
	}
	return r.persist(ctx, batch)
}

// HasIssue reports whether id is the ID or the digest of a registered issue.
func (r *Registry) HasIssue(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.ids[id]; ok {
		return true
	}
	_, ok := r.digests[id]
	return ok
}

// Flush persists every pending issue.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	return r.persist(ctx, batch)
}

func (r *Registry) persist(ctx context.Context, batch []schemas.Issue) error {
	if len(batch) == 0 || r.persister == nil {
		return nil
	}
	if err := r.persister.PersistIssues(ctx, r.scanID, batch); err != nil {
		// Put the batch back so a later flush can retry it.
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return fmt.Errorf("persisting %d issues: %w", len(batch), err)
	}
	r.logger.Debug("Issues persisted.", zap.Int("count", len(batch)))
	return nil
}

// Preload seeds the identifier sets from issues stored by an earlier run of
// the same scan, so resumed checks skip what is already proven.
func (r *Registry) Preload(ctx context.Context, loader KeyLoader) error {
	ids, digests, err := loader.IssueKeys(ctx, r.scanID)
	if err != nil {
		return fmt.Errorf("preloading issue keys: %w", err)
	}
	r.mu.Lock()
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
	for _, d := range digests {
		if d != "" {
			r.digests[d] = struct{}{}
		}
	}
	r.mu.Unlock()
	r.logger.Info("Preloaded issue keys.", zap.Int("count", len(ids)))
	return nil
}

// Issues returns the registered issues, most severe first.
func (r *Registry) Issues() []schemas.Issue {
	r.mu.RLock()
	out := append([]schemas.Issue(nil), r.issues...)
	r.mu.RUnlock()
	Prioritize(out)
	return out
}

// Len returns the number of registered issues.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.issues)
}

// Reset forgets every issue, including pending ones.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.ids = make(map[string]struct{})
	r.digests = make(map[string]struct{})
	r.issues = nil
	r.pending = nil
	r.mu.Unlock()
}

// Prioritize sorts issues by severity, most severe first, then by check and URL.
func Prioritize(issues []schemas.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		ri, rj := issues[i].Severity.Rank(), issues[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		return issues[i].URL < issues[j].URL
	})
}
