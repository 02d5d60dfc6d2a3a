package audit

import (
	"sync"

	"github.com/google/uuid"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// SessionConfig is the scan policy a Session enforces.
type SessionConfig struct {
	// EnabledElements lists the element kinds the scan may audit. Empty
	// enables every kind.
	EnabledElements []schemas.ElementKind
	// DefaultMaxIssues applies to checks that declare no ceiling. Zero means
	// unlimited.
	DefaultMaxIssues int
	// MaxIssues overrides the ceiling of individual checks by name.
	MaxIssues map[string]int
}

// Session holds the state shared by every check of one scan run: which
// targets have been audited and how many issues each check has registered.
// It is safe for concurrent use.
type Session struct {
	id  string
	cfg SessionConfig

	enabled map[schemas.ElementKind]struct{}

	mu       sync.Mutex
	audited  map[string]struct{}
	counters map[string]int
}

// NewSession creates a session enforcing cfg.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		audited:  make(map[string]struct{}),
		counters: make(map[string]int),
	}
	if len(cfg.EnabledElements) > 0 {
		s.enabled = make(map[schemas.ElementKind]struct{}, len(cfg.EnabledElements))
		for _, k := range cfg.EnabledElements {
			s.enabled[k] = struct{}{}
		}
	}
	return s
}

// ID identifies the scan run.
func (s *Session) ID() string { return s.id }

// ElementEnabled reports whether the scan policy allows auditing kind.
func (s *Session) ElementEnabled(kind schemas.ElementKind) bool {
	if s.enabled == nil {
		return true
	}
	_, ok := s.enabled[kind]
	return ok
}

func auditKey(check, id string) string {
	return check + "-" + id
}

// MarkAudited records id under check and reports whether it was new. The
// membership test and the insert are one atomic step.
func (s *Session) MarkAudited(check, id string) bool {
	key := auditKey(check, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audited[key]; ok {
		return false
	}
	s.audited[key] = struct{}{}
	return true
}

// IsAudited reports whether id has been recorded under check.
func (s *Session) IsAudited(check, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.audited[auditKey(check, id)]
	return ok
}

// IssueCount returns how many issues check has registered.
func (s *Session) IssueCount(check string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[check]
}

// Ceiling resolves the issue ceiling for a check declaring declared: a
// configured override, else the declared value, else the session default.
func (s *Session) Ceiling(check string, declared int) int {
	if max, ok := s.cfg.MaxIssues[check]; ok {
		return max
	}
	if declared > 0 {
		return declared
	}
	return s.cfg.DefaultMaxIssues
}

// CeilingReached reports whether check may no longer register issues.
func (s *Session) CeilingReached(check string, ceiling int) bool {
	if ceiling <= 0 {
		return false
	}
	return s.IssueCount(check) >= ceiling
}

// reserve adds n to the counter of check unless the ceiling has already been
// reached. A batch that starts under the ceiling is admitted whole.
func (s *Session) reserve(check string, n, ceiling int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ceiling > 0 && s.counters[check] >= ceiling {
		return false
	}
	s.counters[check] += n
	return true
}

// Reset forgets every audited target and issue counter, ready for an
// independent scan run.
func (s *Session) Reset() {
	s.mu.Lock()
	s.audited = make(map[string]struct{})
	s.counters = make(map[string]int)
	s.mu.Unlock()
}
