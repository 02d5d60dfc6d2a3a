package core

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// Check is the contract every audit check exposes to the dispatcher. The
// dispatcher reads it to decide which elements to visit and whether a
// finding may still be recorded.
type Check interface {
	Name() string
	Description() string
	Severity() schemas.Severity
	// Elements lists the element kinds the check audits by default. Empty
	// means the dispatcher's default order.
	Elements() []schemas.ElementKind
	// Preferred names checks whose findings this check defers to.
	Preferred() []string
	// MaxIssues is the ceiling on findings the check may register in one
	// scan. Zero means no ceiling of its own.
	MaxIssues() int
}

// CheckInfo is the static description of a check.
type CheckInfo struct {
	Name        string
	Description string
	Severity    schemas.Severity
	Elements    []schemas.ElementKind
	Preferred   []string
	MaxIssues   int
}

// BaseCheck provides a foundational implementation of the Check interface.
// It is intended to be embedded within specific check implementations.
type BaseCheck struct {
	info   CheckInfo
	Logger *zap.Logger // Exposed for use in specific check implementations.
}

// NewBaseCheck creates a BaseCheck with a logger named after the check.
func NewBaseCheck(info CheckInfo, logger *zap.Logger) *BaseCheck {
	if logger == nil {
		logger = zap.NewNop()
	}
	if info.Severity == "" {
		info.Severity = schemas.SeverityInfo
	}
	return &BaseCheck{
		info:   info,
		Logger: logger.Named(info.Name),
	}
}

func (b *BaseCheck) Name() string               { return b.info.Name }
func (b *BaseCheck) Description() string        { return b.info.Description }
func (b *BaseCheck) Severity() schemas.Severity { return b.info.Severity }
func (b *BaseCheck) MaxIssues() int             { return b.info.MaxIssues }

func (b *BaseCheck) Elements() []schemas.ElementKind {
	return append([]schemas.ElementKind(nil), b.info.Elements...)
}

func (b *BaseCheck) Preferred() []string {
	return append([]string(nil), b.info.Preferred...)
}
