package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// issueColumns is the column order PersistIssues copies rows in.
var issueColumns = []string{
	"id", "digest", "scan_id", "check_name", "name", "severity",
	"url", "elem", "var", "method", "injected", "verification",
	"payload", "observed_at",
}

// Store persists issues to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// schemaSQL creates the issues table. The full issue is kept as JSON in
// payload; the other columns exist for lookups.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS issues (
    id           TEXT NOT NULL,
    digest       TEXT NOT NULL,
    scan_id      TEXT NOT NULL,
    check_name   TEXT NOT NULL,
    name         TEXT NOT NULL,
    severity     TEXT NOT NULL,
    url          TEXT NOT NULL,
    elem         TEXT NOT NULL,
    var          TEXT NOT NULL,
    method       TEXT NOT NULL,
    injected     TEXT NOT NULL,
    verification BOOLEAN NOT NULL,
    payload      JSONB NOT NULL,
    observed_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (scan_id, id)
);
CREATE INDEX IF NOT EXISTS issues_scan_digest_idx ON issues (scan_id, digest);
`

// Migrate creates the tables the store needs if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistIssues writes issues for scanID in a single transaction.
func (s *Store) PersistIssues(ctx context.Context, scanID string, issues []schemas.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(issues))
	for i, issue := range issues {
		payload, err := schemas.Marshal(issue)
		if err != nil {
			return fmt.Errorf("failed to encode issue %s: %w", issue.ID, err)
		}
		rows[i] = []interface{}{
			issue.ID, issue.Digest, scanID, issue.Check, issue.Name, string(issue.Severity),
			issue.URL, string(issue.Elem), issue.Var, issue.Method, issue.Injected, issue.Verification,
			payload, issue.ObservedAt.UTC(),
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"issues"}, issueColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy issues: %w", err)
	}
	if int(copyCount) != len(issues) {
		return fmt.Errorf("mismatch in copied issues count: expected %d, got %d", len(issues), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IssueKeys returns the IDs and digests of every issue stored for scanID.
func (s *Store) IssueKeys(ctx context.Context, scanID string) (ids, digests []string, err error) {
	rows, err := s.pool.Query(ctx, `SELECT id, digest FROM issues WHERE scan_id = $1;`, scanID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query issue keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, digest string
		if err := rows.Scan(&id, &digest); err != nil {
			return nil, nil, fmt.Errorf("failed to scan issue key row: %w", err)
		}
		ids = append(ids, id)
		digests = append(digests, digest)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return ids, digests, nil
}

// GetIssuesByScanID loads every issue stored for scanID, oldest first.
func (s *Store) GetIssuesByScanID(ctx context.Context, scanID string) ([]schemas.Issue, error) {
	query := `
        SELECT payload
        FROM issues
        WHERE scan_id = $1
        ORDER BY observed_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []schemas.Issue
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan issue row: %w", err)
		}
		var issue schemas.Issue
		if err := schemas.Unmarshal(payload, &issue); err != nil {
			return nil, fmt.Errorf("failed to decode issue payload: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return issues, nil
}

// DeleteScan removes every issue stored for scanID.
func (s *Store) DeleteScan(ctx context.Context, scanID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM issues WHERE scan_id = $1;`, scanID); err != nil {
		return fmt.Errorf("failed to delete issues: %w", err)
	}
	return nil
}
