// Package sqlite implements the Mapping Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gitmirror/gitmirror/internal/storage"
	"github.com/gitmirror/gitmirror/internal/types"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

// Store implements storage.Storage using SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

var _ storage.Storage = (*Store)(nil)

// setupWASMCache configures WASM compilation caching so the embedded SQLite
// engine is compiled once per machine instead of on every process start.
// Falls back to an in-memory cache if the filesystem cache cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "gitmirror", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// New opens (creating if necessary) a mapping database at path.
// ":memory:" yields a private shared-cache database for tests.
func New(path string) (*Store, error) {
	// For :memory: databases, use shared cache so multiple connections see
	// the same data. WAL mode doesn't work with shared in-memory databases,
	// so use DELETE mode there.
	var connStr string
	if path == ":memory:" {
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else if strings.HasPrefix(path, "file:") {
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite in-memory databases are isolated per connection by default;
	// force a single connection so the pool always sees the same data.
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	absPath := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	return &Store{db: db, dbPath: absPath}, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode() == sqlite3.CONSTRAINT_UNIQUE
}

// CreateRepositoryMapping inserts a repository correspondence. Either side's
// (owner, repo) pair being taken already yields storage.ErrMappingExists.
func (s *Store) CreateRepositoryMapping(ctx context.Context, m *types.RepositoryMapping) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO repository_mappings (gitee_owner, gitee_repo, github_owner, github_repo)
		VALUES (?, ?, ?, ?)
	`, m.GiteeOwner, m.GiteeRepo, m.GitHubOwner, m.GitHubRepo)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrMappingExists
		}
		return 0, fmt.Errorf("failed to insert repository mapping: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get repository mapping id: %w", err)
	}
	return id, nil
}

func (s *Store) getRepositoryMapping(ctx context.Context, where string, args ...any) (*types.RepositoryMapping, error) {
	var m types.RepositoryMapping
	// #nosec G202 - where is a fixed string chosen by the callers below
	err := s.db.QueryRowContext(ctx, `
		SELECT id, gitee_owner, gitee_repo, github_owner, github_repo, created_at
		FROM repository_mappings
		WHERE `+where, args...).Scan(
		&m.ID, &m.GiteeOwner, &m.GiteeRepo, &m.GitHubOwner, &m.GitHubRepo, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository mapping: %w", err)
	}
	return &m, nil
}

// GetRepositoryMappingByGitee resolves a mapping by its Gitee identity pair.
func (s *Store) GetRepositoryMappingByGitee(ctx context.Context, owner, repo string) (*types.RepositoryMapping, error) {
	return s.getRepositoryMapping(ctx, "gitee_owner = ? AND gitee_repo = ?", owner, repo)
}

// GetRepositoryMappingByGitHub resolves a mapping by its GitHub identity pair.
func (s *Store) GetRepositoryMappingByGitHub(ctx context.Context, owner, repo string) (*types.RepositoryMapping, error) {
	return s.getRepositoryMapping(ctx, "github_owner = ? AND github_repo = ?", owner, repo)
}

// ListRepositoryMappings returns all mappings, most recent first.
func (s *Store) ListRepositoryMappings(ctx context.Context) ([]*types.RepositoryMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gitee_owner, gitee_repo, github_owner, github_repo, created_at
		FROM repository_mappings
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repository mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []*types.RepositoryMapping
	for rows.Next() {
		var m types.RepositoryMapping
		if err := rows.Scan(&m.ID, &m.GiteeOwner, &m.GiteeRepo, &m.GitHubOwner, &m.GitHubRepo, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repository mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repository mappings: %w", err)
	}
	return mappings, nil
}

// DeleteRepositoryMapping removes a mapping, refusing while any issue
// mapping still references it.
func (s *Store) DeleteRepositoryMapping(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var inUse bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM issue_mappings WHERE repository_id = ?)`, id).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("failed to check dependent issue mappings: %w", err)
	}
	if inUse {
		return storage.ErrMappingInUse
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM repository_mappings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repository mapping: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) getIssueMapping(ctx context.Context, where string, args ...any) (*types.IssueMapping, error) {
	var m types.IssueMapping
	// #nosec G202 - where is a fixed string chosen by the callers below
	err := s.db.QueryRowContext(ctx, `
		SELECT id, gitee_issue_id, gitee_issue_number, github_issue_number,
		       repository_id, gitee_url, github_url, created_at
		FROM issue_mappings
		WHERE `+where, args...).Scan(
		&m.ID, &m.GiteeIssueID, &m.GiteeIssueNumber, &m.GitHubIssueNumber,
		&m.RepositoryID, &m.GiteeURL, &m.GitHubURL, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue mapping: %w", err)
	}
	return &m, nil
}

// GetIssueMappingByGitee resolves an issue mapping by Gitee's native issue id.
func (s *Store) GetIssueMappingByGitee(ctx context.Context, giteeIssueID, repositoryID int64) (*types.IssueMapping, error) {
	return s.getIssueMapping(ctx, "gitee_issue_id = ? AND repository_id = ?", giteeIssueID, repositoryID)
}

// GetIssueMappingByGitHub resolves an issue mapping by the GitHub issue number.
func (s *Store) GetIssueMappingByGitHub(ctx context.Context, githubIssueNumber int, repositoryID int64) (*types.IssueMapping, error) {
	return s.getIssueMapping(ctx, "github_issue_number = ? AND repository_id = ?", githubIssueNumber, repositoryID)
}

func (s *Store) getCommentMapping(ctx context.Context, where string, args ...any) (*types.CommentMapping, error) {
	var m types.CommentMapping
	var giteeID, githubID sql.NullInt64
	// #nosec G202 - where is a fixed string chosen by the callers below
	err := s.db.QueryRowContext(ctx, `
		SELECT id, gitee_comment_id, github_comment_id, issue_id, created_at
		FROM comment_mappings
		WHERE `+where, args...).Scan(
		&m.ID, &giteeID, &githubID, &m.IssueMappingID, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comment mapping: %w", err)
	}
	if giteeID.Valid {
		m.GiteeCommentID = &giteeID.Int64
	}
	if githubID.Valid {
		m.GitHubCommentID = &githubID.Int64
	}
	return &m, nil
}

// GetCommentMappingByGitee resolves a comment mapping by the Gitee comment id.
func (s *Store) GetCommentMappingByGitee(ctx context.Context, giteeCommentID, issueMappingID int64) (*types.CommentMapping, error) {
	return s.getCommentMapping(ctx, "gitee_comment_id = ? AND issue_id = ?", giteeCommentID, issueMappingID)
}

// GetCommentMappingByGitHub resolves a comment mapping by the GitHub comment id.
func (s *Store) GetCommentMappingByGitHub(ctx context.Context, githubCommentID, issueMappingID int64) (*types.CommentMapping, error) {
	return s.getCommentMapping(ctx, "github_comment_id = ? AND issue_id = ?", githubCommentID, issueMappingID)
}

// HasProcessedEvent reports whether a delivery has already been processed.
func (s *Store) HasProcessedEvent(ctx context.Context, eventID string, source types.Source) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM webhook_events WHERE event_id = ? AND source = ?)`,
		eventID, source).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return exists, nil
}

// MarkEventProcessed records a delivery in the ledger. Marking the same
// delivery twice is a no-op, so concurrent redeliveries cannot fail here.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string, source types.Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, source)
		VALUES (?, ?, ?)
		ON CONFLICT (event_id, source) DO NOTHING
	`, eventID, eventType, source)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// withImmediateTx runs fn inside an IMMEDIATE transaction on a dedicated
// connection. IMMEDIATE takes the write lock up front, serializing concurrent
// multi-statement write units. database/sql cannot express transaction modes
// through BeginTx, so BEGIN/COMMIT run as raw Exec on the same connection.
func (s *Store) withImmediateTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback happens even if ctx is canceled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// RecordIssueSync persists the issue mapping and the ledger entry as one
// transaction. A concurrent delivery that already mirrored the same issue
// surfaces as storage.ErrMappingExists; nothing is written in that case.
func (s *Store) RecordIssueSync(ctx context.Context, m *types.IssueMapping, eventID, eventType string, source types.Source) (int64, error) {
	var id int64
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			INSERT INTO issue_mappings (gitee_issue_id, gitee_issue_number, github_issue_number,
			                            repository_id, gitee_url, github_url)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.GiteeIssueID, m.GiteeIssueNumber, m.GitHubIssueNumber, m.RepositoryID, m.GiteeURL, m.GitHubURL)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrMappingExists
			}
			return fmt.Errorf("failed to insert issue mapping: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get issue mapping id: %w", err)
		}

		if _, err := conn.ExecContext(ctx, `
			INSERT INTO webhook_events (event_id, event_type, source)
			VALUES (?, ?, ?)
			ON CONFLICT (event_id, source) DO NOTHING
		`, eventID, eventType, source); err != nil {
			return fmt.Errorf("failed to record webhook event: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RecordCommentSync persists the comment mapping and the ledger entry as one
// transaction.
func (s *Store) RecordCommentSync(ctx context.Context, m *types.CommentMapping, eventID, eventType string, source types.Source) (int64, error) {
	var giteeID, githubID any
	if m.GiteeCommentID != nil {
		giteeID = *m.GiteeCommentID
	}
	if m.GitHubCommentID != nil {
		githubID = *m.GitHubCommentID
	}

	var id int64
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			INSERT INTO comment_mappings (gitee_comment_id, github_comment_id, issue_id)
			VALUES (?, ?, ?)
		`, giteeID, githubID, m.IssueMappingID)
		if err != nil {
			return fmt.Errorf("failed to insert comment mapping: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get comment mapping id: %w", err)
		}

		if _, err := conn.ExecContext(ctx, `
			INSERT INTO webhook_events (event_id, event_type, source)
			VALUES (?, ?, ?)
			ON CONFLICT (event_id, source) DO NOTHING
		`, eventID, eventType, source); err != nil {
			return fmt.Errorf("failed to record webhook event: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// IsClosed reports whether Close has been called.
func (s *Store) IsClosed() bool {
	return s.closed.Load()
}
