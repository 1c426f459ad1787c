// Package storage defines the Mapping Store contract: durable cross-reference
// tables for repositories, issues, and comments, plus the webhook idempotency
// ledger. Lookups report absence as a nil value, never an error.
package storage

import (
	"context"
	"errors"

	"github.com/gitmirror/gitmirror/internal/types"
)

// ErrMappingExists is returned when creating a mapping that would violate a
// uniqueness constraint (duplicate repository pair, or an issue already
// mirrored by a concurrent delivery).
var ErrMappingExists = errors.New("mapping already exists")

// ErrMappingInUse is returned when deleting a repository mapping that still
// has dependent issue mappings.
var ErrMappingInUse = errors.New("repository mapping has dependent issue mappings")

// ErrNotFound is returned by mutations targeting a row that does not exist.
// Lookups never return it; they return nil instead.
var ErrNotFound = errors.New("not found")

// Storage is the Mapping Store. Implementations must be safe for concurrent
// use; the synchronization engine holds no state of its own.
type Storage interface {
	// Repository mappings. The two Get variants resolve the same row by
	// either platform's (owner, repo) identity.
	CreateRepositoryMapping(ctx context.Context, m *types.RepositoryMapping) (int64, error)
	GetRepositoryMappingByGitee(ctx context.Context, owner, repo string) (*types.RepositoryMapping, error)
	GetRepositoryMappingByGitHub(ctx context.Context, owner, repo string) (*types.RepositoryMapping, error)
	ListRepositoryMappings(ctx context.Context) ([]*types.RepositoryMapping, error)
	DeleteRepositoryMapping(ctx context.Context, id int64) error

	// Issue mappings, scoped to a repository mapping.
	GetIssueMappingByGitee(ctx context.Context, giteeIssueID, repositoryID int64) (*types.IssueMapping, error)
	GetIssueMappingByGitHub(ctx context.Context, githubIssueNumber int, repositoryID int64) (*types.IssueMapping, error)

	// Comment mappings, scoped to an issue mapping.
	GetCommentMappingByGitee(ctx context.Context, giteeCommentID, issueMappingID int64) (*types.CommentMapping, error)
	GetCommentMappingByGitHub(ctx context.Context, githubCommentID, issueMappingID int64) (*types.CommentMapping, error)

	// Idempotency ledger.
	HasProcessedEvent(ctx context.Context, eventID string, source types.Source) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string, source types.Source) error

	// Atomic units: mapping row and ledger row are committed together so a
	// crash can never mark an event processed without its cross-reference.
	RecordIssueSync(ctx context.Context, m *types.IssueMapping, eventID, eventType string, source types.Source) (int64, error)
	RecordCommentSync(ctx context.Context, m *types.CommentMapping, eventID, eventType string, source types.Source) (int64, error)

	Close() error
}
