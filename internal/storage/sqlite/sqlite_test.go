package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/gitmirror/gitmirror/internal/storage"
	"github.com/gitmirror/gitmirror/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestRepoMapping(t *testing.T, store *Store) int64 {
	t.Helper()
	id, err := store.CreateRepositoryMapping(context.Background(), &types.RepositoryMapping{
		GiteeOwner:  "alice",
		GiteeRepo:   "widgets",
		GitHubOwner: "alice-hub",
		GitHubRepo:  "widgets",
	})
	if err != nil {
		t.Fatalf("failed to create repository mapping: %v", err)
	}
	return id
}

func TestRepositoryMappingLookupBothSides(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := createTestRepoMapping(t, store)

	byGitee, err := store.GetRepositoryMappingByGitee(ctx, "alice", "widgets")
	if err != nil {
		t.Fatalf("lookup by gitee failed: %v", err)
	}
	if byGitee == nil {
		t.Fatal("expected mapping by gitee identity, got nil")
	}
	byGitHub, err := store.GetRepositoryMappingByGitHub(ctx, "alice-hub", "widgets")
	if err != nil {
		t.Fatalf("lookup by github failed: %v", err)
	}
	if byGitHub == nil {
		t.Fatal("expected mapping by github identity, got nil")
	}

	if diff := cmp.Diff(byGitee, byGitHub); diff != "" {
		t.Errorf("lookups disagree (-gitee +github):\n%s", diff)
	}
	if byGitee.ID != id {
		t.Errorf("ID = %d, want %d", byGitee.ID, id)
	}
	if byGitee.CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}
}

func TestRepositoryMappingAbsentIsNil(t *testing.T) {
	store := newTestStore(t)

	m, err := store.GetRepositoryMappingByGitee(context.Background(), "nobody", "nothing")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil for absent mapping, got %+v", m)
	}
}

func TestRepositoryMappingDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createTestRepoMapping(t, store)

	// Same Gitee side, different GitHub side.
	_, err := store.CreateRepositoryMapping(ctx, &types.RepositoryMapping{
		GiteeOwner: "alice", GiteeRepo: "widgets",
		GitHubOwner: "other", GitHubRepo: "other",
	})
	if !errors.Is(err, storage.ErrMappingExists) {
		t.Errorf("duplicate gitee side: got %v, want ErrMappingExists", err)
	}

	// Same GitHub side, different Gitee side.
	_, err = store.CreateRepositoryMapping(ctx, &types.RepositoryMapping{
		GiteeOwner: "other", GiteeRepo: "other",
		GitHubOwner: "alice-hub", GitHubRepo: "widgets",
	})
	if !errors.Is(err, storage.ErrMappingExists) {
		t.Errorf("duplicate github side: got %v, want ErrMappingExists", err)
	}
}

func TestListRepositoryMappings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &types.RepositoryMapping{GiteeOwner: "a", GiteeRepo: "r1", GitHubOwner: "a", GitHubRepo: "r1"}
	second := &types.RepositoryMapping{GiteeOwner: "b", GiteeRepo: "r2", GitHubOwner: "b", GitHubRepo: "r2"}
	for _, m := range []*types.RepositoryMapping{first, second} {
		if _, err := store.CreateRepositoryMapping(ctx, m); err != nil {
			t.Fatalf("failed to create mapping: %v", err)
		}
	}

	got, err := store.ListRepositoryMappings(ctx)
	if err != nil {
		t.Fatalf("failed to list mappings: %v", err)
	}

	// Most recent first.
	want := []*types.RepositoryMapping{second, first}
	ignore := cmpopts.IgnoreFields(types.RepositoryMapping{}, "ID", "CreatedAt")
	if diff := cmp.Diff(want, got, ignore); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteRepositoryMapping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := createTestRepoMapping(t, store)

	if err := store.DeleteRepositoryMapping(ctx, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	m, err := store.GetRepositoryMappingByGitee(ctx, "alice", "widgets")
	if err != nil {
		t.Fatalf("lookup after delete failed: %v", err)
	}
	if m != nil {
		t.Errorf("mapping still present after delete: %+v", m)
	}

	if err := store.DeleteRepositoryMapping(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleting absent mapping: got %v, want ErrNotFound", err)
	}
}

func TestDeleteRepositoryMappingInUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := createTestRepoMapping(t, store)

	_, err := store.RecordIssueSync(ctx, &types.IssueMapping{
		GiteeIssueID:      100,
		GiteeIssueNumber:  "I42AB",
		GitHubIssueNumber: 7,
		RepositoryID:      repoID,
	}, "evt-1", types.EventKindIssueOpen, types.SourceGitee)
	if err != nil {
		t.Fatalf("failed to record issue sync: %v", err)
	}

	if err := store.DeleteRepositoryMapping(ctx, repoID); !errors.Is(err, storage.ErrMappingInUse) {
		t.Errorf("delete with dependent issues: got %v, want ErrMappingInUse", err)
	}

	// The guard must not have removed the row.
	m, err := store.GetRepositoryMappingByGitee(ctx, "alice", "widgets")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if m == nil {
		t.Error("mapping removed despite dependent issues")
	}
}

func TestRecordIssueSyncAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := createTestRepoMapping(t, store)

	id, err := store.RecordIssueSync(ctx, &types.IssueMapping{
		GiteeIssueID:      100,
		GiteeIssueNumber:  "I42AB",
		GitHubIssueNumber: 7,
		RepositoryID:      repoID,
		GiteeURL:          "https://gitee.com/alice/widgets/issues/I42AB",
		GitHubURL:         "https://github.com/alice-hub/widgets/issues/7",
	}, "evt-1", types.EventKindIssueOpen, types.SourceGitee)
	if err != nil {
		t.Fatalf("failed to record issue sync: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero issue mapping id")
	}

	// Both the mapping and the ledger row must be visible.
	byGitee, err := store.GetIssueMappingByGitee(ctx, 100, repoID)
	if err != nil {
		t.Fatalf("lookup by gitee failed: %v", err)
	}
	if byGitee == nil {
		t.Fatal("issue mapping not found by gitee id")
	}
	if byGitee.GiteeIssueNumber != "I42AB" {
		t.Errorf("GiteeIssueNumber = %q, want %q", byGitee.GiteeIssueNumber, "I42AB")
	}
	byGitHub, err := store.GetIssueMappingByGitHub(ctx, 7, repoID)
	if err != nil {
		t.Fatalf("lookup by github failed: %v", err)
	}
	if byGitHub == nil {
		t.Fatal("issue mapping not found by github number")
	}
	if diff := cmp.Diff(byGitee, byGitHub); diff != "" {
		t.Errorf("lookups disagree (-gitee +github):\n%s", diff)
	}

	processed, err := store.HasProcessedEvent(ctx, "evt-1", types.SourceGitee)
	if err != nil {
		t.Fatalf("failed to check ledger: %v", err)
	}
	if !processed {
		t.Error("ledger row missing after RecordIssueSync")
	}
}

func TestRecordIssueSyncDuplicateIssue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := createTestRepoMapping(t, store)

	mapping := &types.IssueMapping{
		GiteeIssueID: 100, GiteeIssueNumber: "I42AB", GitHubIssueNumber: 7, RepositoryID: repoID,
	}
	if _, err := store.RecordIssueSync(ctx, mapping, "evt-1", types.EventKindIssueOpen, types.SourceGitee); err != nil {
		t.Fatalf("first record failed: %v", err)
	}

	// A second delivery for the same Gitee issue loses the race.
	_, err := store.RecordIssueSync(ctx, &types.IssueMapping{
		GiteeIssueID: 100, GiteeIssueNumber: "I42AB", GitHubIssueNumber: 8, RepositoryID: repoID,
	}, "evt-2", types.EventKindIssueOpen, types.SourceGitee)
	if !errors.Is(err, storage.ErrMappingExists) {
		t.Fatalf("duplicate issue: got %v, want ErrMappingExists", err)
	}

	// The losing transaction must leave no ledger row behind.
	processed, err := store.HasProcessedEvent(ctx, "evt-2", types.SourceGitee)
	if err != nil {
		t.Fatalf("failed to check ledger: %v", err)
	}
	if processed {
		t.Error("losing delivery left a ledger row")
	}
}

func TestRecordCommentSync(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := createTestRepoMapping(t, store)

	issueID, err := store.RecordIssueSync(ctx, &types.IssueMapping{
		GiteeIssueID: 100, GiteeIssueNumber: "I42AB", GitHubIssueNumber: 7, RepositoryID: repoID,
	}, "evt-issue", types.EventKindIssueOpen, types.SourceGitee)
	if err != nil {
		t.Fatalf("failed to record issue sync: %v", err)
	}

	giteeCommentID := int64(555)
	githubCommentID := int64(777)
	if _, err := store.RecordCommentSync(ctx, &types.CommentMapping{
		GiteeCommentID:  &giteeCommentID,
		GitHubCommentID: &githubCommentID,
		IssueMappingID:  issueID,
	}, "evt-comment", types.EventKindCommentCreate, types.SourceGitee); err != nil {
		t.Fatalf("failed to record comment sync: %v", err)
	}

	byGitee, err := store.GetCommentMappingByGitee(ctx, 555, issueID)
	if err != nil {
		t.Fatalf("lookup by gitee failed: %v", err)
	}
	if byGitee == nil {
		t.Fatal("comment mapping not found by gitee id")
	}
	if byGitee.GitHubCommentID == nil || *byGitee.GitHubCommentID != 777 {
		t.Errorf("GitHubCommentID = %v, want 777", byGitee.GitHubCommentID)
	}
	byGitHub, err := store.GetCommentMappingByGitHub(ctx, 777, issueID)
	if err != nil {
		t.Fatalf("lookup by github failed: %v", err)
	}
	if byGitHub == nil {
		t.Fatal("comment mapping not found by github id")
	}
	if diff := cmp.Diff(byGitee, byGitHub); diff != "" {
		t.Errorf("lookups disagree (-gitee +github):\n%s", diff)
	}

	processed, err := store.HasProcessedEvent(ctx, "evt-comment", types.SourceGitee)
	if err != nil {
		t.Fatalf("failed to check ledger: %v", err)
	}
	if !processed {
		t.Error("ledger row missing after RecordCommentSync")
	}
}

func TestCommentMappingNullableSide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repoID := createTestRepoMapping(t, store)

	issueID, err := store.RecordIssueSync(ctx, &types.IssueMapping{
		GiteeIssueID: 100, GiteeIssueNumber: "I42AB", GitHubIssueNumber: 7, RepositoryID: repoID,
	}, "evt-issue", types.EventKindIssueOpen, types.SourceGitee)
	if err != nil {
		t.Fatalf("failed to record issue sync: %v", err)
	}

	githubCommentID := int64(777)
	if _, err := store.RecordCommentSync(ctx, &types.CommentMapping{
		GitHubCommentID: &githubCommentID,
		IssueMappingID:  issueID,
	}, "evt-comment", types.EventKindCommentCreate, types.SourceGitHub); err != nil {
		t.Fatalf("failed to record comment sync: %v", err)
	}

	m, err := store.GetCommentMappingByGitHub(ctx, 777, issueID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if m == nil {
		t.Fatal("comment mapping not found")
	}
	if m.GiteeCommentID != nil {
		t.Errorf("GiteeCommentID = %v, want nil", m.GiteeCommentID)
	}
}

func TestEventLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	processed, err := store.HasProcessedEvent(ctx, "evt-1", types.SourceGitee)
	if err != nil {
		t.Fatalf("failed to check ledger: %v", err)
	}
	if processed {
		t.Error("unseen event reported as processed")
	}

	if err := store.MarkEventProcessed(ctx, "evt-1", types.EventKindIssueOpen, types.SourceGitee); err != nil {
		t.Fatalf("failed to mark event: %v", err)
	}
	// Marking twice is a no-op, not an error.
	if err := store.MarkEventProcessed(ctx, "evt-1", types.EventKindIssueOpen, types.SourceGitee); err != nil {
		t.Fatalf("second mark failed: %v", err)
	}

	processed, err = store.HasProcessedEvent(ctx, "evt-1", types.SourceGitee)
	if err != nil {
		t.Fatalf("failed to check ledger: %v", err)
	}
	if !processed {
		t.Error("marked event not reported as processed")
	}

	// The same event id under a different source is a different delivery.
	processed, err = store.HasProcessedEvent(ctx, "evt-1", types.SourceGitHub)
	if err != nil {
		t.Fatalf("failed to check ledger: %v", err)
	}
	if processed {
		t.Error("event id leaked across sources")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	store, err := New(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	id := createTestRepoMapping(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
	if !store.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	m, err := reopened.GetRepositoryMappingByGitee(context.Background(), "alice", "widgets")
	if err != nil {
		t.Fatalf("lookup after reopen failed: %v", err)
	}
	if m == nil || m.ID != id {
		t.Errorf("mapping not persisted across reopen: %+v", m)
	}
}
