// Package sync implements the synchronization engine: the decision logic
// that turns an inbound webhook delivery into at most one create operation
// on the opposite platform, guarded against duplicate deliveries and mirror
// loops. The engine is stateless; every fact it needs lives in the Mapping
// Store.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gitmirror/gitmirror/internal/gitee"
	"github.com/gitmirror/gitmirror/internal/github"
	"github.com/gitmirror/gitmirror/internal/storage"
	"github.com/gitmirror/gitmirror/internal/types"
)

// GiteePlatform is the slice of the Gitee adapter the engine consumes.
type GiteePlatform interface {
	VerifyWebhook(password string) bool
	CreateComment(ctx context.Context, owner, repo, issueNumber, body string) (*gitee.CommentResult, error)
}

// GitHubPlatform is the slice of the GitHub adapter the engine consumes.
type GitHubPlatform interface {
	VerifyWebhook(signatureHeader string, body []byte) bool
	CreateIssue(ctx context.Context, owner, repo, title, body string) (*github.IssueResult, error)
	CreateComment(ctx context.Context, owner, repo string, issueNumber int, body string) (*github.CommentResult, error)
}

// Engine orchestrates mirroring. All durable state lives in the store;
// each delivery is an independent unit of work.
type Engine struct {
	store  storage.Storage
	gitee  GiteePlatform
	github GitHubPlatform
}

// NewEngine wires the engine to its store and adapters.
func NewEngine(store storage.Storage, giteeClient GiteePlatform, githubClient GitHubPlatform) *Engine {
	return &Engine{store: store, gitee: giteeClient, github: githubClient}
}

// splitFullName splits an "owner/repo" path into its parts.
func splitFullName(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository path: %q", fullName)
	}
	return parts[0], parts[1], nil
}

// HandleGiteeWebhook processes one Gitee delivery. The raw body is parsed
// here because Gitee carries its authentication password inside the payload.
func (e *Engine) HandleGiteeWebhook(ctx context.Context, body []byte) Result {
	var event types.GiteeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		// Fail closed: an unparseable body cannot be authenticated.
		return fail(CodeAuthFailed, "gitee webhook verification failed: malformed payload")
	}
	if !e.gitee.VerifyWebhook(event.Password) {
		return fail(CodeAuthFailed, "gitee webhook verification failed")
	}

	eventID := giteeEventID(&event)
	processed, err := e.store.HasProcessedEvent(ctx, eventID, types.SourceGitee)
	if err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to check event ledger: %v", err))
	}
	if processed {
		return skip(CodeDuplicateEvent, "event already processed")
	}

	switch policyFor(types.SourceGitee, event.HookName, event.Action) {
	case actionMirrorIssue:
		return e.mirrorGiteeIssue(ctx, &event, eventID)
	case actionMirrorComment:
		return e.mirrorGiteeComment(ctx, &event, eventID)
	default:
		return skip(CodeUnsupportedEvent,
			fmt.Sprintf("unsupported event: %s %s", event.HookName, event.Action))
	}
}

// HandleGitHubWebhook processes one GitHub delivery. eventType and delivery
// come from the X-GitHub-Event and X-GitHub-Delivery headers, signature from
// X-Hub-Signature-256.
func (e *Engine) HandleGitHubWebhook(ctx context.Context, eventType, delivery, signature string, body []byte) Result {
	if !e.github.VerifyWebhook(signature, body) {
		return fail(CodeAuthFailed, "github webhook verification failed")
	}

	var event types.GitHubWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fail(CodeInvalidPayload, fmt.Sprintf("failed to parse github payload: %v", err))
	}

	eventID := githubEventID(delivery, eventType, &event)
	processed, err := e.store.HasProcessedEvent(ctx, eventID, types.SourceGitHub)
	if err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to check event ledger: %v", err))
	}
	if processed {
		return skip(CodeDuplicateEvent, "event already processed")
	}

	switch policyFor(types.SourceGitHub, eventType, event.Action) {
	case actionIssueDirection:
		// New issues are filed on Gitee and mirrored to GitHub, never the
		// reverse; comments flow both ways.
		return skip(CodeIssueDirection, "github issue creation is not mirrored")
	case actionMirrorComment:
		return e.mirrorGitHubComment(ctx, &event, eventID)
	default:
		return skip(CodeUnsupportedEvent,
			fmt.Sprintf("unsupported event: %s %s", eventType, event.Action))
	}
}

func (e *Engine) mirrorGiteeIssue(ctx context.Context, event *types.GiteeWebhookEvent, eventID string) Result {
	if event.Issue == nil {
		return fail(CodeInvalidPayload, "issue payload missing")
	}
	owner, repo, err := splitFullName(event.Repository.FullName)
	if err != nil {
		return fail(CodeInvalidPayload, err.Error())
	}

	repoMapping, err := e.store.GetRepositoryMappingByGitee(ctx, owner, repo)
	if err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to look up repository mapping: %v", err))
	}
	if repoMapping == nil {
		return fail(CodeUnmappedRepository,
			fmt.Sprintf("no repository mapping for %s/%s", owner, repo))
	}

	// Mirrored at most once: a prior delivery (or a concurrent one that
	// finished first) already created the counterpart.
	existing, err := e.store.GetIssueMappingByGitee(ctx, event.Issue.ID, repoMapping.ID)
	if err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to look up issue mapping: %v", err))
	}
	if existing != nil {
		return skip(CodeAlreadyMirrored,
			fmt.Sprintf("issue %d already mirrored as #%d", event.Issue.ID, existing.GitHubIssueNumber))
	}

	formatted := gitee.FormatIssueBody(event.Issue.Body, event.Issue.User.Login, event.Issue.HTMLURL)
	created, err := e.github.CreateIssue(ctx, repoMapping.GitHubOwner, repoMapping.GitHubRepo,
		event.Issue.Title, formatted)
	if err != nil {
		return fail(CodeRemoteWriteFailed, fmt.Sprintf("failed to mirror issue to github: %v", err))
	}

	mapping := &types.IssueMapping{
		GiteeIssueID:      event.Issue.ID,
		GiteeIssueNumber:  event.Issue.Number,
		GitHubIssueNumber: created.Number,
		RepositoryID:      repoMapping.ID,
		GiteeURL:          event.Issue.HTMLURL,
		GitHubURL:         created.HTMLURL,
	}
	if _, err := e.store.RecordIssueSync(ctx, mapping, eventID, types.EventKindIssueOpen, types.SourceGitee); err != nil {
		if errors.Is(err, storage.ErrMappingExists) {
			// Lost the race to a concurrent redelivery that recorded first.
			return skip(CodeAlreadyMirrored, "issue concurrently mirrored by another delivery")
		}
		return fail(CodeStorageFailed, fmt.Sprintf("failed to record issue mapping: %v", err))
	}

	return ok(fmt.Sprintf("mirrored issue to github: %s", created.HTMLURL))
}

func (e *Engine) mirrorGiteeComment(ctx context.Context, event *types.GiteeWebhookEvent, eventID string) Result {
	if event.Issue == nil || event.Comment == nil {
		return fail(CodeInvalidPayload, "issue or comment payload missing")
	}
	owner, repo, err := splitFullName(event.Repository.FullName)
	if err != nil {
		return fail(CodeInvalidPayload, err.Error())
	}

	repoMapping, err := e.store.GetRepositoryMappingByGitee(ctx, owner, repo)
	if err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to look up repository mapping: %v", err))
	}
	if repoMapping == nil {
		return fail(CodeUnmappedRepository,
			fmt.Sprintf("no repository mapping for %s/%s", owner, repo))
	}

	issueMapping, err := e.store.GetIssueMappingByGitee(ctx, event.Issue.ID, repoMapping.ID)
	if err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to look up issue mapping: %v", err))
	}
	if issueMapping == nil {
		return fail(CodeUnmappedIssue,
			fmt.Sprintf("no issue mapping for gitee issue %d", event.Issue.ID))
	}

	// Loop guard: a comment on Gitee that carries GitHub's mirror banner was
	// itself produced by a previous mirroring operation arriving back.
	if strings.Contains(event.Comment.Body, github.CommentMarker) {
		return skip(CodeLoopSkipped, "comment is a mirror from github, not re-mirrored")
	}

	formatted := gitee.FormatCommentBody(event.Comment.Body, event.Comment.User.Login)
	created, err := e.github.CreateComment(ctx, repoMapping.GitHubOwner, repoMapping.GitHubRepo,
		issueMapping.GitHubIssueNumber, formatted)
	if err != nil {
		return fail(CodeRemoteWriteFailed, fmt.Sprintf("failed to mirror comment to github: %v", err))
	}

	mapping := &types.CommentMapping{
		GiteeCommentID:  &event.Comment.ID,
		GitHubCommentID: &created.ID,
		IssueMappingID:  issueMapping.ID,
	}
	if _, err := e.store.RecordCommentSync(ctx, mapping, eventID, types.EventKindCommentCreate, types.SourceGitee); err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to record comment mapping: %v", err))
	}

	return ok("mirrored gitee comment to github")
}

func (e *Engine) mirrorGitHubComment(ctx context.Context, event *types.GitHubWebhookEvent, eventID string) Result {
	if event.Issue == nil || event.Comment == nil {
		return fail(CodeInvalidPayload, "issue or comment payload missing")
	}
	owner, repo, err := splitFullName(event.Repository.FullName)
	if err != nil {
		return fail(CodeInvalidPayload, err.Error())
	}

	repoMapping, err := e.store.GetRepositoryMappingByGitHub(ctx, owner, repo)
	if err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to look up repository mapping: %v", err))
	}
	if repoMapping == nil {
		return fail(CodeUnmappedRepository,
			fmt.Sprintf("no repository mapping for %s/%s", owner, repo))
	}

	issueMapping, err := e.store.GetIssueMappingByGitHub(ctx, event.Issue.Number, repoMapping.ID)
	if err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to look up issue mapping: %v", err))
	}
	if issueMapping == nil {
		return fail(CodeUnmappedIssue,
			fmt.Sprintf("no issue mapping for github issue #%d", event.Issue.Number))
	}

	if strings.Contains(event.Comment.Body, gitee.CommentMarker) {
		return skip(CodeLoopSkipped, "comment is a mirror from gitee, not re-mirrored")
	}

	// Gitee's comment API is keyed by the alphanumeric issue number, not the
	// native id; mappings created before that field existed cannot be
	// commented on.
	if issueMapping.GiteeIssueNumber == "" {
		return fail(CodeUnmappedIssue,
			fmt.Sprintf("issue mapping %d has no gitee issue number", issueMapping.ID))
	}

	formatted := github.FormatCommentBody(event.Comment.Body, event.Comment.User.Login)
	created, err := e.gitee.CreateComment(ctx, repoMapping.GiteeOwner, repoMapping.GiteeRepo,
		issueMapping.GiteeIssueNumber, formatted)
	if err != nil {
		return fail(CodeRemoteWriteFailed, fmt.Sprintf("failed to mirror comment to gitee: %v", err))
	}

	mapping := &types.CommentMapping{
		GiteeCommentID:  &created.ID,
		GitHubCommentID: &event.Comment.ID,
		IssueMappingID:  issueMapping.ID,
	}
	if _, err := e.store.RecordCommentSync(ctx, mapping, eventID, types.EventKindCommentCreate, types.SourceGitHub); err != nil {
		return fail(CodeStorageFailed, fmt.Sprintf("failed to record comment mapping: %v", err))
	}

	return ok("mirrored github comment to gitee")
}
