// Package types defines the cross-reference entities and webhook payload
// shapes shared across the storage layer, the platform adapters, and the
// synchronization engine.
package types

import "time"

// Source identifies the platform a webhook delivery originated from.
type Source string

const (
	SourceGitee  Source = "gitee"
	SourceGitHub Source = "github"
)

// Event kinds recorded in the webhook ledger.
const (
	EventKindIssueOpen     = "issue_open"
	EventKindCommentCreate = "comment_create"
)

// RepositoryMapping declares a correspondence between a Gitee repository and a
// GitHub repository. All other cross-references hang off this root entity.
type RepositoryMapping struct {
	ID          int64     `json:"id"`
	GiteeOwner  string    `json:"gitee_owner"`
	GiteeRepo   string    `json:"gitee_repo"`
	GitHubOwner string    `json:"github_owner"`
	GitHubRepo  string    `json:"github_repo"`
	CreatedAt   time.Time `json:"created_at"`
}

// IssueMapping links one Gitee issue to its mirrored GitHub counterpart,
// scoped to a repository mapping. Rows are created once after a confirmed
// mirror and never updated or deleted.
type IssueMapping struct {
	ID int64 `json:"id"`
	// GiteeIssueID is Gitee's numeric native id.
	GiteeIssueID int64 `json:"gitee_issue_id"`
	// GiteeIssueNumber is the human-facing alphanumeric number (e.g. I42AB);
	// Gitee's comment API is keyed by this, not by the native id.
	GiteeIssueNumber  string    `json:"gitee_issue_number"`
	GitHubIssueNumber int       `json:"github_issue_number"`
	RepositoryID      int64     `json:"repository_id"`
	GiteeURL          string    `json:"gitee_url"`
	GitHubURL         string    `json:"github_url"`
	CreatedAt         time.Time `json:"created_at"`
}

// CommentMapping links a comment to its mirror, scoped to an issue mapping.
// The id of the side that did not originate the comment may be absent when
// that platform's API does not return one.
type CommentMapping struct {
	ID              int64     `json:"id"`
	GiteeCommentID  *int64    `json:"gitee_comment_id"`
	GitHubCommentID *int64    `json:"github_comment_id"`
	IssueMappingID  int64     `json:"issue_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// WebhookEvent is an idempotency ledger entry. (EventID, Source) is unique;
// a row exists only for deliveries whose mirroring action fully succeeded.
// Deterministic skips are not recorded, since replaying them is harmless.
type WebhookEvent struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Source      Source    `json:"source"`
	ProcessedAt time.Time `json:"processed_at"`
}

// User is the author shape shared by both platforms' payloads.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
}

// GiteeIssue is the issue object embedded in Gitee webhook payloads.
type GiteeIssue struct {
	ID int64 `json:"id"`
	// Number is Gitee's alphanumeric issue number, e.g. "I42AB".
	Number  string `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	User    User   `json:"user"`
}

// GiteeComment is the comment object embedded in Gitee webhook payloads.
type GiteeComment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url,omitempty"`
	User    User   `json:"user"`
}

// GiteeRepository identifies the repository a Gitee event refers to.
type GiteeRepository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Path     string `json:"path"`
}

// GiteeWebhookEvent is the top-level Gitee webhook payload. Gitee
// authenticates deliveries with a shared password field in the body.
type GiteeWebhookEvent struct {
	Action     string          `json:"action"`
	HookID     int64           `json:"hook_id"`
	HookName   string          `json:"hook_name"`
	Timestamp  string          `json:"timestamp"`
	Password   string          `json:"password,omitempty"`
	Issue      *GiteeIssue     `json:"issue,omitempty"`
	Comment    *GiteeComment   `json:"comment,omitempty"`
	Repository GiteeRepository `json:"repository"`
}

// GitHubIssue is the issue object embedded in GitHub webhook payloads.
type GitHubIssue struct {
	ID      int64  `json:"id"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	User    User   `json:"user"`
}

// GitHubComment is the comment object embedded in GitHub webhook payloads.
type GitHubComment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url,omitempty"`
	User    User   `json:"user"`
}

// GitHubRepository identifies the repository a GitHub event refers to.
type GitHubRepository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Name     string `json:"name"`
}

// GitHubWebhookEvent is the top-level GitHub webhook payload. The event name
// travels in the X-GitHub-Event header, the delivery id in X-GitHub-Delivery.
type GitHubWebhookEvent struct {
	Action     string           `json:"action"`
	Issue      *GitHubIssue     `json:"issue,omitempty"`
	Comment    *GitHubComment   `json:"comment,omitempty"`
	Repository GitHubRepository `json:"repository"`
}
