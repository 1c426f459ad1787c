// Package gitee is the Gitee platform adapter: webhook authenticity checks,
// the two remote write operations, and attribution-banner formatting for
// content mirrored out of Gitee.
package gitee

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Marker strings embedded in every banner this adapter produces. The
// synchronization engine's loop guard tests for these verbatim, so they must
// never change without updating the guard.
const (
	IssueMarker   = "🤖 This issue was mirrored from Gitee by gitmirror"
	CommentMarker = "🤖 This comment was mirrored from Gitee by gitmirror"
)

// DefaultAPIBaseURL is Gitee's public v5 REST endpoint.
const DefaultAPIBaseURL = "https://gitee.com/api/v5"

// Config carries the credentials and endpoint for one Gitee client.
type Config struct {
	Token         string
	APIBaseURL    string
	WebhookSecret string
	Timeout       time.Duration
}

// Client talks to Gitee's REST API and validates Gitee webhook deliveries.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client

	mu            sync.RWMutex
	webhookSecret string
}

// NewClient builds a Gitee client from explicit configuration.
func NewClient(cfg Config) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		token:         cfg.Token,
		baseURL:       baseURL,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// UpdateWebhookSecret replaces the shared webhook password, for config
// reloads without a restart.
func (c *Client) UpdateWebhookSecret(secret string) {
	c.mu.Lock()
	c.webhookSecret = secret
	c.mu.Unlock()
}

// VerifyWebhook checks the shared password field Gitee sends in every
// delivery body. Fail-closed: an empty configured secret or an empty
// delivered password never verifies.
func (c *Client) VerifyWebhook(password string) bool {
	c.mu.RLock()
	secret := c.webhookSecret
	c.mu.RUnlock()
	if secret == "" || password == "" {
		return false
	}
	return hmac.Equal([]byte(password), []byte(secret))
}

// IssueResult is the adapter's view of a created Gitee issue.
type IssueResult struct {
	// Number is Gitee's alphanumeric issue number, e.g. "I42AB".
	Number  string `json:"number"`
	HTMLURL string `json:"html_url"`
}

// CommentResult is the adapter's view of a created Gitee comment.
type CommentResult struct {
	ID int64 `json:"id"`
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gitee request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("gitee returned %d: %s", resp.StatusCode, string(detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode gitee response: %w", err)
		}
	}
	return nil
}

// CreateIssue files a new issue under owner. Gitee's create endpoint is
// scoped to the owner, with the repository named in the body.
func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string) (*IssueResult, error) {
	payload := map[string]string{
		"repo":  repo,
		"title": title,
		"body":  body,
	}
	var result IssueResult
	path := fmt.Sprintf("/repos/%s/issues", url.PathEscape(owner))
	if err := c.do(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, fmt.Errorf("failed to create gitee issue: %w", err)
	}
	return &result, nil
}

// CreateComment posts a comment on an existing issue. issueNumber is Gitee's
// alphanumeric number (not the native id).
func (c *Client) CreateComment(ctx context.Context, owner, repo, issueNumber, body string) (*CommentResult, error) {
	payload := map[string]string{"body": body}
	var result CommentResult
	path := fmt.Sprintf("/repos/%s/%s/issues/%s/comments",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(issueNumber))
	if err := c.do(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, fmt.Errorf("failed to create gitee comment: %w", err)
	}
	return &result, nil
}

// FormatIssueBody appends the attribution banner for an issue mirrored out of
// Gitee: original author, a link to their profile, and the source issue URL.
func FormatIssueBody(body, author, issueURL string) string {
	return fmt.Sprintf("%s\n\n---\n> %s | original author: [%s](https://gitee.com/%s) | original issue: %s",
		body, IssueMarker, author, author, issueURL)
}

// FormatCommentBody appends the attribution banner for a comment mirrored
// out of Gitee.
func FormatCommentBody(body, author string) string {
	return fmt.Sprintf("%s\n\n---\n> %s | original author: [%s](https://gitee.com/%s)",
		body, CommentMarker, author, author)
}
