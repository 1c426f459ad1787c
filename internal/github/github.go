// Package github is the GitHub platform adapter: HMAC webhook verification,
// the two remote write operations, and attribution-banner formatting for
// content mirrored out of GitHub.
package github

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Marker strings embedded in every banner this adapter produces. The
// synchronization engine's loop guard tests for these verbatim, so they must
// never change without updating the guard.
const (
	IssueMarker   = "🤖 This issue was mirrored from GitHub by gitmirror"
	CommentMarker = "🤖 This comment was mirrored from GitHub by gitmirror"
)

// DefaultAPIBaseURL is GitHub's public REST endpoint.
const DefaultAPIBaseURL = "https://api.github.com"

// Config carries the credentials and endpoint for one GitHub client.
type Config struct {
	Token         string
	APIBaseURL    string
	WebhookSecret string
	Timeout       time.Duration
}

// Client talks to GitHub's REST API and validates GitHub webhook deliveries.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client

	mu            sync.RWMutex
	webhookSecret string
}

// NewClient builds a GitHub client from explicit configuration.
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
		baseURL:       strings.TrimRight(baseURL, "/"),
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// UpdateWebhookSecret replaces the HMAC secret, for config reloads without a
// restart.
func (c *Client) UpdateWebhookSecret(secret string) {
	c.mu.Lock()
	c.webhookSecret = secret
	c.mu.Unlock()
}

// VerifyWebhook checks the X-Hub-Signature-256 header against the raw
// delivery body. Fail-closed: missing secret, missing or malformed header,
// or a digest mismatch all reject the delivery.
func (c *Client) VerifyWebhook(signatureHeader string, body []byte) bool {
	c.mu.RLock()
	secret := c.webhookSecret
	c.mu.RUnlock()
	if secret == "" {
		return false
	}

	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}
	got, err := hex.DecodeString(signatureHeader[len(prefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// IssueResult is the adapter's view of a created GitHub issue.
type IssueResult struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// CommentResult is the adapter's view of a created GitHub comment.
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
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github returned %d: %s", resp.StatusCode, string(detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode github response: %w", err)
		}
	}
	return nil
}

// CreateIssue files a new issue in owner/repo.
func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string) (*IssueResult, error) {
	payload := map[string]string{
		"title": title,
		"body":  body,
	}
	var result IssueResult
	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.do(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, fmt.Errorf("failed to create github issue: %w", err)
	}
	return &result, nil
}

// CreateComment posts a comment on issue issueNumber in owner/repo.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, issueNumber int, body string) (*CommentResult, error) {
	payload := map[string]string{"body": body}
	var result CommentResult
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments",
		url.PathEscape(owner), url.PathEscape(repo), issueNumber)
	if err := c.do(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, fmt.Errorf("failed to create github comment: %w", err)
	}
	return &result, nil
}

// FormatIssueBody appends the attribution banner for an issue mirrored out
// of GitHub.
func FormatIssueBody(body, author, issueURL string) string {
	return fmt.Sprintf("%s\n\n---\n> %s | original author: [%s](https://github.com/%s) | original issue: %s",
		body, IssueMarker, author, author, issueURL)
}

// FormatCommentBody appends the attribution banner for a comment mirrored
// out of GitHub.
func FormatCommentBody(body, author string) string {
	return fmt.Sprintf("%s\n\n---\n> %s | original author: [%s](https://github.com/%s)",
		body, CommentMarker, author, author)
}
