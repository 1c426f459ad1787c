package sync

import (
	"fmt"

	"github.com/gitmirror/gitmirror/internal/types"
)

// giteeEventID synthesizes a delivery-stable identifier for a Gitee event.
// Gitee supplies no delivery id, so the identifier is built only from content
// that repeats identically on redelivery: hook id, action, and the issue and
// comment ids the event refers to. A clock reading must never participate,
// or every redelivery would defeat the idempotency ledger.
func giteeEventID(ev *types.GiteeWebhookEvent) string {
	id := fmt.Sprintf("gitee-%d-%s-%s", ev.HookID, ev.HookName, ev.Action)
	if ev.Issue != nil {
		id += fmt.Sprintf("-i%d", ev.Issue.ID)
	}
	if ev.Comment != nil {
		id += fmt.Sprintf("-c%d", ev.Comment.ID)
	}
	return id
}

// githubEventID prefers the X-GitHub-Delivery header, which GitHub
// guarantees unique per delivery and stable across redeliveries. When the
// header is absent the identifier falls back to the same content-derived
// scheme as Gitee.
func githubEventID(delivery, eventType string, ev *types.GitHubWebhookEvent) string {
	if delivery != "" {
		return delivery
	}
	id := fmt.Sprintf("github-%s-%s-r%d", eventType, ev.Action, ev.Repository.ID)
	if ev.Issue != nil {
		id += fmt.Sprintf("-i%d", ev.Issue.ID)
	}
	if ev.Comment != nil {
		id += fmt.Sprintf("-c%d", ev.Comment.ID)
	}
	return id
}
