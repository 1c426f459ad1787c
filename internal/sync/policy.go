package sync

import "github.com/gitmirror/gitmirror/internal/types"

// action is what the engine does with a delivery once its kind is known.
type action int

const (
	// actionAcknowledge accepts the delivery without mirroring anything.
	actionAcknowledge action = iota
	// actionMirrorIssue creates the counterpart issue on the other platform.
	actionMirrorIssue
	// actionMirrorComment creates the counterpart comment on the other
	// platform.
	actionMirrorComment
	// actionIssueDirection acknowledges an issue-opened event that flows
	// against the configured direction: new issues are filed on Gitee only,
	// comments flow both ways.
	actionIssueDirection
)

type policyKey struct {
	source types.Source
	// event is the Gitee hook_name or the GitHub X-GitHub-Event value.
	event  string
	action string
}

// mirrorPolicy makes the direction asymmetry an explicit, testable table
// instead of control flow. Anything absent from the table is acknowledged
// and ignored.
var mirrorPolicy = map[policyKey]action{
	{types.SourceGitee, "issue_hooks", "open"}:     actionMirrorIssue,
	{types.SourceGitee, "issue_hooks", "comment"}:  actionMirrorComment,
	{types.SourceGitee, "note_hooks", "comment"}:   actionMirrorComment,
	{types.SourceGitHub, "issues", "opened"}:       actionIssueDirection,
	{types.SourceGitHub, "issue_comment", "created"}: actionMirrorComment,
}

// policyFor resolves the action for a delivery.
func policyFor(source types.Source, event, eventAction string) action {
	if a, found := mirrorPolicy[policyKey{source, event, eventAction}]; found {
		return a
	}
	return actionAcknowledge
}
