package sync

// Code classifies the outcome of processing one webhook delivery.
type Code string

const (
	// Failure codes. auth_failed and the unmapped_* codes are terminal;
	// remote_write_failed and storage_failed are transient and safe to
	// retry via redelivery because nothing was recorded.
	CodeAuthFailed         Code = "auth_failed"
	CodeInvalidPayload     Code = "invalid_payload"
	CodeUnmappedRepository Code = "unmapped_repository"
	CodeUnmappedIssue      Code = "unmapped_issue"
	CodeRemoteWriteFailed  Code = "remote_write_failed"
	CodeStorageFailed      Code = "storage_failed"

	// Successful no-op codes.
	CodeDuplicateEvent   Code = "duplicate_event"
	CodeLoopSkipped      Code = "loop_skipped"
	CodeAlreadyMirrored  Code = "already_mirrored"
	CodeIssueDirection   Code = "issue_direction"
	CodeUnsupportedEvent Code = "unsupported_event"
)

// Result is the structured outcome of one delivery. Every internal failure
// is converted into a Result at the engine boundary; nothing escapes as a
// panic or naked error.
type Result struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(message string) Result {
	return Result{Success: true, Message: message}
}

func skip(code Code, message string) Result {
	return Result{Success: true, Skipped: true, Code: code, Message: message}
}

func fail(code Code, cause string) Result {
	return Result{Success: false, Code: code, Error: cause}
}
