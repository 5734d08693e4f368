package interview

import "github.com/yoockh/jobdance/internal/models"

type OutcomeKind string

const (
	// OutcomePermanent: the session was persisted; Path is the stored report view.
	OutcomePermanent OutcomeKind = "permanent"
	// OutcomeTemporary: only the report exists; it lives in the ephemeral store.
	OutcomeTemporary OutcomeKind = "temporary"
	// OutcomeError: neither report nor persistence succeeded.
	OutcomeError OutcomeKind = "error"
	// OutcomeNone: the interview ended before anything was said.
	OutcomeNone OutcomeKind = "none"
)

const (
	WarningNotSaved     = "This report may not be saved. Download or copy it before leaving this page."
	WarningNoReport     = "Your interview was saved, but the feedback report could not be generated."
	ErrorMessageNothing = "We could not generate or save your interview. Your transcript is kept for this page session."
)

// Outcome is what the user sees once the interview is over.
type Outcome struct {
	Kind      OutcomeKind      `json:"kind"`
	Path      string           `json:"path,omitempty"`
	Warning   string           `json:"warning,omitempty"`
	Message   string           `json:"message,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Report    *models.Report   `json:"report,omitempty"`
	Messages  []models.Message `json:"messages,omitempty"`
}

func PermanentPath(sessionID string) string { return "/interview/report/" + sessionID }

func TemporaryPath(key string) string { return "/interview/report/temp/" + key }
