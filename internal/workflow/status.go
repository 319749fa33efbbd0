// Package workflow holds the document lifecycle rules: which status a
// document is in, which decisions are legal, and how uploads are named.
package workflow

import (
	"fmt"

	"eurobansync/api/internal/apperr"
)

type Status string

const (
	StatusDraft            Status = "draft"
	StatusPendingReview    Status = "pending_review"
	StatusChangesRequested Status = "changes_requested"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
)

func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusDraft, StatusPendingReview, StatusChangesRequested, StatusApproved, StatusRejected:
		return s, true
	}
	return "", false
}

var statusLabels = map[Status]string{
	StatusDraft:            "Borrador",
	StatusPendingReview:    "Pendiente",
	StatusChangesRequested: "Cambios Solicitados",
	StatusApproved:         "Aprobado",
	StatusRejected:         "Rechazado",
}

// Label is the Spanish caption shown to users.
func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// IsDecision reports whether s can be recorded by a reviewer.
func (s Status) IsDecision() bool {
	return s == StatusApproved || s == StatusChangesRequested || s == StatusRejected
}

// Decision is the most recent review outcome recorded for a document.
type Decision struct {
	VersionNumber int
	Status        Status
}

// Project derives a document's status from its version pointer and its latest
// decision. A decision only counts while it still targets the current version.
func Project(currentVersion int, latest *Decision) Status {
	if currentVersion <= 0 {
		return StatusDraft
	}
	if latest == nil || latest.VersionNumber != currentVersion || !latest.Status.IsDecision() {
		return StatusPendingReview
	}
	return latest.Status
}

// CheckDecision validates that next may be recorded on a document whose
// projected status is current. Overrides skip the pending_review requirement.
func CheckDecision(current, next Status, override bool) error {
	if !next.IsDecision() {
		return apperr.Validation(fmt.Sprintf("status %q cannot be recorded as a decision", next))
	}
	if current == StatusDraft {
		return apperr.Conflict("INVALID_TRANSITION", "document has no version to review")
	}
	if override {
		return nil
	}
	if current != StatusPendingReview {
		return apperr.Conflict("INVALID_TRANSITION", fmt.Sprintf("document is %s; only pending_review documents can be decided", current)).
			WithDetails(map[string]any{"status": string(current)})
	}
	return nil
}
