package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/rbac"
	"eurobansync/api/internal/store"
	"eurobansync/api/internal/util"
	"eurobansync/api/internal/workflow"
)

// DecisionInput carries the optional guards of a review decision.
// RowVersion is the document row version the reviewer saw; VersionNumber the
// version they reviewed. Zero skips either check.
type DecisionInput struct {
	Comments       string `json:"comments"`
	RowVersion     int64  `json:"rowVersion"`
	VersionNumber  int    `json:"versionNumber"`
	IdempotencyKey string `json:"-"`
}

func (s *Service) Approve(ctx context.Context, principal rbac.Principal, documentID string, in DecisionInput) (map[string]any, error) {
	return s.decide(ctx, principal, documentID, workflow.StatusApproved, in, false)
}

// RequestChanges sends the current version back to its uploader. Comments
// are mandatory.
func (s *Service) RequestChanges(ctx context.Context, principal rbac.Principal, documentID string, in DecisionInput) (map[string]any, error) {
	if trimmed(in.Comments) == "" {
		return nil, apperr.Validation("comments are required when requesting changes")
	}
	return s.decide(ctx, principal, documentID, workflow.StatusChangesRequested, in, false)
}

func (s *Service) Reject(ctx context.Context, principal rbac.Principal, documentID string, in DecisionInput) (map[string]any, error) {
	if trimmed(in.Comments) == "" {
		return nil, apperr.Validation("comments are required when rejecting")
	}
	return s.decide(ctx, principal, documentID, workflow.StatusRejected, in, false)
}

// OverrideStatus lets an admin replace the outcome of the current version.
// Only decision statuses can be set; draft and pending_review are derived.
func (s *Service) OverrideStatus(ctx context.Context, principal rbac.Principal, documentID, status string, in DecisionInput) (map[string]any, error) {
	next, ok := workflow.ParseStatus(trimmed(status))
	if !ok || !next.IsDecision() {
		return nil, apperr.Validation("status must be approved, changes_requested or rejected").
			WithDetails(map[string]any{"status": status})
	}
	if in.RowVersion <= 0 {
		return nil, apperr.Validation("rowVersion is required")
	}
	if !principal.Can(rbac.ActionOverrideStatus) {
		return nil, denied("override document status")
	}
	return s.decide(ctx, principal, documentID, next, in, true)
}

func (s *Service) decide(ctx context.Context, principal rbac.Principal, documentID string, status workflow.Status, in DecisionInput, override bool) (map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "app.Decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", documentID),
		attribute.String("decision.status", string(status)),
		attribute.Bool("decision.override", override),
	)

	if !override && !principal.Can(rbac.ActionReview) {
		return nil, denied("review documents")
	}
	if !util.IsUUID(documentID) {
		return nil, notFound("document")
	}
	result, err := s.store.RecordDecision(ctx, principal.ID, store.DecisionParams{
		DocumentID:         documentID,
		ReviewerID:         principal.ID,
		Status:             status,
		Comments:           trimmed(in.Comments),
		ExpectedRowVersion: in.RowVersion,
		ReviewedVersion:    in.VersionNumber,
		Override:           override,
		IdempotencyKey:     trimmed(in.IdempotencyKey),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		return nil, err
	}

	if !result.Replayed {
		if result.Notification != nil {
			s.dispatch(*result.Notification)
		}
		s.index(result.Document)
		s.log.Info("review decision recorded",
			"document_id", result.Document.ID,
			"version", result.Approval.VersionNumber,
			"status", status,
			"user_id", principal.ID,
			"override", override,
		)
	}

	return map[string]any{
		"document": documentJSON(result.Document),
		"approval": approvalJSON(result.Approval),
		"replayed": result.Replayed,
	}, nil
}
