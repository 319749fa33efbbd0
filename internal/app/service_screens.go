package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/rbac"
	"eurobansync/api/internal/search"
	"eurobansync/api/internal/store"
	"eurobansync/api/internal/util"
	"eurobansync/api/internal/workflow"
)

const screenListLimit = 200

type Stats struct {
	Total            int `json:"total"`
	Pending          int `json:"pending"`
	Approved         int `json:"approved"`
	ChangesRequested int `json:"changesRequested"`
}

func computeStats(docs []store.Document) Stats {
	stats := Stats{Total: len(docs)}
	for _, doc := range docs {
		switch doc.Status {
		case workflow.StatusPendingReview:
			stats.Pending++
		case workflow.StatusApproved:
			stats.Approved++
		case workflow.StatusChangesRequested:
			stats.ChangesRequested++
		}
	}
	return stats
}

// overview loads the documents the caller may open plus their unread
// notifications.
func (s *Service) overview(ctx context.Context, principal rbac.Principal, filter store.DocumentFilter) ([]store.Document, []store.Notification, error) {
	var (
		docs   []store.Document
		unread []store.Notification
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = s.store.ListDocuments(gctx, principal.ID, filter)
		return err
	})
	g.Go(func() error {
		var err error
		unread, err = s.store.ListNotifications(gctx, principal.ID, true, 20)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	visible := docs[:0]
	for _, doc := range docs {
		if canView(principal, doc) {
			visible = append(visible, doc)
		}
	}
	return visible, unread, nil
}

func notificationsJSON(items []store.Notification) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, n := range items {
		out = append(out, notificationJSON(n))
	}
	return out
}

// Dashboard lists the documents the caller may open, newest first, with
// summary counts.
func (s *Service) Dashboard(ctx context.Context, principal rbac.Principal) (map[string]any, error) {
	docs, unread, err := s.overview(ctx, principal, store.DocumentFilter{Limit: screenListLimit})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"documents":     documentsJSON(docs),
		"stats":         computeStats(docs),
		"notifications": notificationsJSON(unread),
	}, nil
}

// Approvals is the executive queue: all documents plus the ones awaiting a
// decision.
func (s *Service) Approvals(ctx context.Context, principal rbac.Principal) (map[string]any, error) {
	docs, unread, err := s.overview(ctx, principal, store.DocumentFilter{Limit: screenListLimit})
	if err != nil {
		return nil, err
	}
	pending := make([]store.Document, 0)
	for _, doc := range docs {
		if doc.Status == workflow.StatusPendingReview {
			pending = append(pending, doc)
		}
	}
	return map[string]any{
		"documents":     documentsJSON(docs),
		"pending":       documentsJSON(pending),
		"stats":         computeStats(docs),
		"notifications": notificationsJSON(unread),
	}, nil
}

// InternalDocs is the approved archive.
func (s *Service) InternalDocs(ctx context.Context, principal rbac.Principal) (map[string]any, error) {
	docs, err := s.store.ListDocuments(ctx, principal.ID, store.DocumentFilter{Status: workflow.StatusApproved, Limit: screenListLimit})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"documents": documentsJSON(docs),
		"total":     len(docs),
	}, nil
}

// UploadScreen lists the caller's own documents and what may be uploaded.
func (s *Service) UploadScreen(ctx context.Context, principal rbac.Principal) (map[string]any, error) {
	docs, unread, err := s.overview(ctx, principal, store.DocumentFilter{UploadedBy: principal.ID, Limit: screenListLimit})
	if err != nil {
		return nil, err
	}
	types := make([]map[string]any, 0, len(workflow.DocumentTypes()))
	for _, t := range workflow.DocumentTypes() {
		types = append(types, map[string]any{"value": t, "label": t.Label()})
	}
	return map[string]any{
		"documents":         documentsJSON(docs),
		"notifications":     notificationsJSON(unread),
		"documentTypes":     types,
		"allowedExtensions": workflow.AllowedExtensions(),
		"maxUploadBytes":    s.cfg.MaxUploadBytes,
	}, nil
}

// SearchApproved runs a full-text query over approved documents.
func (s *Service) SearchApproved(ctx context.Context, principal rbac.Principal, text, documentType string, limit, offset int) search.Response {
	q := search.Query{
		Text:         trimmed(text),
		Status:       string(workflow.StatusApproved),
		DocumentType: trimmed(documentType),
		Limit:        limit,
		Offset:       offset,
		Actor:        principal.ID,
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Engine: "none"}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) Notifications(ctx context.Context, principal rbac.Principal, unreadOnly bool, limit int) ([]map[string]any, error) {
	items, err := s.store.ListNotifications(ctx, principal.ID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	return notificationsJSON(items), nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, principal rbac.Principal, notificationID string) error {
	if !util.IsUUID(notificationID) {
		return notFound("notification")
	}
	if err := s.store.MarkNotificationRead(ctx, principal.ID, notificationID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return notFound("notification")
		}
		return err
	}
	return nil
}
