package app

import (
	"time"

	"eurobansync/api/internal/store"
)

func documentJSON(doc store.Document) map[string]any {
	return map[string]any{
		"id":                doc.ID,
		"title":             doc.Title,
		"description":       doc.Description,
		"documentType":      doc.DocumentType,
		"documentTypeLabel": doc.DocumentType.Label(),
		"currentVersion":    doc.CurrentVersion,
		"status":            doc.Status,
		"statusLabel":       doc.Status.Label(),
		"uploadedBy":        doc.UploadedBy,
		"uploaderName":      doc.UploaderName,
		"rowVersion":        doc.RowVersion,
		"createdAt":         doc.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":         doc.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func documentsJSON(docs []store.Document) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentJSON(doc))
	}
	return out
}

func versionJSON(v store.DocumentVersion) map[string]any {
	return map[string]any{
		"id":            v.ID,
		"documentId":    v.DocumentID,
		"versionNumber": v.VersionNumber,
		"fileName":      v.FileName,
		"fileSize":      v.FileSize,
		"uploadedBy":    v.UploadedBy,
		"uploaderName":  v.UploaderName,
		"notes":         v.Notes,
		"createdAt":     v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func versionsJSON(versions []store.DocumentVersion) []map[string]any {
	out := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionJSON(v))
	}
	return out
}

func approvalJSON(a store.Approval) map[string]any {
	item := map[string]any{
		"id":            a.ID,
		"documentId":    a.DocumentID,
		"versionNumber": a.VersionNumber,
		"requestedBy":   a.RequestedBy,
		"reviewedBy":    a.ReviewedBy,
		"reviewerName":  a.ReviewerName,
		"status":        a.Status,
		"statusLabel":   a.Status.Label(),
		"comments":      a.Comments,
		"requestedAt":   a.RequestedAt.UTC().Format(time.RFC3339),
		"reviewedAt":    nil,
	}
	if a.ReviewedAt != nil {
		item["reviewedAt"] = a.ReviewedAt.UTC().Format(time.RFC3339)
	}
	return item
}

func approvalsJSON(approvals []store.Approval) []map[string]any {
	out := make([]map[string]any, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, approvalJSON(a))
	}
	return out
}

func notificationJSON(n store.Notification) map[string]any {
	item := map[string]any{
		"id":         n.ID,
		"type":       n.Type,
		"title":      n.Title,
		"message":    n.Message,
		"documentId": nil,
		"read":       n.Read,
		"createdAt":  n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.DocumentID != "" {
		item["documentId"] = n.DocumentID
	}
	return item
}
