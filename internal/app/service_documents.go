package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/blob"
	"eurobansync/api/internal/export"
	"eurobansync/api/internal/preview"
	"eurobansync/api/internal/rbac"
	"eurobansync/api/internal/store"
	"eurobansync/api/internal/util"
	"eurobansync/api/internal/workflow"
)

type UploadInput struct {
	Title          string
	Description    string
	DocumentType   string
	FileName       string
	Size           int64
	Content        io.Reader
	Notes          string
	IdempotencyKey string
}

type CreateDocumentInput struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	DocumentType string `json:"documentType"`
}

func (s *Service) validateUpload(in UploadInput) (workflow.DocumentType, error) {
	if trimmed(in.Title) == "" {
		return "", apperr.Validation("title is required")
	}
	docType, ok := workflow.ParseDocumentType(trimmed(in.DocumentType))
	if !ok {
		return "", apperr.Validation("unknown document type").
			WithDetails(map[string]any{"documentType": in.DocumentType, "allowed": workflow.DocumentTypes()})
	}
	if in.Content == nil || trimmed(in.FileName) == "" {
		return "", apperr.Validation("file is required")
	}
	if err := workflow.ValidateFileName(in.FileName); err != nil {
		return "", err
	}
	if in.Size <= 0 {
		return "", apperr.Validation("file is empty")
	}
	if limit := s.cfg.MaxUploadBytes; limit > 0 && in.Size > limit {
		return "", apperr.Validation("file is too large").
			WithDetails(map[string]any{"size": in.Size, "maxBytes": limit})
	}
	return docType, nil
}

// Upload stores a new version of the live document of the given type,
// creating the document on first upload. Nothing is written unless the whole
// upload commits.
func (s *Service) Upload(ctx context.Context, principal rbac.Principal, in UploadInput) (map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "app.Upload")
	defer span.End()

	docType, err := s.validateUpload(in)
	if err != nil {
		return nil, err
	}
	if !principal.Can(rbac.ActionUpload) {
		return nil, denied("upload documents")
	}
	span.SetAttributes(attribute.String("document.type", string(docType)), attribute.Int64("file.size", in.Size))

	var written string
	result, err := s.store.AppendVersion(ctx, principal.ID, store.AppendVersionParams{
		DocumentType:   docType,
		Title:          trimmed(in.Title),
		Description:    trimmed(in.Description),
		FileName:       trimmed(in.FileName),
		FileSize:       in.Size,
		Notes:          trimmed(in.Notes),
		UploadedBy:     principal.ID,
		UploaderName:   principal.DisplayName(),
		IdempotencyKey: trimmed(in.IdempotencyKey),
	}, func(ctx context.Context, path string) error {
		err := s.blobs.Put(ctx, path, in.Content, in.Size, workflow.ContentType(in.FileName))
		if errors.Is(err, blob.ErrExists) {
			return apperr.Conflict("CONFLICT", "a file is already stored for this version")
		}
		if err != nil {
			return remote("store uploaded file", err)
		}
		written = path
		return nil
	})
	if err != nil {
		if written != "" {
			s.removeBlob(ctx, written)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return nil, err
	}

	if !result.Replayed {
		s.dispatch(result.Notifications...)
		s.index(result.Document)
		s.log.Info("version uploaded",
			"document_id", result.Document.ID,
			"version", result.Version.VersionNumber,
			"user_id", principal.ID,
			"created", result.Created,
			"notified", len(result.Notifications),
		)
	}
	span.SetAttributes(attribute.String("document.id", result.Document.ID), attribute.Int("document.version", result.Version.VersionNumber))

	return map[string]any{
		"document": documentJSON(result.Document),
		"version":  versionJSON(result.Version),
		"created":  result.Created,
		"replayed": result.Replayed,
	}, nil
}

// CreateDraft opens an empty document slot that later uploads fill.
func (s *Service) CreateDraft(ctx context.Context, principal rbac.Principal, in CreateDocumentInput) (map[string]any, error) {
	if trimmed(in.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	docType, ok := workflow.ParseDocumentType(trimmed(in.DocumentType))
	if !ok {
		return nil, apperr.Validation("unknown document type")
	}
	if !principal.Can(rbac.ActionCreateDraft) {
		return nil, denied("create documents")
	}
	doc, err := s.store.CreateDocument(ctx, principal.ID, store.NewDocument{
		Title:        trimmed(in.Title),
		Description:  trimmed(in.Description),
		DocumentType: docType,
		UploadedBy:   principal.ID,
	})
	if err != nil {
		return nil, err
	}
	s.index(doc)
	return documentJSON(doc), nil
}

// canView mirrors who may open a document: reviewers any, browsers of the
// approved archive approved ones, uploaders their own.
func canView(principal rbac.Principal, doc store.Document) bool {
	switch {
	case principal.Can(rbac.ActionReview):
		return true
	case doc.UploadedBy == principal.ID:
		return true
	case principal.Can(rbac.ActionBrowseApproved) && doc.Status == workflow.StatusApproved:
		return true
	}
	return false
}

func (s *Service) visibleDocument(ctx context.Context, principal rbac.Principal, documentID string) (store.Document, error) {
	if !util.IsUUID(documentID) {
		return store.Document{}, notFound("document")
	}
	doc, err := s.store.GetDocument(ctx, principal.ID, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if !canView(principal, doc) {
		return store.Document{}, notFound("document")
	}
	return doc, nil
}

func (s *Service) resolveVersion(ctx context.Context, principal rbac.Principal, doc store.Document, versionNumber int) (store.DocumentVersion, error) {
	var (
		v   store.DocumentVersion
		err error
	)
	if versionNumber <= 0 {
		v, err = s.store.LatestVersion(ctx, principal.ID, doc.ID)
	} else {
		v, err = s.store.GetVersion(ctx, principal.ID, doc.ID, versionNumber)
	}
	if apperr.Is(err, apperr.KindNotFound) {
		return store.DocumentVersion{}, notFound("version")
	}
	return v, err
}

// DocumentDetail returns a document with its versions and review history.
func (s *Service) DocumentDetail(ctx context.Context, principal rbac.Principal, documentID string) (map[string]any, error) {
	doc, err := s.visibleDocument(ctx, principal, documentID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, principal.ID, doc.ID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, principal.ID, doc.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"document":  documentJSON(doc),
		"versions":  versionsJSON(versions),
		"approvals": approvalsJSON(approvals),
		"canReview": principal.Can(rbac.ActionReview) && doc.Status == workflow.StatusPendingReview,
	}, nil
}

func (s *Service) Versions(ctx context.Context, principal rbac.Principal, documentID string) ([]map[string]any, error) {
	doc, err := s.visibleDocument(ctx, principal, documentID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, principal.ID, doc.ID)
	if err != nil {
		return nil, err
	}
	return versionsJSON(versions), nil
}

// OpenVersionFile streams the stored file of a version. The caller closes
// the reader.
func (s *Service) OpenVersionFile(ctx context.Context, principal rbac.Principal, documentID string, versionNumber int) (io.ReadCloser, store.DocumentVersion, error) {
	doc, err := s.visibleDocument(ctx, principal, documentID)
	if err != nil {
		return nil, store.DocumentVersion{}, err
	}
	version, err := s.resolveVersion(ctx, principal, doc, versionNumber)
	if err != nil {
		return nil, store.DocumentVersion{}, err
	}
	rc, err := s.openBlob(ctx, version.FilePath)
	if err != nil {
		return nil, store.DocumentVersion{}, err
	}
	return rc, version, nil
}

type previewData struct {
	doc     store.Document
	version store.DocumentVersion
	table   preview.Table
}

func (s *Service) loadPreview(ctx context.Context, principal rbac.Principal, documentID string, versionNumber int) (previewData, error) {
	doc, err := s.visibleDocument(ctx, principal, documentID)
	if err != nil {
		return previewData{}, err
	}
	version, err := s.resolveVersion(ctx, principal, doc, versionNumber)
	if err != nil {
		return previewData{}, err
	}
	data, err := blob.ReadAll(ctx, s.blobs, version.FilePath, s.cfg.MaxUploadBytes)
	if errors.Is(err, blob.ErrNotFound) {
		return previewData{}, notFound("file")
	}
	if err != nil {
		return previewData{}, remote("read stored file", err)
	}
	table, err := preview.Decode(version.FileName, data)
	if err != nil {
		s.log.Warn("preview decode failed", "document_id", doc.ID, "version", version.VersionNumber, "error", err)
		return previewData{}, apperr.Decode("No se pudo leer el archivo", err).
			WithDetails(map[string]any{"fileName": version.FileName})
	}
	return previewData{doc: doc, version: version, table: table}, nil
}

// Preview decodes a stored spreadsheet into a table. versionNumber 0 means
// the latest version.
func (s *Service) Preview(ctx context.Context, principal rbac.Principal, documentID string, versionNumber int) (map[string]any, error) {
	data, err := s.loadPreview(ctx, principal, documentID, versionNumber)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"document": documentJSON(data.doc),
		"version":  versionJSON(data.version),
		"preview":  data.table,
	}, nil
}

// Export prints the preview of a version to PDF, stamped with the review
// outcome when there is one.
func (s *Service) Export(ctx context.Context, principal rbac.Principal, documentID string, versionNumber int) (*export.Result, error) {
	ctx, span := s.tracer.Start(ctx, "app.Export")
	defer span.End()

	if s.exporter == nil {
		return nil, export.ErrPDFDependencyMissing
	}
	data, err := s.loadPreview(ctx, principal, documentID, versionNumber)
	if err != nil {
		return nil, err
	}
	if !principal.Can(rbac.ActionExport) && data.doc.UploadedBy != principal.ID {
		return nil, denied("export documents")
	}
	approvals, err := s.store.ListApprovals(ctx, principal.ID, data.doc.ID)
	if err != nil {
		return nil, err
	}

	req := export.Request{
		Title:         data.doc.Title,
		DocumentType:  data.doc.DocumentType.Label(),
		StatusLabel:   data.doc.Status.Label(),
		VersionNumber: data.version.VersionNumber,
		FileName:      data.version.FileName,
		UploaderName:  data.version.UploaderName,
		Table:         data.table,
		GeneratedAt:   time.Now(),
	}
	for _, a := range approvals {
		line := export.ApprovalLine{
			VersionNumber: a.VersionNumber,
			Status:        a.Status.Label(),
			Reviewer:      a.ReviewerName,
			Comments:      a.Comments,
		}
		if a.ReviewedAt != nil {
			line.ReviewedAt = *a.ReviewedAt
		}
		req.Approvals = append(req.Approvals, line)
	}
	if data.version.VersionNumber == data.doc.CurrentVersion && data.doc.Status.IsDecision() {
		req.Stamp = data.doc.Status.Label()
	}

	result, err := s.exporter.Export(ctx, req)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, err
		}
		return nil, remote("render pdf", err)
	}
	return result, nil
}

// Reconcile moves a document's version pointer onto its highest stored
// version. It repairs documents whose pointer drifted before uploads became
// transactional.
func (s *Service) Reconcile(ctx context.Context, principal rbac.Principal, documentID string, rowVersion int64) (map[string]any, error) {
	if !principal.Can(rbac.ActionOverrideStatus) {
		return nil, denied("reconcile documents")
	}
	if !util.IsUUID(documentID) {
		return nil, notFound("document")
	}
	versions, err := s.store.ListVersions(ctx, principal.ID, documentID)
	if err != nil {
		return nil, err
	}
	latest := 0
	for _, v := range versions {
		if v.VersionNumber > latest {
			latest = v.VersionNumber
		}
	}
	if latest == 0 {
		return nil, apperr.Validation("document has no versions")
	}
	doc, err := s.store.IncrementVersion(ctx, principal.ID, documentID, latest, rowVersion)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", documentID, err)
	}
	s.index(doc)
	s.log.Info("document reconciled", "document_id", doc.ID, "version", latest, "user_id", principal.ID)
	return documentJSON(doc), nil
}
