package store

import (
	"context"
	"time"

	"eurobansync/api/internal/workflow"
)

// SystemActor runs a transaction with app.system set, bypassing row-level
// security for work the service performs on nobody's behalf.
const SystemActor = "system"

type Profile struct {
	ID           string
	FullName     string
	Email        string
	AvatarURL    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Document struct {
	ID             string
	Title          string
	Description    string
	DocumentType   workflow.DocumentType
	CurrentVersion int
	Status         workflow.Status
	UploadedBy     string
	UploaderName   string
	RowVersion     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type DocumentVersion struct {
	ID            string
	DocumentID    string
	VersionNumber int
	FilePath      string
	FileName      string
	FileSize      int64
	UploadedBy    string
	UploaderName  string
	Notes         string
	CreatedAt     time.Time
}

type Approval struct {
	ID            string
	DocumentID    string
	VersionNumber int
	RequestedBy   string
	ReviewedBy    string
	ReviewerName  string
	Status        workflow.Status
	Comments      string
	RequestedAt   time.Time
	ReviewedAt    *time.Time
}

type Notification struct {
	ID         string
	UserID     string
	Type       workflow.NotificationType
	Title      string
	Message    string
	DocumentID string
	Read       bool
	CreatedAt  time.Time
}

type NewDocument struct {
	Title        string
	Description  string
	DocumentType workflow.DocumentType
	UploadedBy   string
}

type DocumentFilter struct {
	Status       workflow.Status
	DocumentType workflow.DocumentType
	UploadedBy   string
	Limit        int
}

// BlobWriter stores the file of a version once its number is known. It runs
// inside the upload transaction; an error aborts the whole upload.
type BlobWriter func(ctx context.Context, path string) error

type AppendVersionParams struct {
	DocumentType   workflow.DocumentType
	Title          string
	Description    string
	FileName       string
	FileSize       int64
	Notes          string
	UploadedBy     string
	UploaderName   string
	IdempotencyKey string
}

type AppendVersionResult struct {
	Document      Document
	Version       DocumentVersion
	Created       bool
	Replayed      bool
	Notifications []Notification
}

type DecisionParams struct {
	DocumentID         string
	ReviewerID         string
	Status             workflow.Status
	Comments           string
	ExpectedRowVersion int64
	ReviewedVersion    int
	Override           bool
	IdempotencyKey     string
}

type DecisionResult struct {
	Document     Document
	Approval     Approval
	Notification *Notification
	Replayed     bool
}
