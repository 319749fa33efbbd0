// Package export renders a spreadsheet preview as a PDF stamped with the
// document's review status.
package export

import (
	"errors"
	"time"

	"eurobansync/api/internal/preview"
)

// ApprovalLine is one entry of the review history printed under the table.
type ApprovalLine struct {
	VersionNumber int
	Status        string
	Reviewer      string
	Comments      string
	ReviewedAt    time.Time
}

// Request contains everything one export needs; the service performs no
// data access of its own.
type Request struct {
	Title         string
	DocumentType  string
	StatusLabel   string
	VersionNumber int
	FileName      string
	UploaderName  string
	Table         preview.Table
	Approvals     []ApprovalLine
	GeneratedAt   time.Time
	// Stamp is printed diagonally over every page; empty skips stamping.
	Stamp string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
