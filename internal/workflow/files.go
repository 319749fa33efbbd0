package workflow

import (
	"fmt"
	"strings"

	"eurobansync/api/internal/apperr"
)

var allowedExtensions = []string{".xlsx", ".xls", ".csv"}

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
}

func AllowedExtensions() []string {
	return append([]string(nil), allowedExtensions...)
}

// Extension returns the lower-cased suffix after the last dot, including the
// dot, or "" when the name has none.
func Extension(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx:])
}

func ValidateFileName(fileName string) error {
	if strings.TrimSpace(fileName) == "" {
		return apperr.Validation("file is required")
	}
	ext := Extension(fileName)
	for _, allowed := range allowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return apperr.Validation("only Excel (.xlsx, .xls) and CSV (.csv) files are allowed").
		WithDetails(map[string]any{"fileName": fileName, "allowed": AllowedExtensions()})
}

func ContentType(fileName string) string {
	if ct, ok := contentTypes[Extension(fileName)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// SanitizeFileName keeps the original name readable while making it safe as
// a single path segment.
func SanitizeFileName(fileName string) string {
	name := strings.TrimSpace(fileName)
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// BlobPath is the locator of a version inside the documents bucket.
func BlobPath(documentID string, versionNumber int, fileName string) string {
	return fmt.Sprintf("%s_v%d_%s", documentID, versionNumber, SanitizeFileName(fileName))
}
