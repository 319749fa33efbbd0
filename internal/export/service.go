package export

import (
	"context"
	"fmt"
	"time"
)

// Service turns a decoded preview into a downloadable PDF.
type Service struct {
	chromePath string
	timeout    time.Duration
	render     func(ctx context.Context, html string) ([]byte, error)
	stamp      func(pdf []byte, text string) ([]byte, error)
}

// NewService creates an export service. chromePath may be empty to use the
// first Chrome found on PATH.
func NewService(chromePath string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Service{chromePath: chromePath, timeout: timeout, stamp: stampPDF}
	s.render = func(ctx context.Context, html string) ([]byte, error) {
		return chromePDF(ctx, s.chromePath, s.timeout, html)
	}
	return s
}

// Export renders req as HTML, prints it and stamps the status label.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.GeneratedAt.IsZero() {
		req.GeneratedAt = time.Now()
	}
	html, err := RenderPreviewHTML(req)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	pdf, err := s.render(ctx, html)
	if err != nil {
		return nil, err
	}
	if req.Stamp != "" {
		pdf, err = s.stamp(pdf, req.Stamp)
		if err != nil {
			return nil, err
		}
	}
	return &Result{
		Data:     pdf,
		Filename: fmt.Sprintf("%s_v%d.pdf", sanitizeFilename(req.Title), req.VersionNumber),
		MimeType: "application/pdf",
	}, nil
}
