package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var previewTemplate = template.Must(template.New("preview.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/preview.html"))

// RenderPreviewHTML renders the preview table page. Cell values are escaped.
func RenderPreviewHTML(req Request) (string, error) {
	var buf bytes.Buffer
	if err := previewTemplate.Execute(&buf, req); err != nil {
		return "", err
	}
	return buf.String(), nil
}
