package export

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const stampDescription = "font:Helvetica, points:60, rot:45, op:0.18, fillc:#0B3D91, scale:0.7 rel"

// stampPDF overlays text diagonally on every page.
func stampPDF(pdf []byte, text string) ([]byte, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	wm, err := api.TextWatermark(text, stampDescription, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("stamp description: %w", err)
	}
	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(pdf), &out, nil, wm, conf); err != nil {
		return nil, fmt.Errorf("stamp pdf: %w", err)
	}
	return out.Bytes(), nil
}
