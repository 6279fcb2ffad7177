package artifacts

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	api.DisableConfigDir()
}

func pdfConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// ExtractPages builds a document holding exactly the 0-based page indices of
// src, in the order given.
func ExtractPages(src []byte, indices []int) ([]byte, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("extract pages: no pages selected")
	}
	n, err := api.PageCount(bytes.NewReader(src), pdfConf())
	if err != nil {
		return nil, fmt.Errorf("extract pages: count: %w", err)
	}
	selected := make([]string, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("extract pages: index %d out of range [0,%d)", idx, n)
		}
		selected[i] = strconv.Itoa(idx + 1)
	}

	var buf bytes.Buffer
	if err := api.Collect(bytes.NewReader(src), &buf, selected, pdfConf()); err != nil {
		return nil, fmt.Errorf("extract pages %v: %w", indices, err)
	}
	return buf.Bytes(), nil
}

// AppendPages returns existing followed by the given pages of src, in the
// order given. Existing pages keep their order; nothing is re-sorted.
func AppendPages(existing, src []byte, indices []int) ([]byte, error) {
	if len(indices) == 0 {
		return existing, nil
	}
	tail, err := ExtractPages(src, indices)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	parts := []io.ReadSeeker{bytes.NewReader(existing), bytes.NewReader(tail)}
	if err := api.MergeRaw(parts, &buf, false, pdfConf()); err != nil {
		return nil, fmt.Errorf("append pages %v: %w", indices, err)
	}
	return buf.Bytes(), nil
}

// PageCount returns the number of pages in data.
func PageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), pdfConf())
}
