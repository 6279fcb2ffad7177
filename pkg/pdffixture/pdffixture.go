// Package pdffixture builds small, well-formed PDFs in memory for tests.
// Each page gets its own MediaBox width so callers can tell pages apart after
// extraction by looking at page dimensions.
package pdffixture

import (
	"bytes"
	"fmt"
)

// PageHeight is the MediaBox height of every generated page.
const PageHeight = 400

// Build returns a PDF with one page per width, in order.
func Build(widths ...float64) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := ""
	for i := range widths {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(widths)))

	for i, w := range widths {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %d] /Contents %d 0 R /Resources << >> >>",
			w, PageHeight, 4+2*i))
		content := fmt.Sprintf("0 0 m %g %d l S", w, PageHeight)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// Pages returns a PDF with n pages whose widths are 100, 101, ... so page i
// has width 100+i.
func Pages(n int) []byte {
	widths := make([]float64, n)
	for i := range widths {
		widths[i] = float64(100 + i)
	}
	return Build(widths...)
}
