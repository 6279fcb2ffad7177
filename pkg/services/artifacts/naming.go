package artifacts

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// Slug keeps the letters, digits, '-' and '_' of an invoice number and drops
// everything else, so the result is safe as part of a file name.
func Slug(invoiceNumber string) string {
	var b strings.Builder
	for _, r := range invoiceNumber {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BaseName returns the stem of a document file name, without directories or
// extension. An empty stem becomes "document".
func BaseName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "document"
	}
	return base
}

// ArtifactStem names the artifact pair of a group: the invoice number slug
// when there is one, else the 1-based position of the group.
func ArtifactStem(baseName, invoiceNumber string, position int) string {
	if s := Slug(invoiceNumber); s != "" {
		return fmt.Sprintf("%s_invoice_%s", baseName, s)
	}
	return fmt.Sprintf("%s_invoice_%d", baseName, position)
}
