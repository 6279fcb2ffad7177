// Package integrity checks that a source PDF can be read page by page and,
// once per attachment, attempts a best-effort rebuild when it cannot.
package integrity

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

func init() {
	// pdfcpu otherwise creates a config directory in the user's home.
	api.DisableConfigDir()
}

// Verdict is the result of an integrity check.
type Verdict struct {
	Valid     bool
	Reason    string
	PageCount int
}

// Check reports whether data is a readable PDF: it must parse, validate, and
// expose every page of a non-empty page tree.
func Check(data []byte) Verdict {
	ctx, err := read(data)
	if err != nil {
		return Verdict{Reason: err.Error()}
	}
	if err := api.ValidateContext(ctx); err != nil {
		return Verdict{Reason: fmt.Sprintf("validate: %v", err)}
	}
	return checkPages(ctx)
}

func checkPages(ctx *model.Context) Verdict {
	if ctx.PageCount == 0 {
		return Verdict{Reason: "PDF has no pages"}
	}
	for p := 1; p <= ctx.PageCount; p++ {
		d, _, _, err := ctx.PageDict(p, false)
		if err != nil {
			return Verdict{Reason: fmt.Sprintf("page %d: %v", p, err)}
		}
		if d == nil {
			return Verdict{Reason: fmt.Sprintf("page %d: missing page dictionary", p)}
		}
	}
	return Verdict{Valid: true, PageCount: ctx.PageCount}
}

// Repair rebuilds data into a fresh container. It reads leniently, prunes
// the page tree down to the pages whose dictionaries resolve, and rewrites
// what remains. When the file cannot be read as is, its cross-reference
// table is first rebuilt from the object headers in the file. The rebuilt
// bytes are only returned if they pass Check.
func Repair(data []byte) ([]byte, Verdict, error) {
	out, v, err := rebuild(data)
	if err == nil {
		return out, v, nil
	}
	scanned, serr := rebuildXRef(data)
	if serr != nil {
		return nil, v, fmt.Errorf("repair: %v; xref scan: %v", err, serr)
	}
	out, v, rerr := rebuild(scanned)
	if rerr != nil {
		return nil, v, fmt.Errorf("repair: %v; after xref scan: %v", err, rerr)
	}
	return out, v, nil
}

func rebuild(data []byte) ([]byte, Verdict, error) {
	ctx, err := readLenient(data)
	if err != nil {
		return nil, Verdict{}, err
	}
	n, err := prunePageTree(ctx)
	if err != nil {
		return nil, Verdict{}, err
	}
	if n == 0 {
		return nil, Verdict{}, errors.New("no recoverable pages")
	}
	var buf bytes.Buffer
	if err := writeContext(ctx, &buf); err != nil {
		return nil, Verdict{}, fmt.Errorf("write: %w", err)
	}
	v := Check(buf.Bytes())
	if !v.Valid {
		return nil, v, fmt.Errorf("rebuilt document still invalid: %s", v.Reason)
	}
	return buf.Bytes(), v, nil
}

func read(data []byte) (*model.Context, error) {
	ctx, err := readLenient(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("page tree: %w", err)
	}
	return ctx, nil
}

func readLenient(data []byte) (ctx *model.Context, err error) {
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	// pdfcpu can panic on badly broken input.
	defer func() {
		if r := recover(); r != nil {
			ctx, err = nil, fmt.Errorf("read: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err = api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return ctx, nil
}

func writeContext(ctx *model.Context, w io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return api.WriteContext(ctx, w)
}

// maxTreeDepth bounds page tree recursion on malformed, deeply nested trees.
const maxTreeDepth = 64

// prunePageTree drops every page tree node that cannot be resolved, fixes
// each /Count to what is left and returns the number of pages kept.
func prunePageTree(ctx *model.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("page tree: %v", r)
		}
	}()
	root, err := ctx.Catalog()
	if err != nil {
		return 0, fmt.Errorf("catalog: %w", err)
	}
	pages, err := ctx.DereferenceDict(root["Pages"])
	if err != nil || pages == nil {
		return 0, errors.New("page tree root cannot be resolved")
	}
	n = pruneNode(ctx.XRefTable, pages, map[int]bool{}, 0)
	ctx.PageCount = n
	return n, nil
}

func pruneNode(xrt *model.XRefTable, node types.Dict, seen map[int]bool, depth int) int {
	if depth > maxTreeDepth {
		return 0
	}
	kids, err := xrt.DereferenceArray(node["Kids"])
	if err != nil {
		kids = nil
	}
	kept := types.Array{}
	count := 0
	for _, kid := range kids {
		if ref, ok := kid.(types.IndirectRef); ok {
			if seen[ref.ObjectNumber.Value()] {
				continue
			}
			seen[ref.ObjectNumber.Value()] = true
		}
		d, err := xrt.DereferenceDict(kid)
		if err != nil || d == nil {
			continue
		}
		typ := d.Type()
		switch {
		case typ != nil && *typ == "Pages", typ == nil && d["Kids"] != nil:
			c := pruneNode(xrt, d, seen, depth+1)
			if c == 0 {
				continue
			}
			count += c
		case typ == nil || *typ == "Page":
			count++
		default:
			continue
		}
		kept = append(kept, kid)
	}
	node["Kids"] = kept
	node["Count"] = types.Integer(count)
	return count
}

// Guard runs the check-then-repair step for one attachment.
type Guard struct {
	log zerolog.Logger
}

// NewGuard creates a Guard that logs to log.
func NewGuard(log zerolog.Logger) *Guard {
	return &Guard{log: log}
}

// Ensure returns doc unchanged when it is readable, or a repaired copy. Repair
// is attempted at most once; failure is an ErrIntegrity.
func (g *Guard) Ensure(doc models.Document) (models.Document, error) {
	v := Check(doc.Data)
	if v.Valid {
		doc.PageCount = v.PageCount
		return doc, nil
	}
	g.log.Warn().Str("reason", v.Reason).Str("document", doc.Name).Msg("PDF appears corrupted, attempting repair")

	repaired, rv, err := Repair(doc.Data)
	if err != nil {
		g.log.Error().Err(err).Str("document", doc.Name).Msg("repair failed")
		return doc, fmt.Errorf("%s: %v (check: %s): %w", doc.Name, err, v.Reason, errdefs.ErrIntegrity)
	}
	g.log.Info().Int("pages", rv.PageCount).Str("document", doc.Name).Msg("PDF repaired")
	return models.Document{Name: doc.Name, Data: repaired, PageCount: rv.PageCount}, nil
}
