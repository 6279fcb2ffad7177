package integrity

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	reObjHeader = regexp.MustCompile(`(?:^|\s)(\d+)\s+(\d+)\s+obj\b`)
	reRootRef   = regexp.MustCompile(`/Root\s+(\d+)\s+(\d+)\s+R\b`)
	reCatalog   = regexp.MustCompile(`/Type\s*/Catalog\b`)
	endobj      = []byte("endobj")
)

type objLoc struct {
	offset int
	gen    int
	end    int
}

// rebuildXRef reconstructs the cross-reference table of data by scanning for
// "N G obj" headers, the way readers recover files whose xref section or
// trailer is missing or points at the wrong offsets. Objects without a
// closing endobj are left out. The result is the object bodies followed by a
// fresh xref section and trailer.
func rebuildXRef(data []byte) ([]byte, error) {
	start := bytes.Index(data, []byte("%PDF-"))
	if start < 0 {
		return nil, errors.New("no PDF header")
	}
	data = data[start:]

	objs := scanObjects(data)
	if len(objs) == 0 {
		return nil, errors.New("no objects found")
	}
	root, rootGen, ok := findRoot(data, objs)
	if !ok {
		return nil, errors.New("no document catalog found")
	}

	maxNum, cut := 0, 0
	for num, o := range objs {
		maxNum = max(maxNum, num)
		cut = max(cut, o.end)
	}

	var buf bytes.Buffer
	buf.Grow(cut + 20*(maxNum+1) + 128)
	buf.Write(data[:cut])
	buf.WriteByte('\n')
	xrefAt := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	for num := 0; num <= maxNum; num++ {
		o, ok := objs[num]
		switch {
		case num == 0:
			buf.WriteString("0000000000 65535 f \n")
		case ok:
			fmt.Fprintf(&buf, "%010d %05d n \n", o.offset, o.gen)
		default:
			buf.WriteString("0000000000 00000 f \n")
		}
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d %d R >>\nstartxref\n%d\n%%%%EOF\n", maxNum+1, root, rootGen, xrefAt)
	return buf.Bytes(), nil
}

// scanObjects finds every complete object in data. A later definition of the
// same object number wins, as with incremental updates.
func scanObjects(data []byte) map[int]objLoc {
	matches := reObjHeader.FindAllSubmatchIndex(data, -1)
	objs := make(map[int]objLoc, len(matches))
	for i, m := range matches {
		num, err1 := strconv.Atoi(string(data[m[2]:m[3]]))
		gen, err2 := strconv.Atoi(string(data[m[4]:m[5]]))
		if err1 != nil || err2 != nil || num == 0 {
			continue
		}
		limit := len(data)
		if i+1 < len(matches) {
			limit = matches[i+1][0]
		}
		k := bytes.Index(data[m[1]:limit], endobj)
		if k < 0 {
			continue
		}
		objs[num] = objLoc{offset: m[2], gen: gen, end: m[1] + k + len(endobj)}
	}
	return objs
}

// findRoot takes the catalog from the last trailer /Root that names a
// recovered object, else from the last object typed /Catalog.
func findRoot(data []byte, objs map[int]objLoc) (int, int, bool) {
	refs := reRootRef.FindAllSubmatch(data, -1)
	for i := len(refs) - 1; i >= 0; i-- {
		num, _ := strconv.Atoi(string(refs[i][1]))
		gen, _ := strconv.Atoi(string(refs[i][2]))
		if o, ok := objs[num]; ok && o.gen == gen {
			return num, gen, true
		}
	}
	best, bestAt := 0, -1
	for num, o := range objs {
		if o.offset > bestAt && reCatalog.Match(data[o.offset:o.end]) {
			best, bestAt = num, o.offset
		}
	}
	if bestAt < 0 {
		return 0, 0, false
	}
	return best, objs[best].gen, true
}
