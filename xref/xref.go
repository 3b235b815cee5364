package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/hashbaker/pdfhash/filters"
	"github.com/hashbaker/pdfhash/ir/raw"
	"github.com/hashbaker/pdfhash/recovery"
	"github.com/hashbaker/pdfhash/scanner"
	"github.com/hashbaker/pdfhash/security"
)

// ErrStructuralCorruption is returned when the cross-reference/trailer
// chain cannot be recovered: cyclic /Prev links, chain depth beyond the
// configured bound, or no usable section at all.
var ErrStructuralCorruption = errors.New("cross-reference structure corrupt")

// Table maps object numbers to byte offsets or object-stream slots.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	ObjStream(objNum int) (stmNum, idx int, ok bool)
	Objects() []int
	Type() string
}

type ResolverConfig struct {
	Limits   security.Limits
	Recovery recovery.Strategy
}

// Resolver walks the cross-reference chain of a document: the newest
// section first, then each /Prev (and hybrid /XRefStm) predecessor.
// Classic tables and cross-reference streams are both understood.
type Resolver struct {
	cfg      ResolverConfig
	trailers []raw.Dictionary // newest first
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Limits.MaxXRefDepth == 0 {
		cfg.Limits = security.DefaultLimits()
	}
	return &Resolver{cfg: cfg}
}

// Trailers returns every trailer dictionary seen during Resolve, newest
// first. Callers that fail to decode through the newest trailer can fall
// back to earlier revisions of the document.
func (r *Resolver) Trailers() []raw.Dictionary { return r.trailers }

func (r *Resolver) Resolve(ctx context.Context, data []byte) (Table, error) {
	r.trailers = nil
	start, err := findStartXRef(data)
	if err != nil {
		return r.repairOrFail(ctx, data, err)
	}

	entries := make(map[int]entry)
	visited := make(map[int64]bool)
	kind := ""

	offset := start
	for depth := 0; offset >= 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.Limits.MaxXRefDepth {
			return nil, fmt.Errorf("%w: /Prev chain longer than %d sections", ErrStructuralCorruption, r.cfg.Limits.MaxXRefDepth)
		}
		if visited[offset] {
			return nil, fmt.Errorf("%w: /Prev chain revisits offset %d", ErrStructuralCorruption, offset)
		}
		visited[offset] = true

		trailer, sectionKind, err := r.readSection(ctx, data, offset, entries)
		if err != nil {
			if len(r.trailers) > 0 && r.tolerate(err, offset) {
				break // older revision unreadable; newest sections suffice
			}
			return r.repairOrFail(ctx, data, err)
		}
		if kind == "" {
			kind = sectionKind
		}
		r.trailers = append(r.trailers, trailer)

		// Hybrid files carry the stream entries alongside the table; the
		// table wins for objects present in both, which first-seen-wins
		// merging already guarantees.
		if stm, ok := raw.DictInt(trailer, "XRefStm"); ok && !visited[stm] {
			visited[stm] = true
			if _, _, err := r.readSection(ctx, data, stm, entries); err != nil && !r.tolerate(err, stm) {
				return nil, err
			}
		}

		offset = -1
		if prev, ok := raw.DictInt(trailer, "Prev"); ok {
			offset = prev
		}
	}

	if len(entries) == 0 {
		return r.repairOrFail(ctx, data, fmt.Errorf("%w: no cross-reference entries", ErrStructuralCorruption))
	}
	return &table{entries: entries, kind: kind}, nil
}

// tolerate asks the recovery strategy whether a broken older section may be
// skipped. In strict mode it never may.
func (r *Resolver) tolerate(err error, offset int64) bool {
	if r.cfg.Recovery == nil {
		return false
	}
	action := r.cfg.Recovery.OnError(err, recovery.Location{ByteOffset: offset, Component: "xref"})
	return action != recovery.ActionFail
}

func (r *Resolver) repairOrFail(ctx context.Context, data []byte, cause error) (Table, error) {
	if r.cfg.Recovery != nil {
		action := r.cfg.Recovery.OnError(cause, recovery.Location{Component: "xref"})
		if action != recovery.ActionFail {
			if t, trailers, err := repair(ctx, data, r.cfg.Limits); err == nil {
				r.trailers = trailers
				return t, nil
			}
		}
	}
	if errors.Is(cause, ErrStructuralCorruption) {
		return nil, cause
	}
	return nil, fmt.Errorf("%w: %v", ErrStructuralCorruption, cause)
}

// readSection parses one xref section (classic table or xref stream) at
// offset, merging its entries first-seen-wins, and returns its trailer.
func (r *Resolver) readSection(ctx context.Context, data []byte, offset int64, entries map[int]entry) (raw.Dictionary, string, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, "", fmt.Errorf("xref offset %d out of range", offset)
	}
	s := scanner.New(data, r.scannerConfig())
	if err := s.SeekTo(offset); err != nil {
		return nil, "", err
	}
	tok, err := s.Next()
	if err != nil {
		return nil, "", fmt.Errorf("xref section at %d: %w", offset, err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		trailer, err := r.readClassicTable(s, entries)
		return trailer, "table", err
	}
	if tok.Type == scanner.TokenNumber && tok.IsInt {
		trailer, err := r.readXRefStream(ctx, data, s, int(tok.Int), entries)
		return trailer, "xref-stream", err
	}
	return nil, "", fmt.Errorf("no xref table or stream at offset %d", offset)
}

func (r *Resolver) readClassicTable(s *scanner.Scanner, entries map[int]entry) (raw.Dictionary, error) {
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("xref table: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, errors.New("xref table: expected subsection header")
		}
		startObj := int(tok.Int)
		countTok, err := s.Next()
		if err != nil || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, errors.New("xref table: expected subsection count")
		}
		count := int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err := s.Next()
			if err != nil || offTok.Type != scanner.TokenNumber {
				return nil, errors.New("xref table: bad entry offset")
			}
			genTok, err := s.Next()
			if err != nil || genTok.Type != scanner.TokenNumber {
				return nil, errors.New("xref table: bad entry generation")
			}
			useTok, err := s.Next()
			if err != nil || useTok.Type != scanner.TokenKeyword {
				return nil, errors.New("xref table: bad entry type")
			}
			if useTok.Str != "n" {
				continue // free entry
			}
			objNum := startObj + i
			if _, seen := entries[objNum]; seen {
				continue
			}
			entries[objNum] = entry{offset: offTok.Int, gen: int(genTok.Int)}
		}
	}
	tr := scanner.NewTokenReader(s)
	obj, err := scanner.ParseObject(tr, r.cfg.Recovery)
	if err != nil {
		return nil, fmt.Errorf("trailer dictionary: %w", err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("trailer is not a dictionary")
	}
	return dict, nil
}

// readXRefStream parses a cross-reference stream object whose header number
// was already consumed.
func (r *Resolver) readXRefStream(ctx context.Context, data []byte, s *scanner.Scanner, objNum int, entries map[int]entry) (raw.Dictionary, error) {
	genTok, err := s.Next()
	if err != nil || genTok.Type != scanner.TokenNumber {
		return nil, errors.New("xref stream: bad object header")
	}
	objTok, err := s.Next()
	if err != nil || objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return nil, errors.New("xref stream: expected obj keyword")
	}
	tr := scanner.NewTokenReader(s)
	obj, err := scanner.ParseObject(tr, r.cfg.Recovery)
	if err != nil {
		return nil, fmt.Errorf("xref stream dictionary: %w", err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("xref stream: object is not a dictionary")
	}
	if t := raw.DictName(dict, "Type"); t != "XRef" {
		return nil, fmt.Errorf("object at xref offset has /Type /%s, want /XRef", t)
	}
	if l, ok := raw.DictInt(dict, "Length"); ok {
		tr.SetStreamLengthHint(l)
	}
	streamTok, err := tr.Next()
	if err != nil || streamTok.Type != scanner.TokenStream {
		return nil, errors.New("xref stream: missing stream payload")
	}
	payload, err := decodeStream(ctx, dict, streamTok.Bytes, r.cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("xref stream decode: %w", err)
	}
	if err := parseXRefStreamEntries(dict, payload, entries); err != nil {
		return nil, err
	}
	return dict, nil
}

func parseXRefStreamEntries(dict *raw.DictObj, payload []byte, entries map[int]entry) error {
	wObj, ok := dict.Get(raw.NameObj{Val: "W"})
	if !ok {
		return errors.New("xref stream: missing /W")
	}
	wArr, ok := wObj.(*raw.ArrayObj)
	if !ok || wArr.Len() < 3 {
		return errors.New("xref stream: /W must be a 3-element array")
	}
	var w [3]int
	for i := 0; i < 3; i++ {
		item, _ := wArr.Get(i)
		n, ok := item.(raw.NumberObj)
		if !ok || !n.IsInteger() || n.Int() < 0 || n.Int() > 8 {
			return errors.New("xref stream: bad /W width")
		}
		w[i] = int(n.Int())
	}
	size, ok := raw.DictInt(dict, "Size")
	if !ok {
		return errors.New("xref stream: missing /Size")
	}

	// /Index defaults to [0 Size]
	index := []int64{0, size}
	if idxObj, ok := dict.Get(raw.NameObj{Val: "Index"}); ok {
		arr, ok := idxObj.(*raw.ArrayObj)
		if !ok || arr.Len()%2 != 0 {
			return errors.New("xref stream: /Index must hold start,count pairs")
		}
		index = index[:0]
		for i := 0; i < arr.Len(); i++ {
			item, _ := arr.Get(i)
			n, ok := item.(raw.NumberObj)
			if !ok || !n.IsInteger() {
				return errors.New("xref stream: bad /Index value")
			}
			index = append(index, n.Int())
		}
	}

	entryLen := w[0] + w[1] + w[2]
	if entryLen == 0 {
		return errors.New("xref stream: zero-width entries")
	}
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for n := int64(0); n < count; n++ {
			if pos+entryLen > len(payload) {
				return errors.New("xref stream: payload shorter than /Index claims")
			}
			f1 := readField(payload[pos:], w[0], 1) // type defaults to 1 when w[0]==0
			f2 := readField(payload[pos+w[0]:], w[1], 0)
			f3 := readField(payload[pos+w[0]+w[1]:], w[2], 0)
			pos += entryLen

			objNum := int(start + n)
			if _, seen := entries[objNum]; seen {
				continue
			}
			switch f1 {
			case 0: // free
			case 1:
				entries[objNum] = entry{offset: f2, gen: int(f3)}
			case 2:
				entries[objNum] = entry{inStream: true, stmNum: int(f2), stmIdx: int(f3)}
			}
		}
	}
	return nil
}

func readField(b []byte, width int, def int64) int64 {
	if width == 0 {
		return def
	}
	var v int64
	for i := 0; i < width; i++ {
		v = v<<8 | int64(b[i])
	}
	return v
}

func decodeStream(ctx context.Context, dict *raw.DictObj, data []byte, limits security.Limits) ([]byte, error) {
	names, params := StreamFilters(dict)
	if len(names) == 0 {
		return data, nil
	}
	p := filters.Default(filters.Limits{
		MaxDecompressedSize: limits.MaxDecompressedSize,
		MaxDecodeTime:       limits.MaxDecodeTime,
	})
	return p.Decode(ctx, data, names, params)
}

// StreamFilters extracts the /Filter chain and matching /DecodeParms of a
// stream dictionary.
func StreamFilters(d *raw.DictObj) ([]string, []raw.Dictionary) {
	fObj, ok := d.Get(raw.NameObj{Val: "Filter"})
	if !ok {
		return nil, nil
	}
	var names []string
	switch v := fObj.(type) {
	case raw.NameObj:
		names = []string{v.Val}
	case *raw.ArrayObj:
		for _, it := range v.Items {
			if n, ok := it.(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	var params []raw.Dictionary
	if dp, ok := d.Get(raw.NameObj{Val: "DecodeParms"}); ok {
		switch p := dp.(type) {
		case *raw.DictObj:
			params = append(params, p)
		case *raw.ArrayObj:
			for _, it := range p.Items {
				switch dd := it.(type) {
				case *raw.DictObj:
					params = append(params, dd)
				default:
					params = append(params, nil)
				}
			}
		}
	}
	return names, params
}

func (r *Resolver) scannerConfig() scanner.Config {
	return scanner.Config{
		MaxStringLength: r.cfg.Limits.MaxStringLength,
		MaxArrayDepth:   r.cfg.Limits.MaxArrayDepth,
		MaxDictDepth:    r.cfg.Limits.MaxDictDepth,
		MaxStreamLength: r.cfg.Limits.MaxStreamLength,
		Recovery:        r.cfg.Recovery,
	}
}

// findStartXRef locates the startxref marker nearest the end of the file
// and returns the offset it points at.
func findStartXRef(data []byte) (int64, error) {
	// The marker lives in the last kilobyte of well-formed files; search a
	// generous window before giving up on the whole buffer.
	window := data
	if len(data) > 2048 {
		window = data[len(data)-2048:]
	}
	idx := bytes.LastIndex(window, []byte("startxref"))
	if idx < 0 {
		idx = bytes.LastIndex(data, []byte("startxref"))
		if idx < 0 {
			return 0, errors.New("startxref not found")
		}
	} else {
		idx += len(data) - len(window)
	}
	rest := data[idx+len("startxref"):]
	fields := bytes.Fields(rest)
	if len(fields) == 0 {
		return 0, errors.New("startxref value missing")
	}
	off, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if off <= 0 || off >= int64(len(data)) {
		return 0, fmt.Errorf("startxref offset %d out of range", off)
	}
	return off, nil
}

type entry struct {
	offset   int64
	gen      int
	inStream bool
	stmNum   int
	stmIdx   int
}

type table struct {
	entries map[int]entry
	kind    string
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.inStream {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || !e.inStream {
		return 0, 0, false
	}
	return e.stmNum, e.stmIdx, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string {
	if t.kind == "" {
		return "table"
	}
	return t.kind
}
