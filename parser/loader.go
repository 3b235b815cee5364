// Package parser loads indirect objects through a resolved cross-reference
// table, including objects packed into object streams.
package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashbaker/pdfhash/ir/raw"
	"github.com/hashbaker/pdfhash/observability"
	"github.com/hashbaker/pdfhash/recovery"
	"github.com/hashbaker/pdfhash/scanner"
	"github.com/hashbaker/pdfhash/security"
	"github.com/hashbaker/pdfhash/xref"
)

type ObjectLoader interface {
	// Load fetches the object ref points at, without following further
	// references inside it.
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)

	// Resolve follows reference chains until a direct object is reached.
	Resolve(ctx context.Context, obj raw.Object) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	data     []byte
	table    xref.Table
	limits   security.Limits
	recovery recovery.Strategy
	logger   observability.Logger
}

func NewObjectLoaderBuilder() *ObjectLoaderBuilder { return &ObjectLoaderBuilder{} }

func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}

func (b *ObjectLoaderBuilder) WithXRef(t xref.Table) *ObjectLoaderBuilder {
	b.table = t
	return b
}

func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}

func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}

func (b *ObjectLoaderBuilder) WithLogger(l observability.Logger) *ObjectLoaderBuilder {
	b.logger = l
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.data == nil || b.table == nil {
		return nil, errors.New("data and xref table required")
	}
	limits := b.limits
	if limits.MaxIndirectDepth == 0 {
		limits = security.DefaultLimits()
	}
	logger := b.logger
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &objectLoader{
		data:     b.data,
		table:    b.table,
		limits:   limits,
		recovery: b.recovery,
		logger:   logger,
		cache:    make(map[raw.ObjectRef]raw.Object),
		loading:  make(map[raw.ObjectRef]bool),
		objstm:   make(map[int]*objStreamIndex),
	}, nil
}

type objectLoader struct {
	data     []byte
	table    xref.Table
	limits   security.Limits
	recovery recovery.Strategy
	logger   observability.Logger

	mu      sync.Mutex
	cache   map[raw.ObjectRef]raw.Object
	loading map[raw.ObjectRef]bool
	objstm  map[int]*objStreamIndex
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	if obj, ok := o.cache[ref]; ok {
		o.mu.Unlock()
		return obj, nil
	}
	if o.loading[ref] {
		o.mu.Unlock()
		return nil, fmt.Errorf("object %d %d references itself", ref.Num, ref.Gen)
	}
	o.loading[ref] = true
	o.mu.Unlock()

	obj, err := o.loadOnce(ctx, ref)

	o.mu.Lock()
	delete(o.loading, ref)
	if err == nil {
		o.cache[ref] = obj
	}
	o.mu.Unlock()
	return obj, err
}

func (o *objectLoader) Resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	for depth := 0; ; depth++ {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if depth >= o.limits.MaxIndirectDepth {
			return nil, fmt.Errorf("reference chain longer than %d", o.limits.MaxIndirectDepth)
		}
		loaded, err := o.Load(ctx, ref.R)
		if err != nil {
			return nil, err
		}
		obj = loaded
	}
}

func (o *objectLoader) loadOnce(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset, gen, ok := o.table.Lookup(ref.Num); ok {
		return o.loadAt(ctx, ref, offset, gen)
	}
	if stmNum, idx, ok := o.table.ObjStream(ref.Num); ok {
		return o.loadFromObjStream(ctx, ref.Num, stmNum, idx)
	}
	return raw.NullObj{}, nil // unknown objects read as null
}

// loadAt parses "num gen obj <body>" at a byte offset. A header number
// mismatch is tolerated in lenient mode since repaired tables can carry
// slightly stale offsets.
func (o *objectLoader) loadAt(ctx context.Context, ref raw.ObjectRef, offset int64, gen int) (raw.Object, error) {
	s := scanner.New(o.data, o.scannerConfig())
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	numTok, err := s.Next()
	if err != nil || numTok.Type != scanner.TokenNumber || !numTok.IsInt {
		return nil, fmt.Errorf("object %d %d: no header at offset %d", ref.Num, ref.Gen, offset)
	}
	genTok, err := s.Next()
	if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		return nil, fmt.Errorf("object %d %d: bad generation in header", ref.Num, ref.Gen)
	}
	kwTok, err := s.Next()
	if err != nil || kwTok.Type != scanner.TokenKeyword || kwTok.Str != "obj" {
		return nil, fmt.Errorf("object %d %d: expected obj keyword", ref.Num, ref.Gen)
	}
	if int(numTok.Int) != ref.Num {
		err := fmt.Errorf("object header says %d, table says %d", numTok.Int, ref.Num)
		if !o.tolerate(err, offset, ref) {
			return nil, err
		}
	}

	tr := scanner.NewTokenReader(s)
	obj, err := scanner.ParseObject(tr, o.recovery)
	if err != nil {
		return nil, fmt.Errorf("object %d %d: %w", ref.Num, ref.Gen, err)
	}

	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return obj, nil
	}
	// Resolving /Length up front lets the scanner slice the payload exactly
	// even when it contains the endstream marker.
	if l, ok := o.streamLength(ctx, dict); ok && l >= 0 {
		tr.SetStreamLengthHint(l)
	} else {
		tr.ClearStreamLengthHint()
	}
	next, err := tr.Next()
	if err != nil {
		return dict, nil // EOF right after the dict still yields the dict
	}
	if next.Type != scanner.TokenStream {
		tr.Unread(next)
		return dict, nil
	}
	return raw.NewStream(dict, next.Bytes), nil
}

// streamLength resolves /Length, following one level of indirection.
func (o *objectLoader) streamLength(ctx context.Context, dict *raw.DictObj) (int64, bool) {
	obj, ok := dict.Get(raw.NameObj{Val: "Length"})
	if !ok {
		return 0, false
	}
	if ref, isRef := obj.(raw.RefObj); isRef {
		loaded, err := o.Load(ctx, ref.R)
		if err != nil {
			o.logger.Debug("indirect stream length unresolvable",
				observability.Int("obj", ref.R.Num), observability.Error("err", err))
			return 0, false
		}
		obj = loaded
	}
	n, isNum := obj.(raw.NumberObj)
	if !isNum || !n.IsInteger() {
		return 0, false
	}
	return n.Int(), true
}

func (o *objectLoader) tolerate(err error, offset int64, ref raw.ObjectRef) bool {
	if o.recovery == nil {
		return false
	}
	loc := recovery.Location{
		ByteOffset: offset,
		ObjectNum:  ref.Num,
		ObjectGen:  ref.Gen,
		Component:  "loader",
	}
	return o.recovery.OnError(err, loc) != recovery.ActionFail
}

func (o *objectLoader) scannerConfig() scanner.Config {
	return scanner.Config{
		MaxStringLength: o.limits.MaxStringLength,
		MaxArrayDepth:   o.limits.MaxArrayDepth,
		MaxDictDepth:    o.limits.MaxDictDepth,
		MaxStreamLength: o.limits.MaxStreamLength,
		Recovery:        o.recovery,
	}
}
