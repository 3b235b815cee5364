package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashbaker/pdfhash/filters"
	"github.com/hashbaker/pdfhash/ir/raw"
	"github.com/hashbaker/pdfhash/scanner"
	"github.com/hashbaker/pdfhash/xref"
)

// objStreamIndex is one decoded /Type /ObjStm payload plus the object
// number to payload offset table from its header region.
type objStreamIndex struct {
	payload []byte
	first   int64
	offsets map[int]int64 // object number -> offset relative to first
	order   []int         // header order, for index-based lookup
}

func (o *objectLoader) loadFromObjStream(ctx context.Context, objNum, stmNum, idx int) (raw.Object, error) {
	stm, err := o.objStream(ctx, stmNum)
	if err != nil {
		return nil, err
	}

	off, ok := stm.offsets[objNum]
	if !ok {
		// fall back to the positional index from the xref entry
		if idx < 0 || idx >= len(stm.order) {
			return nil, fmt.Errorf("object %d not in object stream %d", objNum, stmNum)
		}
		off = stm.offsets[stm.order[idx]]
	}

	pos := stm.first + off
	if pos < 0 || pos >= int64(len(stm.payload)) {
		return nil, fmt.Errorf("object stream %d: offset %d beyond payload", stmNum, pos)
	}
	s := scanner.New(stm.payload, o.scannerConfig())
	if err := s.SeekTo(pos); err != nil {
		return nil, err
	}
	obj, err := scanner.ParseObject(scanner.NewTokenReader(s), o.recovery)
	if err != nil {
		return nil, fmt.Errorf("object stream %d slot %d: %w", stmNum, idx, err)
	}
	return obj, nil
}

func (o *objectLoader) objStream(ctx context.Context, stmNum int) (*objStreamIndex, error) {
	o.mu.Lock()
	if stm, ok := o.objstm[stmNum]; ok {
		o.mu.Unlock()
		return stm, nil
	}
	o.mu.Unlock()

	container, err := o.Load(ctx, raw.ObjectRef{Num: stmNum})
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", stmNum, err)
	}
	stmObj, ok := container.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object %d is not a stream", stmNum)
	}
	dict := stmObj.Dict
	if t := raw.DictName(dict, "Type"); t != "ObjStm" {
		return nil, fmt.Errorf("object %d has /Type /%s, want /ObjStm", stmNum, t)
	}
	n, ok := raw.DictInt(dict, "N")
	if !ok || n < 0 {
		return nil, fmt.Errorf("object stream %d: missing /N", stmNum)
	}
	if n > int64(o.limits.MaxObjStmObjects) {
		return nil, fmt.Errorf("object stream %d holds %d objects, limit %d", stmNum, n, o.limits.MaxObjStmObjects)
	}
	first, ok := raw.DictInt(dict, "First")
	if !ok || first < 0 {
		return nil, fmt.Errorf("object stream %d: missing /First", stmNum)
	}

	payload, err := o.decode(ctx, dict, stmObj.Data)
	if err != nil {
		return nil, fmt.Errorf("object stream %d decode: %w", stmNum, err)
	}
	if first > int64(len(payload)) {
		return nil, fmt.Errorf("object stream %d: /First beyond payload", stmNum)
	}

	stm := &objStreamIndex{
		payload: payload,
		first:   first,
		offsets: make(map[int]int64, n),
	}
	if err := parseObjStmHeader(payload[:first], int(n), stm); err != nil {
		return nil, fmt.Errorf("object stream %d header: %w", stmNum, err)
	}

	o.mu.Lock()
	o.objstm[stmNum] = stm
	o.mu.Unlock()
	return stm, nil
}

// parseObjStmHeader reads the n "objnum offset" integer pairs preceding the
// packed objects.
func parseObjStmHeader(header []byte, n int, stm *objStreamIndex) error {
	s := scanner.New(header, scanner.Config{})
	for i := 0; i < n; i++ {
		numTok, err := s.Next()
		if err != nil || numTok.Type != scanner.TokenNumber || !numTok.IsInt {
			return errors.New("truncated object number pairs")
		}
		offTok, err := s.Next()
		if err != nil || offTok.Type != scanner.TokenNumber || !offTok.IsInt {
			return errors.New("truncated object offset pairs")
		}
		objNum := int(numTok.Int)
		stm.offsets[objNum] = offTok.Int
		stm.order = append(stm.order, objNum)
	}
	return nil
}

func (o *objectLoader) decode(ctx context.Context, dict *raw.DictObj, data []byte) ([]byte, error) {
	names, params := xref.StreamFilters(dict)
	if len(names) == 0 {
		return data, nil
	}
	p := filters.Default(filters.Limits{
		MaxDecompressedSize: o.limits.MaxDecompressedSize,
		MaxDecodeTime:       o.limits.MaxDecodeTime,
	})
	return p.Decode(ctx, data, names, params)
}
