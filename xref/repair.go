package xref

import (
	"context"
	"errors"
	"io"

	"github.com/hashbaker/pdfhash/ir/raw"
	"github.com/hashbaker/pdfhash/recovery"
	"github.com/hashbaker/pdfhash/scanner"
	"github.com/hashbaker/pdfhash/security"
)

// repair reconstructs a usable table by scanning the whole buffer for
// "<num> <gen> obj" headers and trailer dictionaries. It is the last
// lenient-mode resort when the declared cross-reference structure is
// unusable. Later definitions win: incremental updates append to the file.
func repair(ctx context.Context, data []byte, limits security.Limits) (Table, []raw.Dictionary, error) {
	lenient := recovery.NewLenientStrategy()
	s := scanner.New(data, scanner.Config{
		MaxStringLength: limits.MaxStringLength,
		MaxArrayDepth:   limits.MaxArrayDepth,
		MaxDictDepth:    limits.MaxDictDepth,
		MaxStreamLength: limits.MaxStreamLength,
		Recovery:        lenient,
	})
	tr := scanner.NewTokenReader(s)
	entries := make(map[int]entry)
	var trailers []raw.Dictionary

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		tok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			continue // skip unparseable bytes
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			objNum := int(tok.Int)
			genTok, err := tr.Next()
			if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				continue
			}
			kwTok, err := tr.Next()
			if err != nil {
				continue
			}
			if kwTok.Type != scanner.TokenKeyword || kwTok.Str != "obj" {
				// genTok may itself start the next object header
				tr.Unread(kwTok)
				tr.Unread(genTok)
				continue
			}
			entries[objNum] = entry{offset: tok.Pos, gen: int(genTok.Int)}

			// Walk the object body so its tokens are not mistaken for
			// headers; its dictionary may double as a trailer in
			// xref-stream-only files.
			obj, err := scanner.ParseObject(tr, lenient)
			if err != nil {
				continue
			}
			if dict, ok := obj.(*raw.DictObj); ok {
				if l, ok := raw.DictInt(dict, "Length"); ok {
					tr.SetStreamLengthHint(l)
				} else {
					tr.ClearStreamLengthHint()
				}
				if next, err := tr.Next(); err == nil && next.Type != scanner.TokenStream {
					tr.Unread(next)
				}
				if isTrailerCandidate(dict) {
					trailers = append(trailers, dict)
				}
			}

		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			if obj, err := scanner.ParseObject(tr, lenient); err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					trailers = append(trailers, dict)
				}
			}
		}
	}

	if len(entries) == 0 {
		return nil, nil, errors.New("repair failed: no objects found")
	}
	if len(trailers) == 0 {
		return nil, nil, errors.New("repair failed: no trailer found")
	}
	// newest last in the file, callers expect newest first
	reversed := make([]raw.Dictionary, 0, len(trailers))
	for i := len(trailers) - 1; i >= 0; i-- {
		reversed = append(reversed, trailers[i])
	}
	return &table{entries: entries, kind: "repair"}, reversed, nil
}

func isTrailerCandidate(d *raw.DictObj) bool {
	if raw.DictName(d, "Type") == "XRef" {
		return true
	}
	// /Root and /Encrypt keys only appear in trailer dictionaries.
	_, hasRoot := d.Get(raw.NameObj{Val: "Root"})
	_, hasEncrypt := d.Get(raw.NameObj{Val: "Encrypt"})
	return hasRoot || hasEncrypt
}
