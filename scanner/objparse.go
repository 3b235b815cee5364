package scanner

import (
	"errors"

	"github.com/hashbaker/pdfhash/ir/raw"
	"github.com/hashbaker/pdfhash/recovery"
)

// TokenReader adds single-token pushback on top of a Scanner, which is all
// the lookahead the object grammar needs.
type TokenReader struct {
	s   *Scanner
	buf []Token
}

func NewTokenReader(s *Scanner) *TokenReader { return &TokenReader{s: s} }

func (r *TokenReader) Next() (Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *TokenReader) Unread(tok Token) { r.buf = append(r.buf, tok) }

// SetStreamLengthHint forwards a resolved /Length to the scanner for the
// next stream keyword.
func (r *TokenReader) SetStreamLengthHint(n int64) { r.s.SetNextStreamLength(n) }

func (r *TokenReader) ClearStreamLengthHint() { r.s.SetNextStreamLength(-1) }

// ParseObject reads one complete object (scalar, array or dictionary) from
// tr. Stream payloads are not consumed here; callers watch for a stream
// token after a dictionary.
func ParseObject(tr *TokenReader, rec recovery.Strategy) (raw.Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return raw.NumberObj{F: tok.Float}, nil
	case TokenBoolean:
		return raw.BoolObj{V: tok.Bool}, nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes}, nil
	case TokenArray:
		return parseArray(tr, rec)
	case TokenDict:
		return parseDict(tr, rec)
	case TokenRef:
		return raw.RefObj{R: raw.ObjectRef{Num: int(tok.Int), Gen: tok.Gen}}, nil
	}
	return nil, errors.New("unexpected token " + tok.Str)
}

func parseArray(tr *TokenReader, rec recovery.Strategy) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			break
		}
		tr.Unread(tok)
		item, err := ParseObject(tr, rec)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
	return arr, nil
}

func parseDict(tr *TokenReader, rec recovery.Strategy) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			break
		}
		if tok.Type != TokenName {
			// tolerate a missing ">>" right before endobj/stream
			if tok.Type == TokenKeyword && (tok.Str == "endobj" || tok.Str == "stream") {
				err := errors.New("dictionary not closed before " + tok.Str)
				if rec != nil && rec.OnError(err, recovery.Location{ByteOffset: tok.Pos, Component: "objparse"}) != recovery.ActionFail {
					tr.Unread(tok)
					break
				}
				return nil, err
			}
			return nil, errors.New("expected name as dictionary key")
		}
		key := tok.Str
		val, err := ParseObject(tr, rec)
		if err != nil {
			return nil, err
		}
		d.Set(raw.NameObj{Val: key}, val)
	}
	return d, nil
}
