package scanner

import (
	"errors"
	"io"
	"strconv"

	"github.com/hashbaker/pdfhash/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // stream payload
	TokenKeyword                  // other keywords (obj, endobj, >>, ], xref, trailer, ...)
)

type Token struct {
	Type  TokenType
	Pos   int64
	Str   string  // TokenName, TokenKeyword
	Bytes []byte  // TokenString, TokenStream
	Int   int64   // TokenNumber (IsInt), TokenRef object number
	Float float64 // TokenNumber (!IsInt)
	IsInt bool
	Bool  bool // TokenBoolean
	Gen   int  // TokenRef generation number
}

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	MaxStreamScan   int64
	Recovery        recovery.Strategy
}

// Scanner tokenizes PDF syntax from an in-memory buffer. The extractor
// reads the whole document once up front, so there is no windowed I/O.
type Scanner struct {
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	arrayDepth    int
	dictDepth     int
}

func New(data []byte, cfg Config) *Scanner {
	return &Scanner{data: data, cfg: cfg, nextStreamLen: -1}
}

func (s *Scanner) Position() int64 { return s.pos }

func (s *Scanner) SeekTo(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

// SetNextStreamLength provides the resolved /Length for the next stream
// keyword so its payload can be sliced without scanning for endstream.
func (s *Scanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *Scanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
}

func (s *Scanner) skipWSAndComments() error {
	for {
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return nil
	}
}

func (s *Scanner) peekAhead(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) { // hex escape in name
			a, okA := fromHex(s.data[s.pos+1])
			b, okB := fromHex(s.data[s.pos+2])
			if okA && okB {
				out = append(out, (a<<4)|b)
				s.pos += 3
				continue
			}
		}
		out = append(out, c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: string(out), Pos: start})
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf []byte
	depth := 1
	for s.pos < int64(len(s.data)) && depth > 0 {
		c := s.data[s.pos]
		switch c {
		case '\\':
			s.pos++
			if s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\r': // line continuation
				s.pos++
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
				s.pos++
			case esc >= '0' && esc <= '7': // octal, up to 3 digits
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && s.pos < int64(len(s.data)); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = (val << 3) + int(d-'0')
					s.pos++
				}
				buf = append(buf, byte(val))
			default:
				buf = append(buf, translateEscape(esc))
				s.pos++
			}
		case '(':
			depth++
			buf = append(buf, c)
			s.pos++
		case ')':
			depth--
			if depth > 0 {
				buf = append(buf, c)
			}
			s.pos++
		default:
			buf = append(buf, c)
			s.pos++
		}
		if s.cfg.MaxStringLength > 0 && int64(len(buf)) > s.cfg.MaxStringLength {
			return Token{}, s.recover(errors.New("literal string too long"), "literal")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return s.emit(Token{Type: TokenString, Bytes: buf, Pos: start})
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var nibbles []byte
	closed := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			closed = true
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if _, ok := fromHex(c); !ok {
			if err := s.recover(errors.New("invalid hex digit in string"), "hex"); err != nil {
				return Token{}, err
			}
			s.pos++
			continue
		}
		nibbles = append(nibbles, c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
			return Token{}, s.recover(errors.New("hex string too long"), "hex")
		}
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	// odd nibble count: pad with 0 per PDF 7.3.4.3
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		a, _ := fromHex(nibbles[i])
		b, _ := fromHex(nibbles[i+1])
		out = append(out, (a<<4)|b)
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Pos: start})
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

// scanStream consumes the payload following a stream keyword. With a length
// hint the payload is sliced directly; otherwise the data is scanned for a
// plausible endstream marker.
func (s *Scanner) scanStream(start int64) (Token, error) {
	// PDF 7.3.8: the stream keyword is followed by CRLF or LF before data.
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos

	if s.nextStreamLen >= 0 {
		l := s.nextStreamLen
		s.nextStreamLen = -1
		if s.cfg.MaxStreamLength > 0 && l > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		if dataStart+l > int64(len(s.data)) {
			if err := s.recover(errors.New("stream ended before declared length"), "stream"); err != nil {
				return Token{}, err
			}
			l = int64(len(s.data)) - dataStart
		}
		payload := append([]byte(nil), s.data[dataStart:dataStart+l]...)
		s.pos = dataStart + l
		s.skipPastEndstream()
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}

	needle := []byte("endstream")
	idx := indexStreamEnd(s.data, dataStart, needle, s.cfg.MaxStreamScan)
	if idx < 0 {
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		payload := append([]byte(nil), s.data[dataStart:]...)
		s.pos = int64(len(s.data))
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}
	end := trimStreamEOL(s.data, dataStart, idx)
	payload := append([]byte(nil), s.data[dataStart:end]...)
	if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
		return Token{}, s.recover(errors.New("stream too long"), "stream")
	}
	s.pos = idx + int64(len(needle))
	return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
}

func (s *Scanner) skipPastEndstream() {
	// optional EOL after payload
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	needle := []byte("endstream")
	if s.pos+int64(len(needle)) <= int64(len(s.data)) && string(s.data[s.pos:s.pos+int64(len(needle))]) == string(needle) {
		s.pos += int64(len(needle))
		return
	}
	// declared length was off; resynchronize on the next marker
	if idx := indexStreamEnd(s.data, s.pos, needle, s.cfg.MaxStreamScan); idx >= 0 {
		s.pos = idx + int64(len(needle))
	}
}

func indexStreamEnd(data []byte, from int64, needle []byte, maxScan int64) int64 {
	for i := from; i+int64(len(needle)) <= int64(len(data)); i++ {
		if maxScan > 0 && i-from > maxScan {
			return -1
		}
		if data[i] != 'e' {
			continue
		}
		if string(data[i:i+int64(len(needle))]) != string(needle) {
			continue
		}
		followOK := i+int64(len(needle)) >= int64(len(data)) || isDelimiter(data[i+int64(len(needle))])
		prevOK := i == from || isWhitespace(data[i-1])
		if prevOK && followOK {
			return i
		}
	}
	return -1
}

func trimStreamEOL(data []byte, dataStart, idx int64) int64 {
	end := idx
	if end > dataStart && data[end-1] == '\n' {
		end--
	}
	if end > dataStart && data[end-1] == '\r' {
		end--
	}
	return end
}

func (s *Scanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		s.pos++
		return Token{}, s.recover(errors.New("invalid number"), "number")
	}

	// "<num> <gen> R" lookahead for indirect references
	save := s.pos
	if err := s.skipWSAndComments(); err == nil {
		secondStart := s.pos
		num2 := s.scanNumberString()
		if num2 != "" {
			if err := s.skipWSAndComments(); err == nil &&
				s.data[s.pos] == 'R' &&
				(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+1])) {
				n1, err1 := strconv.Atoi(num1)
				n2, err2 := strconv.Atoi(num2)
				if err1 == nil && err2 == nil {
					s.pos++
					return Token{Type: TokenRef, Int: int64(n1), Gen: n2, Pos: start}, nil
				}
			}
			s.pos = secondStart // second number belongs to the caller
		} else {
			s.pos = secondStart
		}
	} else {
		s.pos = save
	}

	if i, err := strconv.ParseInt(num1, 10, 64); err == nil {
		return s.emit(Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start})
	}
	f, err := strconv.ParseFloat(num1, 64)
	if err != nil {
		return Token{}, s.recover(errors.New("malformed numeric literal"), "number")
	}
	return s.emit(Token{Type: TokenNumber, Float: f, Pos: start})
}

func (s *Scanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' {
			s.pos++
			continue
		}
		if c >= '0' && c <= '9' {
			seenDigit = true
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

func (s *Scanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, errors.New("array depth exceeded")
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, errors.New("dict depth exceeded")
		}
	case TokenKeyword:
		if tok.Str == "]" && s.arrayDepth > 0 {
			s.arrayDepth--
		}
		if tok.Str == ">>" && s.dictDepth > 0 {
			s.dictDepth--
		}
	}
	return tok, nil
}

func (s *Scanner) recover(err error, loc string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	action := s.cfg.Recovery.OnError(err, recovery.Location{
		ByteOffset: s.pos,
		Component:  "scanner:" + loc,
	})
	if action == recovery.ActionFail {
		return err
	}
	return nil
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isRegular(c byte) bool { return !isDelimiter(c) }

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
