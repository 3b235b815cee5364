package recovery

// Strategy decides what happens when a recoverable structural error is met
// while decoding a document. The extractor runs with StrictStrategy or
// LenientStrategy depending on caller configuration; unrecoverable errors
// (corrupt xref chains, missing required handler fields) never reach a
// Strategy.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location pinpoints where in the input an error was raised.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	// ActionFail aborts the current operation with the original error.
	ActionFail Action = iota
	// ActionSkip drops the offending construct and continues.
	ActionSkip
	// ActionFix continues with a best-effort correction already applied
	// by the caller (e.g. an implicitly closed string).
	ActionFix
)
