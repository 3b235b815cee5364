package security

import (
	"errors"
	"fmt"

	"github.com/hashbaker/pdfhash/ir/raw"
)

var (
	// ErrMalformedHandler is returned when the encryption dictionary lacks
	// required fields or carries them with the wrong type.
	ErrMalformedHandler = errors.New("malformed security handler")

	// ErrUnsupportedHandler is returned for handler families outside the
	// standard password handler (public-key handlers, custom filters).
	ErrUnsupportedHandler = errors.New("unsupported security handler")
)

// EncryptionDictionary holds the decoded security metadata of a protected
// document. It is built once per extraction and immutable afterwards.
// Exactly the byte fields relevant to Revision are populated: O/U for
// revisions up to 4, the OE/UE key-derivation seeds from revision 5 on.
type EncryptionDictionary struct {
	AlgorithmVersion int   // /V
	Revision         int   // /R
	KeyLengthBits    int   // /Length; 40 when absent
	Permissions      int32 // /P, two's-complement
	EncryptMetadata  bool  // /EncryptMetadata; true when absent
	DocumentID       []byte

	OwnerData []byte // /O (revision <= 4)
	UserData  []byte // /U (revision <= 4)
	OwnerSeed []byte // /OE (revision >= 5)
	UserSeed  []byte // /UE (revision >= 5)
}

// MaxFieldLength is the per-revision cap on emitted validation/seed bytes.
// Password recovery tools reject records whose fields exceed it, so
// truncation is a correctness requirement, not a size optimization.
func MaxFieldLength(revision int) int {
	switch revision {
	case 2, 3, 4:
		return 32
	case 5, 6:
		return 48
	default:
		return 48
	}
}

// Interpret decodes a resolved /Encrypt dictionary into an
// EncryptionDictionary. docID is the first element of the trailer /ID
// array, already resolved by the caller.
func Interpret(encDict raw.Dictionary, docID []byte) (*EncryptionDictionary, error) {
	if encDict == nil {
		return nil, fmt.Errorf("%w: nil encrypt dictionary", ErrMalformedHandler)
	}
	if filter := raw.DictName(encDict, "Filter"); filter != "" && filter != "Standard" {
		return nil, fmt.Errorf("%w: filter %q", ErrUnsupportedHandler, filter)
	}
	if sub := raw.DictName(encDict, "SubFilter"); sub != "" {
		return nil, fmt.Errorf("%w: subfilter %q", ErrUnsupportedHandler, sub)
	}

	v, ok := raw.DictInt(encDict, "V")
	if !ok {
		return nil, fmt.Errorf("%w: missing /V", ErrMalformedHandler)
	}
	r, ok := raw.DictInt(encDict, "R")
	if !ok {
		return nil, fmt.Errorf("%w: missing /R", ErrMalformedHandler)
	}
	// /P is formally required by the standard handler; some writers emit it
	// as an out-of-range unsigned literal, so narrow through int32 to keep
	// the two's-complement bit pattern.
	p, ok := raw.DictInt(encDict, "P")
	if !ok {
		return nil, fmt.Errorf("%w: missing /P", ErrMalformedHandler)
	}

	keyLen := int64(40)
	if n, ok := raw.DictInt(encDict, "Length"); ok {
		keyLen = n
	}

	encryptMeta := true
	if b, ok := raw.DictBool(encDict, "EncryptMetadata"); ok {
		encryptMeta = b
	}

	d := &EncryptionDictionary{
		AlgorithmVersion: int(v),
		Revision:         int(r),
		KeyLengthBits:    int(keyLen),
		Permissions:      int32(p),
		EncryptMetadata:  encryptMeta,
		DocumentID:       docID,
	}

	max := MaxFieldLength(d.Revision)
	if d.Revision >= 5 {
		if oe, ok := raw.DictString(encDict, "OE"); ok {
			d.OwnerSeed = truncate(oe, max)
		}
		if ue, ok := raw.DictString(encDict, "UE"); ok {
			d.UserSeed = truncate(ue, max)
		}
	} else {
		if o, ok := raw.DictString(encDict, "O"); ok {
			d.OwnerData = truncate(o, max)
		}
		if u, ok := raw.DictString(encDict, "U"); ok {
			d.UserData = truncate(u, max)
		}
	}
	return d, nil
}

func truncate(b []byte, max int) []byte {
	if len(b) > max {
		b = b[:max]
	}
	return append([]byte(nil), b...)
}
