// Package extractor turns an encrypted document into its password-recovery
// fingerprint line. It wires the scanner, cross-reference resolver, object
// loader and security interpreter into one deterministic pipeline.
package extractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashbaker/pdfhash/fingerprint"
	"github.com/hashbaker/pdfhash/ir/raw"
	"github.com/hashbaker/pdfhash/observability"
	"github.com/hashbaker/pdfhash/parser"
	"github.com/hashbaker/pdfhash/recovery"
	"github.com/hashbaker/pdfhash/security"
	"github.com/hashbaker/pdfhash/xref"
)

var (
	// ErrNotEncrypted is returned when no trailer revision carries /Encrypt.
	ErrNotEncrypted = errors.New("document is not encrypted")

	// ErrMissingDocumentID is returned when the document is encrypted but no
	// usable /ID first element can be found. Standard-handler key derivation
	// needs it, so the fingerprint would be unusable without it.
	ErrMissingDocumentID = errors.New("document has no /ID")

	// Re-exported so callers can match every failure class against one package.
	ErrStructuralCorruption = xref.ErrStructuralCorruption
	ErrMalformedHandler     = security.ErrMalformedHandler
	ErrUnsupportedHandler   = security.ErrUnsupportedHandler
)

type Config struct {
	// Strict makes every structural irregularity fatal. The default lenient
	// mode skips damaged older revisions and falls back to a brute scan.
	Strict bool

	Limits security.Limits
	Logger observability.Logger
}

type Extractor struct {
	cfg Config
	rec recovery.Strategy
	log observability.Logger
}

func New(cfg Config) *Extractor {
	if cfg.Limits.MaxIndirectDepth == 0 {
		cfg.Limits = security.DefaultLimits()
	}
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	var rec recovery.Strategy
	if cfg.Strict {
		rec = recovery.NewStrictStrategy()
	} else {
		rec = recovery.NewLenientStrategy()
	}
	return &Extractor{cfg: cfg, rec: rec, log: log}
}

// Extract produces the fingerprint line for data. The same bytes always
// yield the same line; nothing in the pipeline depends on wall-clock time
// or iteration order.
func (e *Extractor) Extract(ctx context.Context, data []byte) (string, error) {
	trailers, loader, err := e.open(ctx, data)
	if err != nil {
		return "", err
	}

	encDict, trailer, err := e.findEncrypt(ctx, loader, trailers)
	if err != nil {
		return "", err
	}

	docID, err := e.findDocumentID(ctx, loader, trailers, trailer)
	if err != nil {
		return "", err
	}

	decoded, err := security.Interpret(encDict, docID)
	if err != nil {
		return "", err
	}

	e.log.Info("security handler decoded",
		observability.Int("revision", decoded.Revision),
		observability.Int("algorithm", decoded.AlgorithmVersion),
		observability.Int("key_bits", decoded.KeyLengthBits))
	return fingerprint.Format(decoded), nil
}

func (e *Extractor) open(ctx context.Context, data []byte) ([]raw.Dictionary, parser.ObjectLoader, error) {
	resolver := xref.NewResolver(xref.ResolverConfig{
		Limits:   e.cfg.Limits,
		Recovery: e.rec,
	})
	table, err := resolver.Resolve(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	trailers := resolver.Trailers()
	e.log.Debug("cross-reference resolved",
		observability.String("kind", table.Type()),
		observability.Int("trailers", len(trailers)))

	loader, err := parser.NewObjectLoaderBuilder().
		WithData(data).
		WithXRef(table).
		WithLimits(e.cfg.Limits).
		WithRecovery(e.rec).
		WithLogger(e.log).
		Build()
	if err != nil {
		return nil, nil, err
	}
	return trailers, loader, nil
}

// findEncrypt walks the trailers newest first and resolves the first
// /Encrypt it finds. It returns the trailer that carried the entry so the
// document id is taken from the same revision when possible.
func (e *Extractor) findEncrypt(ctx context.Context, loader parser.ObjectLoader, trailers []raw.Dictionary) (raw.Dictionary, raw.Dictionary, error) {
	for _, trailer := range trailers {
		obj, ok := trailer.Get(raw.NameObj{Val: "Encrypt"})
		if !ok {
			continue
		}
		resolved, err := loader.Resolve(ctx, obj)
		if err != nil {
			e.log.Warn("encrypt entry unresolvable", observability.Error("err", err))
			continue
		}
		dict, ok := resolved.(*raw.DictObj)
		if !ok {
			return nil, nil, fmt.Errorf("%w: /Encrypt is %s, not a dictionary", security.ErrMalformedHandler, resolved.Type())
		}
		return dict, trailer, nil
	}
	return nil, nil, ErrNotEncrypted
}

// findDocumentID resolves the first element of the /ID array, preferring
// the trailer that carried /Encrypt, then any other revision.
func (e *Extractor) findDocumentID(ctx context.Context, loader parser.ObjectLoader, trailers []raw.Dictionary, preferred raw.Dictionary) ([]byte, error) {
	ordered := make([]raw.Dictionary, 0, len(trailers)+1)
	if preferred != nil {
		ordered = append(ordered, preferred)
	}
	for _, t := range trailers {
		if t != preferred {
			ordered = append(ordered, t)
		}
	}

	for _, trailer := range ordered {
		obj, ok := trailer.Get(raw.NameObj{Val: "ID"})
		if !ok {
			continue
		}
		resolved, err := loader.Resolve(ctx, obj)
		if err != nil {
			continue
		}
		arr, ok := resolved.(*raw.ArrayObj)
		if !ok || arr.Len() == 0 {
			continue
		}
		first, _ := arr.Get(0)
		resolved, err = loader.Resolve(ctx, first)
		if err != nil {
			continue
		}
		if s, ok := resolved.(raw.StringObj); ok {
			return s.Bytes, nil
		}
	}
	return nil, ErrMissingDocumentID
}
