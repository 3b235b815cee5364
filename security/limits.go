package security

import "time"

// Limits bounds resource use while decoding hostile or corrupt documents
// (decompression bombs, cyclic reference chains, runaway token scans).
type Limits struct {
	// Maximum decompressed stream size. Default: 100 MB.
	MaxDecompressedSize int64

	// Maximum indirect reference resolution depth. Default: 32.
	MaxIndirectDepth int

	// Maximum cross-reference chain length (/Prev hops). Default: 50.
	MaxXRefDepth int

	// Maximum array nesting depth. Default: 64.
	MaxArrayDepth int

	// Maximum dictionary nesting depth. Default: 64.
	MaxDictDepth int

	// Maximum string length in bytes. Default: 10 MB.
	MaxStringLength int64

	// Maximum raw stream length in bytes. Default: 50 MB.
	MaxStreamLength int64

	// Maximum objects held by a single object stream. Default: 10,000.
	MaxObjStmObjects int

	// Maximum decode time per stream. Default: 30s.
	MaxDecodeTime time.Duration
}

// DefaultLimits returns safe defaults for untrusted input.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 100 * 1024 * 1024,
		MaxIndirectDepth:    32,
		MaxXRefDepth:        50,
		MaxArrayDepth:       64,
		MaxDictDepth:        64,
		MaxStringLength:     10 * 1024 * 1024,
		MaxStreamLength:     50 * 1024 * 1024,
		MaxObjStmObjects:    10000,
		MaxDecodeTime:       30 * time.Second,
	}
}
