package fingerprint

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hashbaker/pdfhash/security"
)

func TestFormatRevision4(t *testing.T) {
	d := &security.EncryptionDictionary{
		AlgorithmVersion: 4,
		Revision:         4,
		KeyLengthBits:    128,
		Permissions:      -3904,
		EncryptMetadata:  true,
		DocumentID:       []byte{0xde, 0xad, 0xbe, 0xef},
		OwnerData:        bytes.Repeat([]byte{0xaa}, 32),
		UserData:         bytes.Repeat([]byte{0xbb}, 32),
	}
	want := "$pdf$4*4*128*-3904*1*4*deadbeef" +
		"*32*" + strings.Repeat("aa", 32) +
		"*32*" + strings.Repeat("bb", 32)

	got := Format(d)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fingerprint mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatRevision6(t *testing.T) {
	d := &security.EncryptionDictionary{
		AlgorithmVersion: 5,
		Revision:         6,
		KeyLengthBits:    256,
		Permissions:      -4,
		EncryptMetadata:  false,
		DocumentID:       []byte{0x01, 0x02},
		OwnerSeed:        bytes.Repeat([]byte{0xcc}, 32),
		UserSeed:         bytes.Repeat([]byte{0xdd}, 32),
	}
	want := "$pdf$5*6*256*-4*0*2*0102" +
		"*32*" + strings.Repeat("cc", 32) +
		"*32*" + strings.Repeat("dd", 32)

	got := Format(d)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fingerprint mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatSkipsAbsentFields(t *testing.T) {
	d := &security.EncryptionDictionary{
		AlgorithmVersion: 1,
		Revision:         2,
		KeyLengthBits:    40,
		Permissions:      -1,
		EncryptMetadata:  true,
		DocumentID:       []byte{0xff},
		UserData:         []byte{0x10, 0x20},
	}
	got := Format(d)
	want := "$pdf$1*2*40*-1*1*1*ff*2*1020"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatNoTrailingDelimiterOrNewline(t *testing.T) {
	d := &security.EncryptionDictionary{
		AlgorithmVersion: 2,
		Revision:         3,
		KeyLengthBits:    128,
		Permissions:      -44,
		EncryptMetadata:  true,
		DocumentID:       []byte{0x00},
		OwnerData:        []byte{0x01},
		UserData:         []byte{0x02},
	}
	got := Format(d)
	if strings.HasSuffix(got, "*") || strings.ContainsAny(got, "\r\n") {
		t.Fatalf("stray delimiter or newline in %q", got)
	}
	if !strings.HasPrefix(got, "$pdf$") {
		t.Fatalf("missing prefix in %q", got)
	}
}

func TestFormatLowercaseHex(t *testing.T) {
	d := &security.EncryptionDictionary{
		AlgorithmVersion: 2,
		Revision:         3,
		KeyLengthBits:    128,
		Permissions:      -1,
		EncryptMetadata:  true,
		DocumentID:       []byte{0xAB, 0xCD, 0xEF},
		OwnerData:        []byte{0xFE},
		UserData:         []byte{0xDC},
	}
	got := Format(d)
	if got != strings.ToLower(got) {
		t.Fatalf("hex must be lowercase: %q", got)
	}
}

func TestFormatDeterministic(t *testing.T) {
	d := &security.EncryptionDictionary{
		AlgorithmVersion: 4,
		Revision:         4,
		KeyLengthBits:    128,
		Permissions:      -3904,
		EncryptMetadata:  true,
		DocumentID:       []byte{0x42},
		OwnerData:        bytes.Repeat([]byte{0x11}, 32),
		UserData:         bytes.Repeat([]byte{0x22}, 32),
	}
	first := Format(d)
	for i := 0; i < 16; i++ {
		if got := Format(d); got != first {
			t.Fatalf("run %d differs: %q vs %q", i, got, first)
		}
	}
}

func TestFormatTruncatesDefensively(t *testing.T) {
	d := &security.EncryptionDictionary{
		AlgorithmVersion: 2,
		Revision:         3,
		KeyLengthBits:    128,
		Permissions:      -1,
		EncryptMetadata:  true,
		DocumentID:       []byte{0x01},
		OwnerData:        bytes.Repeat([]byte{0x33}, 100), // built by hand, overlong
		UserData:         []byte{0x44},
	}
	got := Format(d)
	if strings.Contains(got, "*100*") {
		t.Fatalf("overlong field not truncated: %q", got)
	}
	if !strings.Contains(got, "*32*"+strings.Repeat("33", 32)+"*") {
		t.Fatalf("expected 32-byte owner field in %q", got)
	}
}
