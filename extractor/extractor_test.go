package extractor_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashbaker/pdfhash/extractor"
)

// buildEncryptedPDF assembles a classic-xref document whose trailer points
// at the given encryption dictionary body.
func buildEncryptedPDF(encBody, trailerExtra string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int)
	offsets[1] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	offsets[2] = buf.Len()
	fmt.Fprintf(buf, "2 0 obj\n%s\nendobj\n", encBody)

	xrefOff := buf.Len()
	buf.WriteString("xref\n0 3\n0000000000 65535 f \n")
	for i := 1; i <= 2; i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(buf, "trailer\n<< /Size 3 /Root 1 0 R /Encrypt 2 0 R %s>>\nstartxref\n%d\n%%%%EOF\n",
		trailerExtra, xrefOff)
	return buf.Bytes()
}

var (
	rev4Owner = strings.Repeat("aa", 32)
	rev4User  = strings.Repeat("bb", 32)

	rev4Handler = `<< /Filter /Standard /V 4 /R 4 /Length 128 /P -3904 ` +
		`/O <` + rev4Owner + `> /U <` + rev4User + `> >>`
)

func TestExtractRevision4(t *testing.T) {
	data := buildEncryptedPDF(rev4Handler, "/ID [<deadbeef> <deadbeef>] ")

	ex := extractor.New(extractor.Config{})
	line, err := ex.Extract(context.Background(), data)
	require.NoError(t, err)

	want := "$pdf$4*4*128*-3904*1*4*deadbeef*32*" + rev4Owner + "*32*" + rev4User
	assert.Equal(t, want, line)
}

func TestExtractRevision6(t *testing.T) {
	oe := strings.Repeat("cc", 32)
	ue := strings.Repeat("dd", 32)
	enc := `<< /Filter /Standard /V 5 /R 6 /Length 256 /P -4 /EncryptMetadata false ` +
		`/O <` + strings.Repeat("11", 48) + `> /U <` + strings.Repeat("22", 48) + `> ` +
		`/OE <` + oe + `> /UE <` + ue + `> >>`
	data := buildEncryptedPDF(enc, "/ID [<0102> <0102>] ")

	ex := extractor.New(extractor.Config{})
	line, err := ex.Extract(context.Background(), data)
	require.NoError(t, err)

	want := "$pdf$5*6*256*-4*0*2*0102*32*" + oe + "*32*" + ue
	assert.Equal(t, want, line)
}

func TestExtractNotEncrypted(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R /ID [<aa> <aa>] >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	ex := extractor.New(extractor.Config{})
	_, err := ex.Extract(context.Background(), buf.Bytes())
	assert.ErrorIs(t, err, extractor.ErrNotEncrypted)
}

func TestExtractMissingDocumentID(t *testing.T) {
	data := buildEncryptedPDF(rev4Handler, "")

	ex := extractor.New(extractor.Config{})
	_, err := ex.Extract(context.Background(), data)
	assert.ErrorIs(t, err, extractor.ErrMissingDocumentID)
}

func TestExtractUnsupportedHandler(t *testing.T) {
	enc := `<< /Filter /Adobe.PubSec /V 4 /R 4 /P -1 >>`
	data := buildEncryptedPDF(enc, "/ID [<aa> <aa>] ")

	ex := extractor.New(extractor.Config{})
	_, err := ex.Extract(context.Background(), data)
	assert.ErrorIs(t, err, extractor.ErrUnsupportedHandler)
}

func TestExtractMalformedHandler(t *testing.T) {
	enc := `<< /Filter /Standard /V 4 >>` // no /R, no /P
	data := buildEncryptedPDF(enc, "/ID [<aa> <aa>] ")

	ex := extractor.New(extractor.Config{})
	_, err := ex.Extract(context.Background(), data)
	assert.ErrorIs(t, err, extractor.ErrMalformedHandler)
}

func TestExtractStructuralCorruptionStrict(t *testing.T) {
	ex := extractor.New(extractor.Config{Strict: true})
	_, err := ex.Extract(context.Background(), []byte("%PDF-1.7\ngarbage, no xref\n"))
	assert.ErrorIs(t, err, extractor.ErrStructuralCorruption)
}

func TestExtractLenientRepairsMissingXRef(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	fmt.Fprintf(buf, "2 0 obj\n%s\nendobj\n", rev4Handler)
	// trailer dict exists as a plain object, no xref or startxref at all
	buf.WriteString("3 0 obj\n<< /Root 1 0 R /Encrypt 2 0 R /ID [<deadbeef> <deadbeef>] /Size 4 >>\nendobj\n")
	buf.WriteString("%%EOF\n")

	ex := extractor.New(extractor.Config{})
	line, err := ex.Extract(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "$pdf$4*4*128*-3904*1*4*deadbeef*"), "got %q", line)
}

func TestExtractDirectEncryptDictionary(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R /Encrypt %s /ID [<ff> <ff>] >>\nstartxref\n%d\n%%%%EOF\n",
		rev4Handler, xrefOff)

	ex := extractor.New(extractor.Config{})
	line, err := ex.Extract(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, line, "*1*ff*")
}

func TestExtractIncrementalUpdateWinsNewestEncrypt(t *testing.T) {
	// base revision is unencrypted, the update adds /Encrypt
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	baseXRef := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", baseXRef)

	off2 := buf.Len()
	fmt.Fprintf(buf, "2 0 obj\n%s\nendobj\n", rev4Handler)
	updXRef := buf.Len()
	fmt.Fprintf(buf, "xref\n2 1\n%010d 00000 n \n", off2)
	fmt.Fprintf(buf, "trailer\n<< /Size 3 /Root 1 0 R /Encrypt 2 0 R /ID [<0a0b> <0a0b>] /Prev %d >>\nstartxref\n%d\n%%%%EOF\n",
		baseXRef, updXRef)

	ex := extractor.New(extractor.Config{})
	line, err := ex.Extract(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, line, "*2*0a0b*")
}

func TestExtractDeterministic(t *testing.T) {
	data := buildEncryptedPDF(rev4Handler, "/ID [<deadbeef> <deadbeef>] ")
	ex := extractor.New(extractor.Config{})

	first, err := ex.Extract(context.Background(), data)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		line, err := ex.Extract(context.Background(), data)
		require.NoError(t, err)
		assert.Equal(t, first, line)
	}
}
