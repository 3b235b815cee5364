package parser_test

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"testing"

	"github.com/hashbaker/pdfhash/ir/raw"
	"github.com/hashbaker/pdfhash/parser"
	"github.com/hashbaker/pdfhash/xref"
)

// pdfBuilder accumulates objects and writes a classic xref trailer.
type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int
	maxObj  int
}

func newPDFBuilder() *pdfBuilder {
	b := &pdfBuilder{offsets: make(map[int]int)}
	b.buf.WriteString("%PDF-1.7\n")
	return b
}

func (b *pdfBuilder) addObject(num int, body string) {
	b.offsets[num] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
	if num > b.maxObj {
		b.maxObj = num
	}
}

func (b *pdfBuilder) addStream(num int, dict string, payload []byte) {
	b.offsets[num] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nstream\n", num, dict)
	b.buf.Write(payload)
	b.buf.WriteString("\nendstream\nendobj\n")
	if num > b.maxObj {
		b.maxObj = num
	}
}

func (b *pdfBuilder) finish(trailerExtra string) []byte {
	xrefOff := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", b.maxObj+1)
	b.buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= b.maxObj; i++ {
		if off, ok := b.offsets[i]; ok {
			fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
		} else {
			b.buf.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R %s>>\nstartxref\n%d\n%%%%EOF\n",
		b.maxObj+1, trailerExtra, xrefOff)
	return b.buf.Bytes()
}

func buildLoader(t *testing.T, data []byte) parser.ObjectLoader {
	t.Helper()
	resolver := xref.NewResolver(xref.ResolverConfig{})
	table, err := resolver.Resolve(context.Background(), data)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	loader, err := parser.NewObjectLoaderBuilder().
		WithData(data).
		WithXRef(table).
		Build()
	if err != nil {
		t.Fatalf("build loader: %v", err)
	}
	return loader
}

func TestLoaderLoadsDictionary(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.addObject(2, "<< /Type /Pages /Count 3 >>")
	data := b.finish("")

	loader := buildLoader(t, data)
	obj, err := loader.Load(context.Background(), raw.ObjectRef{Num: 2})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		t.Fatalf("expected dict, got %T", obj)
	}
	if count, ok := raw.DictInt(dict, "Count"); !ok || count != 3 {
		t.Fatalf("/Count: got %d %v", count, ok)
	}
}

func TestLoaderResolvesReferenceChains(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog /Next 2 0 R >>")
	b.addObject(2, "3 0 R")
	b.addObject(3, "(the payload)")
	data := b.finish("")

	loader := buildLoader(t, data)
	obj, err := loader.Resolve(context.Background(), raw.Ref(2, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	s, ok := obj.(raw.StringObj)
	if !ok || string(s.Bytes) != "the payload" {
		t.Fatalf("got %#v", obj)
	}
}

func TestLoaderRejectsReferenceCycle(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog >>")
	b.addObject(2, "3 0 R")
	b.addObject(3, "2 0 R")
	data := b.finish("")

	loader := buildLoader(t, data)
	if _, err := loader.Resolve(context.Background(), raw.Ref(2, 0)); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestLoaderStreamWithIndirectLength(t *testing.T) {
	payload := []byte("payload with endstream inside")
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog >>")
	b.addStream(2, "<< /Length 3 0 R >>", payload)
	b.addObject(3, fmt.Sprintf("%d", len(payload)))
	data := b.finish("")

	loader := buildLoader(t, data)
	obj, err := loader.Load(context.Background(), raw.ObjectRef{Num: 2})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		t.Fatalf("expected stream, got %T", obj)
	}
	if !bytes.Equal(stm.Data, payload) {
		t.Fatalf("payload: got %q, want %q", stm.Data, payload)
	}
}

func TestLoaderUnknownObjectIsNull(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog >>")
	data := b.finish("")

	loader := buildLoader(t, data)
	obj, err := loader.Load(context.Background(), raw.ObjectRef{Num: 99})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := obj.(raw.NullObj); !ok {
		t.Fatalf("expected null, got %T", obj)
	}
}

func buildObjStmPDF(t *testing.T, compress bool) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	// objects 4 and 5 packed into stream 3
	content := "<< /Kind /Packed /N 1 >> (second)"
	header := fmt.Sprintf("4 0 5 %d ", len("<< /Kind /Packed /N 1 >>")+1)
	decoded := []byte(header + content)
	first := len(header)

	payload := decoded
	filter := ""
	if compress {
		var z bytes.Buffer
		w := zlib.NewWriter(&z)
		if _, err := w.Write(decoded); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		payload = z.Bytes()
		filter = " /Filter /FlateDecode"
	}

	off3 := buf.Len()
	fmt.Fprintf(buf, "3 0 obj\n<< /Type /ObjStm /N 2 /First %d /Length %d%s >>\nstream\n",
		first, len(payload), filter)
	buf.Write(payload)
	buf.WriteString("\nendstream\nendobj\n")

	xrefOff := buf.Len()
	entries := make([]byte, 6*6) // W [1 4 1], objects 0..5
	set := func(obj, typ, f2, f3 int) {
		i := obj * 6
		entries[i] = byte(typ)
		entries[i+1] = byte(f2 >> 24)
		entries[i+2] = byte(f2 >> 16)
		entries[i+3] = byte(f2 >> 8)
		entries[i+4] = byte(f2)
		entries[i+5] = byte(f3)
	}
	set(1, 1, off1, 0)
	set(2, 1, xrefOff, 0)
	set(3, 1, off3, 0)
	set(4, 2, 3, 0)
	set(5, 2, 3, 1)
	fmt.Fprintf(buf, "2 0 obj\n<< /Type /XRef /Size 6 /Root 1 0 R /W [1 4 1] /Index [0 6] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

func TestLoaderObjectStream(t *testing.T) {
	for _, compress := range []bool{false, true} {
		data := buildObjStmPDF(t, compress)
		loader := buildLoader(t, data)

		obj, err := loader.Load(context.Background(), raw.ObjectRef{Num: 4})
		if err != nil {
			t.Fatalf("compress=%v load obj 4: %v", compress, err)
		}
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			t.Fatalf("compress=%v: expected dict, got %T", compress, obj)
		}
		if kind := raw.DictName(dict, "Kind"); kind != "Packed" {
			t.Fatalf("compress=%v: /Kind = %q", compress, kind)
		}

		obj, err = loader.Load(context.Background(), raw.ObjectRef{Num: 5})
		if err != nil {
			t.Fatalf("compress=%v load obj 5: %v", compress, err)
		}
		s, ok := obj.(raw.StringObj)
		if !ok || string(s.Bytes) != "second" {
			t.Fatalf("compress=%v: got %#v", compress, obj)
		}
	}
}
