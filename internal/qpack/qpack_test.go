package qpack

import "testing"

// roundtrip packs a small series.dat-shaped record and reads it back.
func TestRoundtripSeriesRecord(t *testing.T) {
	p := NewPacker(64)
	p.AddArrayOpen()
	p.AddInt16(1) // schema
	p.AddArray(3)
	p.AddStringTerm("cpu.load")
	p.AddInt32(7)
	p.AddInt8(0)
	p.AddEnd()

	u := NewUnpacker(p.Bytes())
	schema, err := ReadSchemaHeader(u)
	if err != nil {
		t.Fatalf("ReadSchemaHeader: %v", err)
	}
	if schema != 1 {
		t.Fatalf("schema = %d, want 1", schema)
	}

	var v Value
	if tag, err := u.Next(&v); err != nil || tag != TagArray3 {
		t.Fatalf("expected ARRAY3, got tag=%v err=%v", tag, err)
	}
	if tag, err := u.Next(&v); err != nil || tag != TagRaw8 {
		t.Fatalf("expected raw name, got tag=%v err=%v", tag, err)
	}
	if got, want := string(v.Raw), "cpu.load\x00"; got != want {
		t.Fatalf("name = %q, want %q", got, want)
	}
	if tag, err := u.Next(&v); err != nil || tag != TagInt32 || v.Int != 7 {
		t.Fatalf("expected id=7, got tag=%v val=%d err=%v", tag, v.Int, err)
	}
	if tag, err := u.Next(&v); err != nil || tag != TagInt8 || v.Int != 0 {
		t.Fatalf("expected tp=0, got tag=%v val=%d err=%v", tag, v.Int, err)
	}
	if tag, err := u.Next(&v); err != nil || tag != TagEnd {
		t.Fatalf("expected END, got tag=%v err=%v", tag, err)
	}
}

// Sc5 — ReadSchemaHeader must report an unsupported schema version as-is,
// so a metadata loader comparing it against the version it understands can
// reject the file instead of silently accepting it.
func TestSchemaMismatchRejected(t *testing.T) {
	p := NewPacker(8)
	p.AddArrayOpen()
	p.AddInt16(2) // unsupported schema
	p.AddEnd()

	u := NewUnpacker(p.Bytes())
	schema, err := ReadSchemaHeader(u)
	if err != nil {
		t.Fatalf("ReadSchemaHeader: %v", err)
	}
	if schema == 1 {
		t.Fatalf("schema unexpectedly matched supported version")
	}
}

func TestSmallIntegersAndDouble(t *testing.T) {
	p := NewPacker(32)
	p.AddInt64(-1)
	p.AddDouble(3.5)
	p.AddTrue()
	p.AddFalse()
	p.AddNull()

	u := NewUnpacker(p.Bytes())
	var v Value
	if tag, _ := u.Next(&v); tag != TagInt64 || v.Int != -1 {
		t.Fatalf("int64 roundtrip failed: tag=%v val=%d", tag, v.Int)
	}
	if tag, _ := u.Next(&v); tag != TagDouble || v.Double != 3.5 {
		t.Fatalf("double roundtrip failed: tag=%v val=%f", tag, v.Double)
	}
	if tag, _ := u.Next(&v); tag != TagTrue {
		t.Fatalf("expected TRUE, got %v", tag)
	}
	if tag, _ := u.Next(&v); tag != TagFalse {
		t.Fatalf("expected FALSE, got %v", tag)
	}
	if tag, _ := u.Next(&v); tag != TagNull {
		t.Fatalf("expected NULL, got %v", tag)
	}
}
