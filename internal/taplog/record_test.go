package taplog

import "testing"

func TestFrameRoundtrip(t *testing.T) {
	rec := EncodeFrame(1700000000123, "ev-42", []byte(`{"jsonrpc":"2.0"}`))
	f, ok := DecodeFrame(rec)
	if !ok {
		t.Fatalf("decode failed")
	}
	if f.CapturedAt != 1700000000123 {
		t.Fatalf("capturedAt mismatch: %d", f.CapturedAt)
	}
	if f.EventID != "ev-42" {
		t.Fatalf("event id mismatch: %q", f.EventID)
	}
	if string(f.Data) != `{"jsonrpc":"2.0"}` {
		t.Fatalf("data mismatch: %q", f.Data)
	}
}

func TestFrameEmptyID(t *testing.T) {
	rec := EncodeFrame(5, "", []byte("x"))
	f, ok := DecodeFrame(rec)
	if !ok {
		t.Fatalf("decode failed")
	}
	if f.EventID != "" || string(f.Data) != "x" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestFrameCRCFail(t *testing.T) {
	rec := EncodeFrame(1, "a", []byte("b"))
	rec[len(rec)-1] ^= 0xFF // corrupt one byte
	if _, ok := DecodeFrame(rec); ok {
		t.Fatalf("expected crc failure")
	}
}

func TestFrameTruncated(t *testing.T) {
	rec := EncodeFrame(1, "a", []byte("b"))
	if _, ok := DecodeFrame(rec[:5]); ok {
		t.Fatalf("expected decode failure on truncated input")
	}
}
