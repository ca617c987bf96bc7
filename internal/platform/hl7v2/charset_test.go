package hl7v2

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEncodeForWire_MatchesDeclaredLatin1(t *testing.T) {
	msg := admissionMessage()
	msg.Movement.MedicalUnit = Unit{Label: "Médecine", Code: "UF1"}
	data, err := EncodeADT(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := DeclaredCharset(data); got != CharsetLatin1 {
		t.Fatalf("expected MSH-18 %q, got %q", CharsetLatin1, got)
	}

	wire, err := EncodeForWire(data)
	if err != nil {
		t.Fatalf("encode for wire: %v", err)
	}
	if bytes.Contains(wire, []byte{0xC3, 0xA9}) {
		t.Error("wire bytes still carry the UTF-8 form of é")
	}
	if !bytes.Contains(wire, []byte("M\xe9decine")) {
		t.Errorf("expected ISO 8859-1 é on the wire, got %q", segmentLine(t, wire, "ZBE"))
	}

	back, err := DecodeFromWire(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Errorf("round trip changed the message:\n%q\n%q", back, data)
	}
}

func TestEncodeForWire_UnrepresentableRune(t *testing.T) {
	raw := []byte("MSH|^~\\&|A|B|C|D|20240101000000||ADT^A01^ADT_A01|1|P|2.5|||||FRA|8859/1\rPID|||1||Łukasz")
	wire, err := EncodeForWire(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(string(wire), "?ukasz") {
		t.Errorf("expected replacement character, got %q", wire)
	}
}

func TestEncodeForWire_UTF8Unchanged(t *testing.T) {
	raw := []byte("MSH|^~\\&|A|B|C|D|20240101000000||ADT^A01^ADT_A01|1|P|2.5|||||FRA|UNICODE UTF-8\rPID|||1||Hélène")
	wire, err := EncodeForWire(raw)
	if err != nil || !bytes.Equal(wire, raw) {
		t.Errorf("expected bytes unchanged, got %q, %v", wire, err)
	}
}

func TestDecodeFromWire_UndeclaredLatin1(t *testing.T) {
	raw := []byte("MSH|^~\\&|A|B|C|D|20240101000000||ADT^A01^ADT_A01|1|P|2.5\rPID|||1||H\xe9l\xe8ne")
	got, err := DecodeFromWire(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !utf8.Valid(got) || !strings.HasSuffix(string(got), "Hélène") {
		t.Errorf("expected UTF-8 Hélène, got %q", got)
	}
}

func TestCharset_Unsupported(t *testing.T) {
	raw := []byte("MSH|^~\\&|A|B|C|D|20240101000000||ADT^A01^ADT_A01|1|P|2.5|||||JPN|ISO IR87")
	if _, err := EncodeForWire(raw); err == nil {
		t.Error("expected an error for an unsupported character set")
	}
	if DeclaredCharset([]byte("MSH|^~\\&|A")) != "" {
		t.Error("expected no charset on a short header")
	}
}
