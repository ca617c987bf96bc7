package hl7v2

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Character sets carried in MSH-18 (HL7 table 0211).
const (
	CharsetUTF8    = "UNICODE UTF-8"
	CharsetLatin1  = "8859/1"
	CharsetLatin9  = "8859/15"
	CharsetASCII   = "ASCII"
	msh18FieldSlot = 17
)

// Payloads are held as UTF-8 everywhere in the engine. Charset conversion
// happens only at the MLLP boundary, driven by MSH-18.

// DeclaredCharset returns MSH-18 of raw, empty when absent.
func DeclaredCharset(raw []byte) string {
	for _, line := range SplitSegments(string(raw)) {
		if !strings.HasPrefix(line, "MSH") || len(line) < 4 {
			continue
		}
		fields := strings.Split(line, string(line[3]))
		if len(fields) <= msh18FieldSlot {
			return ""
		}
		// MSH-18 may repeat; the first repetition is the default charset.
		value := fields[msh18FieldSlot]
		if i := strings.IndexByte(value, '~'); i >= 0 {
			value = value[:i]
		}
		return strings.ToUpper(strings.TrimSpace(value))
	}
	return ""
}

func charmapFor(charset string) (*charmap.Charmap, bool, error) {
	switch charset {
	case "", CharsetUTF8, CharsetASCII:
		return nil, false, nil
	case CharsetLatin1:
		return charmap.ISO8859_1, true, nil
	case CharsetLatin9:
		return charmap.ISO8859_15, true, nil
	default:
		return nil, false, fmt.Errorf("hl7v2: unsupported character set %q", charset)
	}
}

// EncodeForWire converts a UTF-8 message to the character set its MSH-18
// declares. Characters the target set cannot represent become '?'.
func EncodeForWire(raw []byte) ([]byte, error) {
	cm, convert, err := charmapFor(DeclaredCharset(raw))
	if err != nil || !convert {
		return raw, err
	}
	out := make([]byte, 0, len(raw))
	for _, r := range string(raw) {
		b, ok := cm.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out, nil
}

// DecodeFromWire converts a received message to UTF-8 according to its
// MSH-18. Messages that declare no single-byte set but are not valid UTF-8
// are read as ISO 8859-1.
func DecodeFromWire(raw []byte) ([]byte, error) {
	cm, convert, err := charmapFor(DeclaredCharset(raw))
	if err != nil {
		return raw, err
	}
	if !convert {
		if utf8.Valid(raw) {
			return raw, nil
		}
		cm = charmap.ISO8859_1
	}
	return cm.NewDecoder().Bytes(raw)
}
