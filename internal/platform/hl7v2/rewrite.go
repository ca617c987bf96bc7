package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// timestampFields lists the fields rewritten when a message is re-timed, by
// segment name and HL7 position.
var timestampFields = map[string][]int{
	"MSH": {7},
	"EVN": {2, 6},
	"ZBE": {2},
}

// RewriteTimestamps replaces the header, event and movement timestamps of an
// encoded message with ts. Every other byte, including the segment
// separators and empty trailing fields, is left untouched.
func RewriteTimestamps(raw []byte, ts time.Time) []byte {
	sep := detectSeparator(string(raw))
	lines := strings.Split(string(raw), sep)
	value := FormatTimestamp(ts)

	for i, line := range lines {
		if len(line) < 3 {
			continue
		}
		positions, ok := timestampFields[line[:3]]
		if !ok {
			continue
		}
		lines[i] = replaceFields(line, positions, value)
	}
	return []byte(strings.Join(lines, sep))
}

// HeaderTimestamp reads MSH-7 without parsing the rest of the message.
func HeaderTimestamp(raw []byte) (time.Time, error) {
	for _, line := range SplitSegments(string(raw)) {
		if !strings.HasPrefix(line, "MSH") || len(line) < 4 {
			continue
		}
		fields := strings.Split(line, string(line[3]))
		if len(fields) < 7 || fields[6] == "" {
			return time.Time{}, fmt.Errorf("hl7v2: MSH-7 is empty")
		}
		return ParseTimestamp(fields[6])
	}
	return time.Time{}, fmt.Errorf("hl7v2: MSH segment not found")
}

func replaceFields(line string, positions []int, value string) string {
	fieldSep := "|"
	offset := 0
	if strings.HasPrefix(line, "MSH") {
		if len(line) < 4 {
			return line
		}
		fieldSep = string(line[3])
		// "MSH" occupies index 0 and MSH-2 index 1.
		offset = -1
	}

	fields := strings.Split(line, fieldSep)
	for _, pos := range positions {
		idx := pos + offset
		if idx <= 0 || idx >= len(fields) {
			continue
		}
		fields[idx] = value
	}
	return strings.Join(fields, fieldSep)
}

func detectSeparator(text string) string {
	switch {
	case strings.Contains(text, "\r\n"):
		return "\r\n"
	case strings.Contains(text, "\r"):
		return "\r"
	default:
		return "\n"
	}
}
