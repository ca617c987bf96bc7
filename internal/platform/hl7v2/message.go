package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message is a parsed HL7v2 message.
type Message struct {
	Type         string    // MSH-9 (e.g. "ADT^A01^ADT_A01")
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Segments     []Segment
}

// Segment is a single HL7v2 segment.
type Segment struct {
	Name   string
	Fields []Field
}

// Field holds the raw value plus its components and repetitions.
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse parses raw HL7v2 bytes. Segments may be separated by \r, \n or \r\n.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	lines := SplitSegments(string(raw))
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	msg := &Message{}
	for _, line := range lines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: failed to parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	if err := msg.extractMSHFields(); err != nil {
		return nil, err
	}
	return msg, nil
}

// SplitSegments normalises line endings and returns the non-empty segment
// lines.
func SplitSegments(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var out []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	// MSH-1 is the field separator itself, so MSH fields are stored from
	// MSH-1 and other segments from field 1.
	if strings.HasPrefix(line, "MSH") {
		seg := Segment{Name: "MSH"}
		if len(line) < 4 {
			return seg, nil
		}
		sep := string(line[3])
		seg.Fields = append(seg.Fields, Field{Value: sep, Components: []string{sep}})
		for _, part := range strings.Split(line[4:], sep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg, nil
	}

	parts := strings.SplitN(line, "|", 2)
	seg := Segment{Name: parts[0]}
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseField(f))
		}
	}
	return seg, nil
}

func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

func (m *Message) extractMSHFields() error {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return fmt.Errorf("hl7v2: MSH segment not found")
	}

	m.SendingApp = msh.GetField(3)
	m.SendingFac = msh.GetField(4)
	m.ReceivingApp = msh.GetField(5)
	m.ReceivingFac = msh.GetField(6)
	if ts := msh.GetField(7); ts != "" {
		if t, err := ParseTimestamp(ts); err == nil {
			m.Timestamp = t
		}
	}
	m.Type = msh.GetField(9)
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetField(12)
	return nil
}

// ParseTimestamp parses an HL7 DTM (YYYYMMDD[HHmm[ss[.S+]]][+/-ZZZZ]). A
// trailing offset is honoured; without one the value is read as UTC. The
// result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	loc := time.UTC
	if i := strings.LastIndexAny(s, "+-"); i >= 8 {
		zone, err := time.Parse("-0700", s[i:])
		if err != nil {
			return time.Time{}, fmt.Errorf("hl7v2: invalid timestamp offset: %q", s)
		}
		loc = zone.Location()
		s = s[:i]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}

	var (
		t   time.Time
		err error
	)
	switch {
	case len(s) >= 14:
		t, err = time.ParseInLocation(timestampLayout, s[:14], loc)
	case len(s) >= 12:
		t, err = time.ParseInLocation("200601021504", s[:12], loc)
	case len(s) >= 8:
		t, err = time.ParseInLocation("20060102", s[:8], loc)
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// GetSegment returns the first segment named name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns every segment named name.
func (m *Message) GetSegments(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

// GetField returns a field by its 1-based HL7 position (MSH-1 for MSH).
func (s *Segment) GetField(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// GetComponent returns a component by 1-based field and component indices.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	comps := s.Fields[idx].Components
	ci := compIdx - 1
	if ci < 0 || ci >= len(comps) {
		return ""
	}
	return comps[ci]
}

// Trigger returns the trigger event from MSH-9.2, e.g. "A01".
func (m *Message) Trigger() string {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return ""
	}
	return msh.GetComponent(9, 2)
}

// MessageCode returns MSH-9.1, e.g. "ADT" or "ACK".
func (m *Message) MessageCode() string {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return ""
	}
	return msh.GetComponent(9, 1)
}

// PatientID returns PID-3.1 of the first repetition.
func (m *Message) PatientID() string {
	pid := m.GetSegment("PID")
	if pid == nil {
		return ""
	}
	return pid.GetComponent(3, 1)
}

// VisitNumber returns PV1-19.1.
func (m *Message) VisitNumber() string {
	pv1 := m.GetSegment("PV1")
	if pv1 == nil {
		return ""
	}
	return pv1.GetComponent(19, 1)
}

// MovementID returns ZBE-1.1.
func (m *Message) MovementID() string {
	zbe := m.GetSegment("ZBE")
	if zbe == nil {
		return ""
	}
	return zbe.GetComponent(1, 1)
}

// AckCode returns MSA-1, or "" when the message carries no MSA.
func (m *Message) AckCode() string {
	msa := m.GetSegment("MSA")
	if msa == nil {
		return ""
	}
	return msa.GetField(1)
}
