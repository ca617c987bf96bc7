package scenario

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

// Document is the portable JSON form of a scenario. Payloads travel as
// JSON strings and are never re-encoded.
type Document struct {
	Key         string             `json:"key"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Category    string             `json:"category,omitempty"`
	Protocol    string             `json:"protocol"`
	Tags        []string           `json:"tags"`
	TimeConfig  DocumentTimeConfig `json:"time_config"`
	Steps       []DocumentStep     `json:"steps"`
}

type DocumentTimeConfig struct {
	AnchorMode        string   `json:"anchor_mode"`
	AnchorDaysOffset  int      `json:"anchor_days_offset"`
	FixedStartISO     string   `json:"fixed_start_iso,omitempty"`
	PreserveIntervals bool     `json:"preserve_intervals"`
	JitterMin         int      `json:"jitter_min"`
	JitterMax         int      `json:"jitter_max"`
	JitterEvents      []string `json:"jitter_events"`
}

type DocumentStep struct {
	OrderIndex   int    `json:"order_index"`
	MessageType  string `json:"message_type"`
	Format       string `json:"format"`
	EventCode    string `json:"event_code,omitempty"`
	DelaySeconds int    `json:"delay_seconds"`
	Payload      string `json:"payload"`
}

// Export converts a scenario with its steps to a Document.
func Export(s *Scenario) *Document {
	doc := &Document{
		Key:         s.Key,
		Name:        s.Name,
		Description: s.Description,
		Category:    s.Category,
		Protocol:    s.Protocol,
		Tags:        nonNil(s.Tags),
		TimeConfig: DocumentTimeConfig{
			AnchorMode:        s.TimeConfig.AnchorMode,
			AnchorDaysOffset:  s.TimeConfig.AnchorDaysOffset,
			PreserveIntervals: s.TimeConfig.PreserveIntervals,
			JitterMin:         s.TimeConfig.JitterMin,
			JitterMax:         s.TimeConfig.JitterMax,
			JitterEvents:      nonNil(s.TimeConfig.JitterEvents),
		},
		Steps: make([]DocumentStep, 0, len(s.Steps)),
	}
	if s.TimeConfig.FixedStart != nil {
		doc.TimeConfig.FixedStartISO = s.TimeConfig.FixedStart.UTC().Format(time.RFC3339)
	}
	for _, st := range s.Steps {
		doc.Steps = append(doc.Steps, DocumentStep{
			OrderIndex:   st.OrderIndex,
			MessageType:  st.MessageType,
			Format:       st.Format,
			EventCode:    st.EventCode,
			DelaySeconds: st.DelaySeconds,
			Payload:      st.Payload,
		})
	}
	return doc
}

// rawDocument mirrors Document with pointers so that missing required
// members can be told apart from zero values.
type rawDocument struct {
	Key         *string             `json:"key"`
	Name        *string             `json:"name"`
	Description string              `json:"description"`
	Category    string              `json:"category"`
	Protocol    *string             `json:"protocol"`
	Tags        []string            `json:"tags"`
	TimeConfig  *DocumentTimeConfig `json:"time_config"`
	Steps       *[]rawStep          `json:"steps"`
}

type rawStep struct {
	OrderIndex   *int    `json:"order_index"`
	MessageType  *string `json:"message_type"`
	Format       string  `json:"format"`
	EventCode    string  `json:"event_code"`
	DelaySeconds int     `json:"delay_seconds"`
	Payload      *string `json:"payload"`
}

// ParseDocument decodes data into a Scenario ready to be stored. keyOverride,
// when not empty, replaces the document key. Every structural problem is
// reported as an *apperr.ImportError.
func ParseDocument(data []byte, keyOverride string) (*Scenario, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &apperr.ImportError{Reason: "malformed document", Err: err}
	}

	key := ""
	if raw.Key != nil {
		key = *raw.Key
	}
	if keyOverride != "" {
		key = keyOverride
	}
	switch {
	case raw.Key == nil && keyOverride == "":
		return nil, importMissing(key, "key")
	case raw.Name == nil:
		return nil, importMissing(key, "name")
	case raw.Protocol == nil:
		return nil, importMissing(key, "protocol")
	case raw.Steps == nil:
		return nil, importMissing(key, "steps")
	}

	s := &Scenario{
		Key:         key,
		Name:        *raw.Name,
		Description: raw.Description,
		Category:    raw.Category,
		Protocol:    *raw.Protocol,
		Tags:        nonNil(raw.Tags),
		Active:      true,
	}
	if raw.TimeConfig != nil {
		tc := raw.TimeConfig
		s.TimeConfig = TimeConfig{
			AnchorMode:        tc.AnchorMode,
			AnchorDaysOffset:  tc.AnchorDaysOffset,
			PreserveIntervals: tc.PreserveIntervals,
			JitterMin:         tc.JitterMin,
			JitterMax:         tc.JitterMax,
			JitterEvents:      nonNil(tc.JitterEvents),
		}
		if tc.FixedStartISO != "" {
			fixed, err := time.Parse(time.RFC3339, tc.FixedStartISO)
			if err != nil {
				return nil, &apperr.ImportError{Key: key, Reason: "invalid time_config.fixed_start_iso", Err: err}
			}
			s.TimeConfig.FixedStart = &fixed
		}
	}

	if len(*raw.Steps) == 0 {
		return nil, &apperr.ImportError{Key: key, Reason: "steps is empty"}
	}
	for i, rs := range *raw.Steps {
		switch {
		case rs.OrderIndex == nil:
			return nil, importMissing(key, stepField(i, "order_index"))
		case rs.MessageType == nil:
			return nil, importMissing(key, stepField(i, "message_type"))
		case rs.Payload == nil:
			return nil, importMissing(key, stepField(i, "payload"))
		}
		s.Steps = append(s.Steps, Step{
			OrderIndex:   *rs.OrderIndex,
			Format:       rs.Format,
			MessageType:  *rs.MessageType,
			EventCode:    rs.EventCode,
			Payload:      *rs.Payload,
			DelaySeconds: rs.DelaySeconds,
		})
	}

	if err := s.Validate(); err != nil {
		return nil, &apperr.ImportError{Key: key, Reason: "invalid scenario", Err: err}
	}
	return s, nil
}

func importMissing(key, field string) error {
	return &apperr.ImportError{Key: key, Reason: "missing required member " + field}
}

func stepField(i int, name string) string {
	return "steps[" + strconv.Itoa(i) + "]." + name
}
