package scenario

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

//go:embed templates.yaml
var defaultCatalog []byte

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadCatalog decodes a YAML template catalog and checks every template.
func LoadCatalog(data []byte) ([]Template, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode template catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Templates))
	for i := range f.Templates {
		t := &f.Templates[i]
		if err := validateTemplate(t); err != nil {
			return nil, err
		}
		if seen[t.Key] {
			return nil, apperr.Validation("key", "duplicate template key %q", t.Key)
		}
		seen[t.Key] = true
	}
	return f.Templates, nil
}

// DefaultCatalog returns the embedded templates.
func DefaultCatalog() ([]Template, error) {
	return LoadCatalog(defaultCatalog)
}

func validateTemplate(t *Template) error {
	if t.Key == "" {
		return apperr.Validation("key", "template key is required")
	}
	if t.Name == "" {
		return apperr.Validation("name", "template %s: name is required", t.Key)
	}
	if len(t.Protocols) == 0 {
		return apperr.Validation("protocols", "template %s: at least one protocol is required", t.Key)
	}
	for _, p := range t.Protocols {
		if p != ProtocolLegacy && p != ProtocolBundle {
			return apperr.Validation("protocols", "template %s: unsupported protocol %q", t.Key, p)
		}
	}
	for i, st := range t.Steps {
		if st.EventCode == "" {
			return apperr.Validation("steps", "template %s step %d: event is required", t.Key, st.OrderIndex)
		}
		if st.DelaySeconds != nil && *st.DelaySeconds < 0 {
			return apperr.Validation("steps", "template %s step %d: delay_seconds must not be negative", t.Key, st.OrderIndex)
		}
		if i > 0 && st.OrderIndex != t.Steps[i-1].OrderIndex+1 {
			return apperr.Validation("steps", "template %s: order indices must be consecutive", t.Key)
		}
	}
	return nil
}

// SeedTemplates inserts every template whose key is not stored yet. It
// returns the number of templates created.
func SeedTemplates(ctx context.Context, repo TemplateRepository, templates []Template) (int, error) {
	created := 0
	for i := range templates {
		t := templates[i]
		_, err := repo.GetTemplateByKey(ctx, t.Key)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return created, err
		}
		t.Steps = append([]TemplateStep(nil), t.Steps...)
		if err := repo.CreateTemplate(ctx, &t); err != nil {
			return created, fmt.Errorf("seed template %s: %w", t.Key, err)
		}
		created++
	}
	return created, nil
}
