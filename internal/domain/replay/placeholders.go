package replay

import (
	"context"
	"fmt"
	"strings"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/materialize"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/sequence"
)

const identifierWidth = 8

// placeholders resolves the identifier placeholders of captured payloads.
// The patient and visit values are drawn once per run; every step carrying
// a movement placeholder gets its own movement value.
type placeholders struct {
	seq     sequence.Generator
	patient string
	visit   string
}

func newPlaceholders(seq sequence.Generator) *placeholders {
	return &placeholders{seq: seq}
}

func (p *placeholders) resolve(ctx context.Context, payload string) (string, error) {
	if !strings.Contains(payload, "{{") {
		return payload, nil
	}
	var pairs []string
	if strings.Contains(payload, materialize.PatientPlaceholder) {
		if p.patient == "" {
			v, err := p.draw(ctx, sequence.Patient, materialize.DefaultPatientPrefix)
			if err != nil {
				return "", err
			}
			p.patient = v
		}
		pairs = append(pairs, materialize.PatientPlaceholder, p.patient)
	}
	if strings.Contains(payload, materialize.VisitPlaceholder) {
		if p.visit == "" {
			v, err := p.draw(ctx, sequence.Visit, materialize.DefaultVisitPrefix)
			if err != nil {
				return "", err
			}
			p.visit = v
		}
		pairs = append(pairs, materialize.VisitPlaceholder, p.visit)
	}
	if strings.Contains(payload, materialize.MovementPlaceholder) {
		v, err := p.draw(ctx, sequence.Movement, materialize.DefaultMovementPrefix)
		if err != nil {
			return "", err
		}
		pairs = append(pairs, materialize.MovementPlaceholder, v)
	}
	if len(pairs) == 0 {
		return payload, nil
	}
	return strings.NewReplacer(pairs...).Replace(payload), nil
}

func (p *placeholders) draw(ctx context.Context, name, prefix string) (string, error) {
	if p.seq == nil {
		return "", fmt.Errorf("no sequence generator to resolve %s placeholder", name)
	}
	v, err := p.seq.Next(ctx, name)
	if err != nil {
		return "", err
	}
	return sequence.Format(prefix, v, identifierWidth), nil
}

// identifiers returns the values drawn so far, keyed like a scenario binding.
func (p *placeholders) identifiers() map[string]string {
	ids := make(map[string]string, 2)
	if p.patient != "" {
		ids["patient"] = p.patient
	}
	if p.visit != "" {
		ids["visit"] = p.visit
	}
	return ids
}
