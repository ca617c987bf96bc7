package hl7v2

import (
	"testing"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

func TestNormalizeTrigger(t *testing.T) {
	tests := map[string]string{
		"A01":             "A01",
		" a02 ":           "A02",
		"ADT^A03":         "A03",
		"ADT^A01^ADT_A01": "A01",
		"":                "",
	}
	for in, want := range tests {
		if got := NormalizeTrigger(in); got != want {
			t.Errorf("NormalizeTrigger(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveNature(t *testing.T) {
	if got := ResolveNature("sm", "A02"); got != "SM" {
		t.Errorf("expected supplied nature SM, got %q", got)
	}
	if got := ResolveNature("", "A21"); got != "L" {
		t.Errorf("expected derived nature L, got %q", got)
	}
	if got := ResolveNature("bogus", "A12"); got != "" {
		t.Errorf("expected empty nature for unmapped trigger, got %q", got)
	}
}

func TestResolveStrictProfile(t *testing.T) {
	on, off := true, false
	if !ResolveStrictProfile(nil, true) {
		t.Error("nil override must use the default")
	}
	if ResolveStrictProfile(&off, true) {
		t.Error("override false must win")
	}
	if !ResolveStrictProfile(&on, false) {
		t.Error("override true must win")
	}
}

func TestCheckConformance(t *testing.T) {
	tests := []struct {
		name        string
		trigger     string
		hasMovement bool
		strict      bool
		check       func(error) bool
	}{
		{"admission simplified", "A01", false, false, nil},
		{"registration simplified", "A04", false, false, nil},
		{"transfer without movement", "A02", false, false, apperr.IsValidation},
		{"transfer with movement", "A02", true, false, nil},
		{"identity update", "A31", false, true, nil},
		{"merge", "A40", true, false, apperr.IsNotImplemented},
		{"identifier change", "A47", false, false, apperr.IsNotImplemented},
		{"strict A08", "A08", true, true, apperr.IsValidation},
		{"lenient A08", "A08", false, false, nil},
		{"strict Z99", "Z99", true, true, nil},
		{"empty", "", true, false, apperr.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckConformance(tt.trigger, tt.hasMovement, tt.strict)
			if tt.check == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !tt.check(err) {
				t.Errorf("unexpected error kind: %v", err)
			}
		})
	}
}

func TestMessageStructure(t *testing.T) {
	if MessageStructure("A03") != "ADT_A03" {
		t.Error("expected ADT_A03")
	}
	if MessageStructure("A99") != "ADT_A01" {
		t.Error("expected ADT_A01 fallback")
	}
}
