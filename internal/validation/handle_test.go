package validation

import (
	"errors"
	"testing"

	"github.com/mmeshcher/escobar-tracker/internal/model"
)

func TestIsValidHandle(t *testing.T) {
	tests := []struct {
		name   string
		handle string
		valid  bool
	}{
		{
			name:   "too short",
			handle: "ab",
			valid:  false,
		},
		{
			name:   "letters digits and punctuation",
			handle: "valid_user-1",
			valid:  true,
		},
		{
			name:   "dots allowed",
			handle: "a.b.c",
			valid:  true,
		},
		{
			name:   "exactly twenty chars",
			handle: "abcdefghijklmnopqrst",
			valid:  true,
		},
		{
			name:   "twenty one chars",
			handle: "abcdefghijklmnopqrstu",
			valid:  false,
		},
		{
			name:   "space inside",
			handle: "bad user",
			valid:  false,
		},
		{
			name:   "surrounding spaces trimmed",
			handle: "  Alice  ",
			valid:  true,
		},
		{
			name:   "non ascii letter",
			handle: "usér",
			valid:  false,
		},
		{
			name:   "empty",
			handle: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidHandle(tt.handle)
			if got != tt.valid {
				t.Fatalf("IsValidHandle(%q) = %v, want %v", tt.handle, got, tt.valid)
			}
		})
	}
}

func TestHandleForms(t *testing.T) {
	display, canonical, err := Handle("  MixedCase.User ")
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if display != "MixedCase.User" {
		t.Fatalf("display = %q, want MixedCase.User", display)
	}
	if canonical != "mixedcase.user" {
		t.Fatalf("canonical = %q, want mixedcase.user", canonical)
	}

	if _, _, err := Handle("ab"); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAmountAndReason(t *testing.T) {
	if err := Amount(0); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("Amount(0) = %v, want ErrInvalidAmount", err)
	}
	if err := Amount(-5); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("Amount(-5) = %v, want ErrInvalidInput", err)
	}
	if err := Amount(1); err != nil {
		t.Fatalf("Amount(1) = %v, want nil", err)
	}

	if _, err := Reason("   "); !errors.Is(err, model.ErrEmptyReason) {
		t.Fatalf("Reason(blank) = %v, want ErrEmptyReason", err)
	}
	r, err := Reason("  snacks ")
	if err != nil || r != "snacks" {
		t.Fatalf("Reason = %q, %v; want snacks, nil", r, err)
	}
}
