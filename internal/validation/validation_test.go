package validation

import "testing"

func TestIsValidOrderNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{
			name:   "uppercase hex suffix",
			number: "ORD-1A2B3C4D",
			valid:  true,
		},
		{
			name:   "long numeric suffix",
			number: "ORD-20241014000123",
			valid:  true,
		},
		{
			name:   "missing prefix",
			number: "1A2B3C4D",
			valid:  false,
		},
		{
			name:   "suffix too short",
			number: "ORD-1234",
			valid:  false,
		},
		{
			name:   "suffix too long",
			number: "ORD-123456789012345678901",
			valid:  false,
		},
		{
			name:   "contains punctuation",
			number: "ORD-1234_5678",
			valid:  false,
		},
		{
			name:   "non-ascii letter",
			number: "ORD-12345678é",
			valid:  false,
		},
		{
			name:   "empty string",
			number: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidOrderNumber(tt.number)
			if got != tt.valid {
				t.Fatalf("IsValidOrderNumber(%q) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{code: "EUR", valid: true},
		{code: "GBP", valid: true},
		{code: "eur", valid: false},
		{code: "EURO", valid: false},
		{code: "", valid: false},
	}

	for _, tt := range tests {
		if got := IsValidCurrency(tt.code); got != tt.valid {
			t.Fatalf("IsValidCurrency(%q) = %v, want %v", tt.code, got, tt.valid)
		}
	}
}
