package money

import "testing"

func TestFormat(t *testing.T) {
	tests := []struct {
		minor    int64
		currency string
		want     string
	}{
		{1234, "USD", "$12.34"},
		{5, "usd", "$0.05"},
		{100000, "", "$1000.00"},
		{-250, "EUR", "-€2.50"},
		{334, "GBP", "£3.34"},
		{1001, "CHF", "10.01 CHF"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Format(tt.minor, tt.currency); got != tt.want {
				t.Errorf("Format(%d, %q) = %q, want %q", tt.minor, tt.currency, got, tt.want)
			}
		})
	}
}

func TestToMajor(t *testing.T) {
	if got := ToMajor(1999).String(); got != "19.99" {
		t.Errorf("ToMajor(1999) = %s", got)
	}
}
