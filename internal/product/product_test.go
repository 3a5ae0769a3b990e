package product

import "testing"

func TestTypeLabelAndNoun(t *testing.T) {
	tests := []struct {
		typ   Type
		label string
		noun  string
	}{
		{TypeWebsite, "Website", "website"},
		{TypeDomain, "Domain", "domain"},
		{TypeAPI, "API", "API"},
		{TypeSSL, "SSL endpoint", "SSL endpoint"},
		{Type("unknown"), "Website", "website"},
	}
	for _, tt := range tests {
		if got := tt.typ.Label(); got != tt.label {
			t.Fatalf("%s.Label() = %q, expected %q", tt.typ, got, tt.label)
		}
		if got := tt.typ.Noun(); got != tt.noun {
			t.Fatalf("%s.Noun() = %q, expected %q", tt.typ, got, tt.noun)
		}
	}
}
