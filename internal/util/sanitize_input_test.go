package util

import "testing"

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "  User@Example.COM ", want: "user@example.com"},
		{in: "+55 11 99999-0000", want: "+55 11 99999-0000"},
		{in: "CaseSensitiveHandle", want: "CaseSensitiveHandle"},
	}
	for _, tt := range tests {
		if got := NormalizeIdentifier(tt.in); got != tt.want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContainsSuspicious(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{in: "a@x.com", want: false},
		{in: "descriptions@x.com", want: false},
		{in: "<script>@x.com", want: true},
		{in: "a@x.com\r\nBcc: victim@x.com", want: true},
		{in: "${jndi}", want: true},
	}
	for _, tt := range tests {
		if got := ContainsSuspicious(tt.in); got != tt.want {
			t.Errorf("ContainsSuspicious(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
