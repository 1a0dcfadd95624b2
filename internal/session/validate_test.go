package session

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"main", false},
		{"alice-staging", false},
		{"user_42", false},
		{strings.Repeat("a", 64), false},
		{"", true},
		{"Alice", true},
		{"two words", true},
		{"../escape", true},
		{"v1:us1:abc", true},
		{strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSocketPath(t *testing.T) {
	if err := ValidateSocketPath("/tmp/chatkit/sessions/main/daemon.sock"); err != nil {
		t.Errorf("short path: %v", err)
	}
	long := "/" + strings.Repeat("d", maxSocketPath)
	if err := ValidateSocketPath(long); err == nil {
		t.Error("long path accepted")
	}
}
