package requestid

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	id := New()

	if !strings.HasPrefix(id, "req_") {
		t.Errorf("New() = %q, want req_ prefix", id)
	}
	if id != strings.ToLower(id) {
		t.Errorf("New() = %q, want lowercase", id)
	}
	if _, err := Parse(id); err != nil {
		t.Errorf("Parse(New()) error = %v", err)
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("New() generated duplicate ID: %v", id)
		}
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"generated id", New(), true},
		{"wrong prefix", "jan_01h455vb4pex5vsknk084sn02q", false},
		{"no prefix", "01h455vb4pex5vsknk084sn02q", false},
		{"not a ulid", "req_hello", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.value); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
