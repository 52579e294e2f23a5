package main

import "testing"

func TestTruncateName(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  string
	}{
		{"holiday.jpg", 0, "holiday.jpg"},
		{"holiday.jpg", 11, "holiday.jpg"},
		{"holiday.jpg", 8, "holiday~"},
		{"фотография.png", 5, "фото~"},
	}
	for _, tt := range tests {
		if got := truncateName(tt.name, tt.limit); got != tt.want {
			t.Errorf("truncateName(%q, %d) = %q, want %q", tt.name, tt.limit, got, tt.want)
		}
	}
}

func TestNameBudget(t *testing.T) {
	if got := nameBudget(0); got != 0 {
		t.Errorf("redirected output budget = %d, want 0", got)
	}
	if got := nameBudget(120); got != 72 {
		t.Errorf("nameBudget(120) = %d, want 72", got)
	}
	if got := nameBudget(40); got != 16 {
		t.Errorf("narrow terminal budget = %d, want 16", got)
	}
}
