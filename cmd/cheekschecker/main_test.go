package main

import (
	"testing"
	"time"
)

func TestResolvePeriod(t *testing.T) {
	today := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC) // Wednesday

	tests := []struct {
		name    string
		period  string
		days    int
		wantKey string
		wantErr bool
	}{
		{"weekly", "weekly", 0, "weekly:2024-03-11", false},
		{"monthly", "monthly", 0, "monthly:2024-02-01", false},
		{"days override", "weekly", 7, "last7:2024-03-14", false},
		{"unknown", "yearly", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := resolvePeriod(today, tt.period, tt.days)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := p.Key(); got != tt.wantKey {
				t.Errorf("Key() = %q, want %q", got, tt.wantKey)
			}
		})
	}
}
