package tools

import (
	"context"
	"testing"
)

func TestUserIDFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"unknown when unset", context.Background(), "unknown"},
		{"round trip", WithUserID(context.Background(), "guest_123"), "guest_123"},
		{"empty string returns unknown", WithUserID(context.Background(), ""), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserIDFromContext(tt.ctx); got != tt.want {
				t.Errorf("UserIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}
