package tools

import (
	"strings"
	"testing"
)

func TestConfirmer(t *testing.T) {
	c, err := NewConfirmer("secret")
	if err != nil {
		t.Fatal(err)
	}
	params := deleteTaskParams{TaskID: 4}

	token, err := c.Token(ConfirmDeleteTask, params)
	if err != nil {
		t.Fatal(err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}

	tests := []struct {
		name   string
		action Name
		params any
		token  string
		want   bool
	}{
		{"match", ConfirmDeleteTask, params, token, true},
		{"other params", ConfirmDeleteTask, deleteTaskParams{TaskID: 5}, token, false},
		{"other action", ConfirmCreateTask, params, token, false},
		{"empty token", ConfirmDeleteTask, params, "", false},
		{"uppercased token", ConfirmDeleteTask, params, strings.ToUpper(token), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Verify(tt.action, tt.params, tt.token); got != tt.want {
				t.Errorf("Verify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfirmer_KeysDiffer(t *testing.T) {
	a, _ := NewConfirmer("one")
	b, _ := NewConfirmer("two")
	params := deleteTaskParams{TaskID: 1}
	token, _ := a.Token(ConfirmDeleteTask, params)
	if b.Verify(ConfirmDeleteTask, params, token) {
		t.Error("token from one key verified under another")
	}

	random1, _ := NewConfirmer("")
	random2, _ := NewConfirmer("")
	token, _ = random1.Token(ConfirmDeleteTask, params)
	if random2.Verify(ConfirmDeleteTask, params, token) {
		t.Error("random keys should differ")
	}
}

func TestConfirmer_LongSecret(t *testing.T) {
	c, err := NewConfirmer(strings.Repeat("k", 200))
	if err != nil {
		t.Fatalf("NewConfirmer: %v", err)
	}
	token, err := c.Token(ConfirmDeleteTask, deleteTaskParams{TaskID: 1})
	if err != nil || token == "" {
		t.Fatalf("Token = %q, %v", token, err)
	}
}
