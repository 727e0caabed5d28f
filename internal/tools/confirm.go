package tools

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ErrTokenMismatch is the failure text for a confirmation whose token
// does not match its action and arguments.
const ErrTokenMismatch = "Confirmation token does not match the proposed action."

// Confirmer issues and checks confirmation tokens. A token is a keyed
// BLAKE2b-256 MAC over the confirm action and the JSON encoding of the
// proposed parameters, so a confirmation with altered arguments fails.
// No state is kept between proposal and confirmation.
type Confirmer struct {
	key []byte
}

// NewConfirmer creates a Confirmer. An empty secret gets a random
// per-process key, so tokens do not survive a restart.
func NewConfirmer(secret string) (*Confirmer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate confirmation key: %w", err)
		}
	}
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Confirmer{key: key}, nil
}

// Token returns the token binding action to params.
func (c *Confirmer) Token(action Name, params any) (string, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode confirmation payload: %w", err)
	}
	h, err := blake2b.New256(c.key)
	if err != nil {
		return "", fmt.Errorf("init confirmation mac: %w", err)
	}
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether token was issued for action and params.
func (c *Confirmer) Verify(action Name, params any, token string) bool {
	want, err := c.Token(action, params)
	if err != nil || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}
