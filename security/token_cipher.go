package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dima-ai/go-connections/core"
)

const tokenEnvelopePrefix = "connections.secret.v1:"

// AppKeyTokenCipher seals provider tokens at rest with AES-GCM under a key
// derived from an application secret. Stored values carry a versioned JSON
// envelope so key id and version mismatches fail loudly instead of decrypting
// garbage.
type AppKeyTokenCipher struct {
	key     []byte
	keyID   string
	version int
}

type tokenEnvelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type CipherOption func(*AppKeyTokenCipher)

func WithCipherKeyID(id string) CipherOption {
	return func(c *AppKeyTokenCipher) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.keyID = trimmed
		}
	}
}

func WithCipherVersion(version int) CipherOption {
	return func(c *AppKeyTokenCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

// NewAppKeyTokenCipher derives an AES-256 key from the secret. Secrets that
// are already a valid AES key length are used verbatim; anything else is
// hashed down with sha256.
func NewAppKeyTokenCipher(secret string, opts ...CipherOption) (*AppKeyTokenCipher, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("security: cipher secret is required")
	}
	c := &AppKeyTokenCipher{
		key:     deriveCipherKey([]byte(trimmed)),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// EncryptToken seals a raw token. Empty tokens pass through untouched so
// optional refresh tokens stay representable as the empty string.
func (c *AppKeyTokenCipher) EncryptToken(_ context.Context, token string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("security: token cipher is nil")
	}
	if token == "" {
		return "", nil
	}

	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(token), nil)
	data, err := json.Marshal(tokenEnvelope{
		KeyID:      c.keyID,
		Version:    c.version,
		Algorithm:  "aes-256-gcm",
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", fmt.Errorf("security: encode envelope: %w", err)
	}
	return tokenEnvelopePrefix + string(data), nil
}

// DecryptToken opens a sealed token. Values without the envelope prefix are
// returned as-is: rows written before the cipher was configured stay
// readable.
func (c *AppKeyTokenCipher) DecryptToken(_ context.Context, stored string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("security: token cipher is nil")
	}
	payload, ok := strings.CutPrefix(stored, tokenEnvelopePrefix)
	if !ok {
		return stored, nil
	}

	var parsed tokenEnvelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", fmt.Errorf("security: decode envelope: %w", err)
	}
	if parsed.KeyID != "" && parsed.KeyID != c.keyID {
		return "", fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, c.keyID)
	}
	if parsed.Version > 0 && parsed.Version != c.version {
		return "", fmt.Errorf("security: key version mismatch: got %d want %d", parsed.Version, c.version)
	}

	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return "", fmt.Errorf("security: decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("security: decode ciphertext: %w", err)
	}

	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	// gcm.Open panics on a wrong-length nonce, so a corrupt envelope has to
	// be rejected here.
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("security: invalid nonce length %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("security: decrypt token: %w", err)
	}
	return string(plaintext), nil
}

func (c *AppKeyTokenCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *AppKeyTokenCipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func deriveCipherKey(secret []byte) []byte {
	if len(secret) == 16 || len(secret) == 24 || len(secret) == 32 {
		key := make([]byte, len(secret))
		copy(key, secret)
		return key
	}
	sum := sha256.Sum256(secret)
	return sum[:]
}

var _ core.TokenCipher = (*AppKeyTokenCipher)(nil)
