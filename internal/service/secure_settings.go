package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strings"
)

const (
	SettingsKeyEnv     = "SB_SETTINGS_ENCRYPTION_KEY"
	SettingsPrevKeyEnv = "SB_SETTINGS_ENCRYPTION_PREV_KEY"
)

type encryptedSettingValue struct {
	Enc   string `json:"enc"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// SettingsCipher seals sensitive setting values with AES-GCM. The setting key
// is bound as additional data so a value cannot be moved to another key.
// With no primary key configured values are stored as given.
type SettingsCipher struct {
	primary cipher.AEAD
	all     []cipher.AEAD
}

// NewSettingsCipher accepts base64 or raw keys; prev is tried on reveal only.
func NewSettingsCipher(primary, prev string) *SettingsCipher {
	c := &SettingsCipher{}
	seen := map[string]struct{}{}
	for i, key := range []string{strings.TrimSpace(primary), strings.TrimSpace(prev)} {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		gcm := newGCM(parseSettingsKey(key))
		if gcm == nil {
			continue
		}
		if i == 0 {
			c.primary = gcm
		}
		c.all = append(c.all, gcm)
	}
	return c
}

func SettingsCipherFromEnv() *SettingsCipher {
	return NewSettingsCipher(os.Getenv(SettingsKeyEnv), os.Getenv(SettingsPrevKeyEnv))
}

func (c *SettingsCipher) Enabled() bool {
	return c != nil && c.primary != nil
}

func (c *SettingsCipher) Protect(key string, raw []byte) []byte {
	if !IsSensitiveSettingKey(key) || !c.Enabled() {
		return raw
	}
	nonce := make([]byte, c.primary.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return raw
	}
	ct := c.primary.Seal(nil, nonce, raw, additionalData(key))
	out, err := json.Marshal(encryptedSettingValue{
		Enc:   "aes-gcm-v1",
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(ct),
	})
	if err != nil {
		return raw
	}
	return out
}

func (c *SettingsCipher) Reveal(key string, raw []byte) []byte {
	if len(raw) == 0 || !IsSensitiveSettingKey(key) || c == nil {
		return raw
	}
	var payload encryptedSettingValue
	if err := json.Unmarshal(raw, &payload); err != nil {
		return raw
	}
	if payload.Enc != "aes-gcm-v1" || payload.Nonce == "" || payload.Data == "" {
		return raw
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return raw
	}
	ct, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return raw
	}
	for _, gcm := range c.all {
		if pt, err := gcm.Open(nil, nonce, ct, additionalData(key)); err == nil {
			return pt
		}
	}
	return raw
}

// Reencrypt moves a value under the current primary key.
func (c *SettingsCipher) Reencrypt(key string, raw []byte) ([]byte, bool) {
	if !IsSensitiveSettingKey(key) {
		return raw, false
	}
	encrypted := c.Protect(key, c.Reveal(key, raw))
	if slices.Equal(encrypted, raw) {
		return raw, false
	}
	return encrypted, true
}

func additionalData(key string) []byte {
	return []byte(strings.TrimSpace(strings.ToLower(key)))
}

func parseSettingsKey(k string) []byte {
	if strings.TrimSpace(k) == "" {
		return nil
	}
	keyBytes, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		keyBytes = []byte(k)
	}
	switch n := len(keyBytes); {
	case n == 16 || n == 24 || n == 32:
	case n < 16:
		return nil
	case n < 24:
		keyBytes = keyBytes[:16]
	case n < 32:
		keyBytes = keyBytes[:24]
	default:
		keyBytes = keyBytes[:32]
	}
	return keyBytes
}

func newGCM(keyBytes []byte) cipher.AEAD {
	if len(keyBytes) == 0 {
		return nil
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil
	}
	return gcm
}

func IsSensitiveSettingKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	for _, m := range []string{"secret", "token", "password", "api_key", "private_key"} {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}
