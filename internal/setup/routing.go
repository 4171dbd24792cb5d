package setup

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cicareteam/callcore/internal/call"
)

// Decoder deciphers the routing blob carried by incoming call pushes.
// The blob is base64, optionally prefixed with a data-URI style
// "base64," marker, containing either plain JSON or an AES-GCM sealed
// payload keyed by the account session key.
type Decoder struct {
	keys *KeyManager
}

var _ call.RouteDecoder = (*Decoder)(nil)

// NewDecoder builds a decoder. keys may be nil when the account only
// receives plaintext routing.
func NewDecoder(keys *KeyManager) *Decoder {
	return &Decoder{keys: keys}
}

// DecodeRouting parses ciphered into the signaling rendezvous.
func (d *Decoder) DecodeRouting(ctx context.Context, ciphered string) (call.RouteInfo, error) {
	raw, err := decodeBase64(ciphered)
	if err != nil {
		return call.RouteInfo{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if route, err := parseRoute(raw); err == nil {
		return route, nil
	}
	if d.keys == nil {
		return call.RouteInfo{}, fmt.Errorf("%w: routing is not plain JSON and no key manager configured", ErrBadPayload)
	}

	key, err := d.keys.SessionKey(ctx)
	if err != nil {
		return call.RouteInfo{}, err
	}
	plain, err := openSealed(raw, key)
	if err != nil {
		return call.RouteInfo{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	route, err := parseRoute(plain)
	if err != nil {
		return call.RouteInfo{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return route, nil
}

// decodeBase64 tolerates the quirks push payloads show in the wild:
// a "base64," prefix, surrounding whitespace and stripped padding.
func decodeBase64(s string) ([]byte, error) {
	if idx := strings.Index(s, "base64,"); idx >= 0 {
		s = s[idx+len("base64,"):]
	}
	s = strings.TrimSpace(s)
	if rem := len(s) % 4; rem > 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}

func parseRoute(raw []byte) (call.RouteInfo, error) {
	var payload struct {
		Server      string `json:"server"`
		Token       string `json:"token"`
		IsFromPhone any    `json:"isFromPhone"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return call.RouteInfo{}, err
	}
	if payload.Server == "" || payload.Token == "" {
		return call.RouteInfo{}, fmt.Errorf("routing missing server or token")
	}
	return call.RouteInfo{
		Server:    payload.Server,
		Token:     payload.Token,
		FromPhone: payload.IsFromPhone != nil,
	}, nil
}

// openSealed decrypts an AES-GCM payload laid out as nonce||ciphertext.
// The 256-bit key is derived from the session key string.
func openSealed(raw []byte, sessionKey string) ([]byte, error) {
	sum := sha256.Sum256([]byte(sessionKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed payload too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
