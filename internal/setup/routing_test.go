package setup

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestDecodeRoutingPlainJSON(t *testing.T) {
	payload := `{"server":"wss://sig.example","token":"abc","isFromPhone":true}`
	blob := base64.StdEncoding.EncodeToString([]byte(payload))

	d := NewDecoder(nil)
	route, err := d.DecodeRouting(context.Background(), blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if route.Server != "wss://sig.example" || route.Token != "abc" || !route.FromPhone {
		t.Errorf("route = %+v", route)
	}
}

func TestDecodeRoutingToleratesTransportQuirks(t *testing.T) {
	payload := `{"server":"wss://sig.example","token":"abc"}`
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))

	variants := []string{
		"data:application/json;base64," + encoded,
		"  " + encoded + "\n",
		strings.TrimRight(encoded, "="), // stripped padding
	}
	d := NewDecoder(nil)
	for _, blob := range variants {
		route, err := d.DecodeRouting(context.Background(), blob)
		if err != nil {
			t.Errorf("decode %q: %v", blob[:16], err)
			continue
		}
		if route.Token != "abc" {
			t.Errorf("token = %q, want abc", route.Token)
		}
		if route.FromPhone {
			t.Error("FromPhone = true without the field present")
		}
	}
}

func TestDecodeRoutingRejectsGarbage(t *testing.T) {
	d := NewDecoder(nil)
	for _, blob := range []string{"!!!not-base64!!!", base64.StdEncoding.EncodeToString([]byte(`{"server":""}`))} {
		if _, err := d.DecodeRouting(context.Background(), blob); !errors.Is(err, ErrBadPayload) {
			t.Errorf("decode %q: err = %v, want ErrBadPayload", blob, err)
		}
	}
}

func TestOpenSealedRoundTrip(t *testing.T) {
	const sessionKey = "k-123"
	plaintext := []byte(`{"server":"wss://sig.example","token":"sealed"}`)

	sum := sha256.Sum256([]byte(sessionKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		t.Fatal(err)
	}
	sealed := append(nonce, gcm.Seal(nil, nonce, plaintext, nil)...)

	opened, err := openSealed(sealed, sessionKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Errorf("opened = %s", opened)
	}

	if _, err := openSealed(sealed, "wrong-key"); err == nil {
		t.Error("open succeeded with the wrong key")
	}
	if _, err := openSealed(sealed[:4], sessionKey); err == nil {
		t.Error("open succeeded on a truncated payload")
	}
}
