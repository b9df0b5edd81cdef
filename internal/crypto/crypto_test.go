package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKey {
		t.Fatalf("DecryptKey = %s, want %s", got, testKey)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("wrong password should fail")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	tests := []struct {
		name, key, password string
	}{
		{"empty password", testKey, ""},
		{"not hex", "zz", "pw"},
		{"short key", "abcd", "pw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncryptKey(tt.key, tt.password); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	if err != nil || got != testKey {
		t.Fatalf("raw key = %q, %v", got, err)
	}

	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "operator.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil || got != testKey {
		t.Fatalf("file key = %q, %v", got, err)
	}

	if _, err := LoadKey(KeyConfig{}); !errors.Is(err, ErrNoKey) {
		t.Fatalf("empty config err = %v, want ErrNoKey", err)
	}
}

func TestSignAndVerify(t *testing.T) {
	s, err := NewSigner(testKey)
	if err != nil {
		t.Fatal(err)
	}
	pk, _ := ethcrypto.HexToECDSA(testKey)
	if s.Address() != ethcrypto.PubkeyToAddress(pk.PublicKey) {
		t.Fatal("address mismatch")
	}

	msg := RequestMessage(1700000000, "post", "/api/pools", []byte(`{"name":"x"}`))
	sig, err := s.SignMessageHex(msg)
	if err != nil {
		t.Fatal(err)
	}
	if v := sig[len(sig)-2:]; v != "1b" && v != "1c" {
		t.Fatalf("v byte = %s, want 1b or 1c", v)
	}
	if err := VerifyMessage(msg, sig, s.Address()); err != nil {
		t.Fatalf("VerifyMessage: %v", err)
	}

	tampered := append([]byte{}, msg...)
	tampered[len(tampered)-1] = '!'
	if err := VerifyMessage(tampered, sig, s.Address()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered err = %v, want ErrBadSignature", err)
	}
	if err := VerifyMessage(msg, "0x1234", s.Address()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("short sig err = %v, want ErrBadSignature", err)
	}
}

func TestRequestMessage(t *testing.T) {
	got := string(RequestMessage(42, "patch", "/api/protocol", []byte("{}")))
	want := "42\nPATCH\n/api/protocol\n{}"
	if got != want {
		t.Fatalf("RequestMessage = %q, want %q", got, want)
	}
	if !strings.HasSuffix(string(RequestMessage(1, "GET", "/x", nil)), "\n") {
		t.Fatal("empty body should leave trailing separator")
	}
}
