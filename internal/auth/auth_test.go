package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func writePEM(t *testing.T, key *rsa.PrivateKey, pkcs8 bool) string {
	t.Helper()

	var block *pem.Block
	if pkcs8 {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatalf("marshal pkcs8: %v", err)
		}
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	} else {
		block = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	}

	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write pem: %v", err)
	}
	return path
}

func TestLoadPrivateKey_BothFormats(t *testing.T) {
	key := testKey(t)

	for _, pkcs8 := range []bool{true, false} {
		path := writePEM(t, key, pkcs8)
		loaded, err := LoadPrivateKey(path)
		if err != nil {
			t.Fatalf("LoadPrivateKey (pkcs8=%v): %v", pkcs8, err)
		}
		if loaded.N.Cmp(key.N) != 0 {
			t.Errorf("loaded key modulus mismatch (pkcs8=%v)", pkcs8)
		}
	}
}

func TestLoadCredentials_Validation(t *testing.T) {
	if _, err := LoadCredentials("", "/tmp/key.pem"); err == nil {
		t.Error("expected error for empty key ID")
	}
	if _, err := LoadCredentials("abc", ""); err == nil {
		t.Error("expected error for empty key path")
	}
	if _, err := LoadCredentials("abc", "/nonexistent/key.pem"); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestSignRequestAt_Headers(t *testing.T) {
	creds := &Credentials{KeyID: "abc", PrivateKey: testKey(t)}

	now := time.Unix(1700000000, 0)
	headers, err := creds.SignRequestAt(now, "GET", "/trade-api/v2/portfolio/balance")
	if err != nil {
		t.Fatalf("SignRequestAt: %v", err)
	}

	if len(headers) != 3 {
		t.Errorf("header count = %d, want 3", len(headers))
	}
	if headers[HeaderAccessKey] != "abc" {
		t.Errorf("ACCESS-KEY = %q, want abc", headers[HeaderAccessKey])
	}
	if headers[HeaderAccessTimestamp] != "1700000000000" {
		t.Errorf("ACCESS-TIMESTAMP = %q, want 1700000000000", headers[HeaderAccessTimestamp])
	}

	// Signature must verify against timestamp||method||path.
	sig, err := base64.StdEncoding.DecodeString(headers[HeaderAccessSignature])
	if err != nil {
		t.Fatalf("signature is not base64: %v", err)
	}
	message := "1700000000000GET/trade-api/v2/portfolio/balance"
	hashed := sha256.Sum256([]byte(message))
	err = rsa.VerifyPSS(&creds.PrivateKey.PublicKey, crypto.SHA256, hashed[:], sig,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		t.Errorf("signature verification failed: %v", err)
	}
}

func TestSignWebSocket_UsesWSPath(t *testing.T) {
	creds := &Credentials{KeyID: "abc", PrivateKey: testKey(t)}

	headers, err := creds.SignWebSocket()
	if err != nil {
		t.Fatalf("SignWebSocket: %v", err)
	}
	if headers[HeaderAccessKey] != "abc" {
		t.Errorf("ACCESS-KEY = %q, want abc", headers[HeaderAccessKey])
	}
	if headers[HeaderAccessSignature] == "" {
		t.Error("signature missing")
	}
}
