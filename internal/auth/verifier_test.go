package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func hs256Token(t *testing.T, secret, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := enc.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(header + "." + body))
	return header + "." + body + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestVerifyDevMode(t *testing.T) {
	v := NewVerifier("dev", "")
	p, err := v.Verify("dispatcher:tech42")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Role != "dispatcher" || p.TechnicianID != "tech42" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	p, err = v.Verify("admin")
	if err != nil || p.Role != "admin" {
		t.Fatalf("role-only token should work: %+v %v", p, err)
	}

	if _, err := v.Verify(":tech42"); err == nil {
		t.Fatalf("empty role should fail")
	}
}

func TestVerifyHMACMode(t *testing.T) {
	v := NewVerifier("hmac", "s3cret")
	tok := hs256Token(t, "s3cret", `{"sub":"tech7","role":"Technician"}`)
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.TechnicianID != "tech7" || p.Role != "technician" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	bad := hs256Token(t, "wrong", `{"sub":"tech7","role":"technician"}`)
	if _, err := v.Verify(bad); err == nil {
		t.Fatalf("bad signature should fail")
	}

	if _, err := v.Verify("not.a.jwt.at.all"); err == nil {
		t.Fatalf("malformed token should fail")
	}
}

func TestVerifyDefaultsRole(t *testing.T) {
	v := NewVerifier("hmac", "s3cret")
	tok := hs256Token(t, "s3cret", `{"sub":"tech7"}`)
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Role != "technician" {
		t.Fatalf("missing role should default to technician, got %q", p.Role)
	}
}
