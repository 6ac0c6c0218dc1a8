package infra

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	v, err := NewJWTVerifier("s3cret")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	raw, err := SignJWT("s3cret", "driver-1", "driver", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tok, err := v.VerifyIDToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tok.UID != "driver-1" || tok.Claims["role"] != "driver" {
		t.Fatalf("token = %+v", tok)
	}
}

func TestJWTVerifierRejects(t *testing.T) {
	v, _ := NewJWTVerifier("s3cret")
	wrongKey, _ := SignJWT("other", "driver-1", "driver", time.Minute)
	expired, _ := SignJWT("s3cret", "driver-1", "driver", -time.Minute)
	noSubject, _ := SignJWT("s3cret", "", "driver", time.Minute)

	for name, raw := range map[string]string{
		"wrong key":  wrongKey,
		"expired":    expired,
		"no subject": noSubject,
		"garbage":    "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := v.VerifyIDToken(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewJWTVerifierNeedsSecret(t *testing.T) {
	if _, err := NewJWTVerifier(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "debug", "WARN": "warn", "": "info", "bogus": "info", "error": "error"}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
