package util

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndParseJWT(t *testing.T) {
	token, err := GenerateJWT("u1", "a@b.c", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT(token, "test-secret")
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "a@b.c" {
		t.Errorf("claims = %s/%s; want u1/a@b.c", claims.UserID, claims.Email)
	}
}

func TestParseJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT("u1", "a@b.c", "right", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	if _, err := ParseJWT(token, "wrong"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseJWT with wrong secret = %v; want ErrTokenInvalid", err)
	}
}

func TestParseJWTExpired(t *testing.T) {
	token, err := GenerateJWT("u1", "a@b.c", "s", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	if _, err := ParseJWT(token, "s"); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ParseJWT expired = %v; want ErrTokenExpired", err)
	}
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"Bearer ", ""},
		{"Basic xyz", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExtractToken(tc.header); got != tc.want {
			t.Errorf("ExtractToken(%q) = %q; want %q", tc.header, got, tc.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	retryable, typ := IsRetryableError(errors.New("connection refused"))
	if !retryable || typ != "db_connection_error" {
		t.Errorf("connection error = (%v, %s); want retryable db_connection_error", retryable, typ)
	}

	retryable, typ = IsRetryableError(errors.New("duplicate key value violates unique constraint"))
	if retryable || typ != "duplicate_key" {
		t.Errorf("duplicate key = (%v, %s); want non-retryable duplicate_key", retryable, typ)
	}

	if r, _ := IsRetryableError(nil); r {
		t.Error("nil error reported retryable")
	}
}
