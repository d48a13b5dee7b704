package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndParseDeviceToken(t *testing.T) {
	secret := "test-secret-key-for-jwt-signing"

	token, err := GenerateDeviceToken("dev-001", "thermometer", secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateDeviceToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateDeviceToken() returned empty token")
	}

	claims, err := ParseDeviceToken(token, secret)
	if err != nil {
		t.Fatalf("ParseDeviceToken() error = %v", err)
	}

	if claims.Subject != "dev-001" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "dev-001")
	}
	if claims.DeviceType != "thermometer" {
		t.Errorf("DeviceType = %q, want %q", claims.DeviceType, "thermometer")
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > 15*time.Minute {
		t.Errorf("ExpiresAt = %v, want within 15 minutes", claims.ExpiresAt)
	}
}

func TestGenerateDeviceToken_MissingID(t *testing.T) {
	_, err := GenerateDeviceToken("", "thermometer", "secret", time.Minute)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("GenerateDeviceToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestGenerateDeviceToken_DefaultTTL(t *testing.T) {
	token, err := GenerateDeviceToken("dev-001", "thermometer", "secret", 0)
	if err != nil {
		t.Fatalf("GenerateDeviceToken() error = %v", err)
	}

	claims, err := ParseDeviceToken(token, "secret")
	if err != nil {
		t.Fatalf("ParseDeviceToken() error = %v", err)
	}
	if claims.ExpiresAt == nil {
		t.Fatal("ExpiresAt missing")
	}
	if until := time.Until(claims.ExpiresAt.Time); until < 14*time.Minute || until > 16*time.Minute {
		t.Errorf("default TTL = %v, want about 15 minutes", until)
	}
}

func TestParseDeviceToken_WrongSecret(t *testing.T) {
	token, err := GenerateDeviceToken("dev-001", "thermometer", "correct-secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateDeviceToken() error = %v", err)
	}

	if _, err := ParseDeviceToken(token, "wrong-secret"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseDeviceToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseDeviceToken_Garbage(t *testing.T) {
	if _, err := ParseDeviceToken("not-a-valid-jwt", "secret"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseDeviceToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseDeviceToken_Expired(t *testing.T) {
	token, err := GenerateDeviceToken("dev-001", "thermometer", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateDeviceToken() error = %v", err)
	}
	// Negative TTL falls back to the default, so the token is valid.
	if _, err := ParseDeviceToken(token, "secret"); err != nil {
		t.Errorf("ParseDeviceToken() error = %v, want valid token under default TTL", err)
	}
}
