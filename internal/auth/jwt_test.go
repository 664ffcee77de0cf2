package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testAddr = "0:abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"

func TestGenerateAndParseJWT(t *testing.T) {
	token, err := GenerateJWT("secret", testAddr, "testnet", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ParseJWT("secret", token)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if claims.Address != testAddr {
		t.Errorf("Address = %q, want %q", claims.Address, testAddr)
	}
	if claims.Network != "testnet" {
		t.Errorf("Network = %q", claims.Network)
	}
	if claims.ID == "" {
		t.Error("expected jti to be set")
	}
}

func TestParseJWT_Invalid(t *testing.T) {
	valid, _ := GenerateJWT("secret", testAddr, "testnet", time.Hour)

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Address: testAddr,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    Issuer,
		},
	}).SignedString([]byte("secret"))

	foreign, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Address:          testAddr,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	}).SignedString([]byte("secret"))

	noAddress, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer},
	}).SignedString([]byte("secret"))

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "other", valid},
		{"expired", "secret", expired},
		{"foreign issuer", "secret", foreign},
		{"no address", "secret", noAddress},
		{"garbage", "secret", "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJWT(tt.secret, tt.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
