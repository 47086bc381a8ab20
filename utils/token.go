package utils

import (
	"fmt"
	"os"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const (
	RoleAdmin    = "admin"
	RoleExporter = "exporter"
)

// JwtCustomClaim is issued by the back-office login service. Exporter tokens
// carry the exporter whose licenses they may read.
type JwtCustomClaim struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	ExporterId int    `json:"exporter_id,omitempty"`
	jwt.StandardClaims
}

func getJwtSecret() []byte {
	return []byte(os.Getenv("API_SECRET"))
}

func JwtGenerate(claim JwtCustomClaim, lifespan time.Duration) (string, error) {
	claim.StandardClaims = jwt.StandardClaims{
		ExpiresAt: time.Now().Add(lifespan).Unix(),
		IssuedAt:  time.Now().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &claim)
	return t.SignedString(getJwtSecret())
}

func JwtValidate(token string) (*jwt.Token, error) {
	secret := getJwtSecret()
	if len(secret) == 0 {
		return nil, fmt.Errorf("API_SECRET is not set")
	}
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
}
