package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"enterprise-crm-backend/pkg/models"
)

// JWTService mints and validates HMAC-signed access and refresh tokens.
type JWTService struct {
	secretKey  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewJWTService creates a JWT service with the given secret and lifetimes.
func NewJWTService(secretKey string, accessTTL, refreshTTL time.Duration) *JWTService {
	return &JWTService{
		secretKey:  []byte(secretKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// GenerateTokenPair returns an access/refresh token pair for the user.
func (j *JWTService) GenerateTokenPair(userID, email string) (accessToken, refreshToken string, expiresIn int64, err error) {
	now := time.Now()

	accessExpiry := now.Add(j.accessTTL)
	accessToken, err = j.sign(&models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   "access",
		Exp:    accessExpiry.Unix(),
		Iat:    now.Unix(),
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err = j.sign(&models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   "refresh",
		Exp:    now.Add(j.refreshTTL).Unix(),
		Iat:    now.Unix(),
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return accessToken, refreshToken, accessExpiry.Unix(), nil
}

func (j *JWTService) sign(claims *models.TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secretKey)
}

// ValidateToken parses and verifies a token of either type.
func (j *JWTService) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if time.Now().Unix() > claims.Exp {
		return nil, fmt.Errorf("token expired")
	}
	return claims, nil
}

// RefreshAccessToken validates a refresh token and mints a fresh access token.
func (j *JWTService) RefreshAccessToken(refreshToken string) (string, int64, error) {
	claims, err := j.ValidateToken(refreshToken)
	if err != nil {
		return "", 0, fmt.Errorf("invalid refresh token: %w", err)
	}
	if claims.Type != "refresh" {
		return "", 0, fmt.Errorf("invalid token type: expected refresh, got %s", claims.Type)
	}

	now := time.Now()
	expiry := now.Add(j.accessTTL)
	access, err := j.sign(&models.TokenClaims{
		UserID: claims.UserID,
		Email:  claims.Email,
		Type:   "access",
		Exp:    expiry.Unix(),
		Iat:    now.Unix(),
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}
	return access, expiry.Unix(), nil
}
