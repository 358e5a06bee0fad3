package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"underneath-backend/pkg/models"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// JWTService issues and validates HS256 tokens
type JWTService struct {
	secretKey []byte
	now       func() time.Time
}

// NewJWTService creates a JWT service signing with secretKey
func NewJWTService(secretKey string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

func (j *JWTService) sign(user *models.User, tokenType string, ttl time.Duration) (string, int64, error) {
	now := j.now()
	expiry := now.Add(ttl)
	claims := &models.TokenClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Type:   tokenType,
		Exp:    expiry.Unix(),
		Iat:    now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate %s token: %w", tokenType, err)
	}
	return signed, expiry.Unix(), nil
}

// GenerateTokenPair issues an access token and a refresh token for user
func (j *JWTService) GenerateTokenPair(user *models.User) (accessToken, refreshToken string, expiresIn int64, err error) {
	accessToken, expiresIn, err = j.sign(user, "access", AccessTokenTTL)
	if err != nil {
		return "", "", 0, err
	}
	refreshToken, _, err = j.sign(user, "refresh", RefreshTokenTTL)
	if err != nil {
		return "", "", 0, err
	}
	return accessToken, refreshToken, expiresIn, nil
}

// GenerateAccessToken issues an access token only
func (j *JWTService) GenerateAccessToken(user *models.User) (string, int64, error) {
	return j.sign(user, "access", AccessTokenTTL)
}

// ValidateToken parses tokenString and checks signature and expiry
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
	if j.now().Unix() > claims.Exp {
		return nil, fmt.Errorf("token expired")
	}
	return claims, nil
}

// ValidateAccessToken validates and requires an access token
func (j *JWTService) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	return j.validateType(tokenString, "access")
}

// ValidateRefreshToken validates and requires a refresh token
func (j *JWTService) ValidateRefreshToken(tokenString string) (*models.TokenClaims, error) {
	return j.validateType(tokenString, "refresh")
}

func (j *JWTService) validateType(tokenString, want string) (*models.TokenClaims, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", want, claims.Type)
	}
	return claims, nil
}
