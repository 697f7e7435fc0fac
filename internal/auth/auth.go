package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taiidzy/ren/internal/config"
	"github.com/taiidzy/ren/internal/db"
)

const (
	// AccessTokenTTL bounds how long an access token stays valid.
	AccessTokenTTL = 15 * time.Minute
	// RefreshTokenTTL bounds how long a refresh token stays valid. It must
	// not exceed config.RotationGrace, or a secret rotation could orphan
	// still-valid refresh tokens.
	RefreshTokenTTL = config.RotationGrace
)

var (
	// ErrInvalidCredentials is returned for a wrong login or password. It
	// is deliberately uniform so login probing learns nothing.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for expired, malformed, or mis-signed
	// tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the JWT payload for both token kinds.
type Claims struct {
	UserID    int64  `json:"user_id"`
	TokenType string `json:"token_type"` // access, refresh
	jwt.RegisteredClaims
}

// AuthService authenticates users and issues tokens.
type AuthService struct {
	database *db.PostgresDB
	hasher   *Argon2Hasher
}

// NewAuthService creates an auth service bound to the user store.
func NewAuthService(database *db.PostgresDB) *AuthService {
	return &AuthService{
		database: database,
		hasher:   NewArgon2Hasher(),
	}
}

// HashPassword hashes a password for storage.
func (a *AuthService) HashPassword(password string) (string, error) {
	return a.hasher.HashPassword(password)
}

// Authenticate checks a login/password pair and returns the account row.
func (a *AuthService) Authenticate(login, password string) (*db.UserRecord, error) {
	rec, err := a.database.GetUserByLogin(login)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := a.hasher.VerifyPassword(password, rec.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("password verification: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return rec, nil
}

// GenerateTokens issues an access/refresh pair for a user.
func (a *AuthService) GenerateTokens(userID int64) (access, refresh string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(AccessTokenTTL)

	access, err = a.signToken(userID, "access", now, expiresAt)
	if err != nil {
		return "", "", time.Time{}, err
	}
	refresh, err = a.signToken(userID, "refresh", now, now.Add(RefreshTokenTTL))
	if err != nil {
		return "", "", time.Time{}, err
	}
	return access, refresh, expiresAt, nil
}

func (a *AuthService) signToken(userID int64, tokenType string, issuedAt, expiresAt time.Time) (string, error) {
	claims := &Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ren",
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(config.Keys().SigningSecret()))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies an access token. During secret rotation
// both the current and previous secrets are accepted.
func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	return a.validate(tokenString, "access")
}

// ValidateRefreshToken parses and verifies a refresh token.
func (a *AuthService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return a.validate(tokenString, "refresh")
}

func (a *AuthService) validate(tokenString, wantType string) (*Claims, error) {
	// The key ring holds the active secret plus, inside the rotation grace
	// window, the retired one.
	var claims *Claims
	err := ErrInvalidToken
	for _, secret := range config.Keys().VerifySecrets() {
		if claims, err = parseWithSecret(tokenString, secret); err == nil {
			break
		}
	}
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func parseWithSecret(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Refresh exchanges a valid refresh token for a fresh token pair.
func (a *AuthService) Refresh(refreshToken string) (access, refresh string, expiresAt time.Time, err error) {
	claims, err := a.ValidateRefreshToken(refreshToken)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return a.GenerateTokens(claims.UserID)
}
