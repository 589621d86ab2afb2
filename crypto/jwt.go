package crypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/golang-jwt/jwt/v5"
)

// identityClaims is what the identity service signs for us. We only verify.
type identityClaims struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	secretKey []byte
	maxAge    time.Duration
}

func NewJWTManager(secretKey string, maxAge time.Duration) *JWTManager {
	return &JWTManager{
		secretKey: []byte(secretKey),
		maxAge:    maxAge,
	}
}

// Generate mints a token for the given identity. Used by tests and the local
// dev token endpoint; production tokens come from the identity service.
func (m *JWTManager) Generate(identity domain.Identity, now time.Time) (string, error) {
	claims := identityClaims{
		Id:       identity.UserID,
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secretKey)

	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.UnexpectedTokenGenerationError, err)
	}

	return signedToken, nil
}

func (m *JWTManager) Verify(tokenString string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &identityClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidSigningAlg
		}
		return m.secretKey, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSigningAlg):
			return domain.Identity{}, err
		case errors.Is(err, jwt.ErrTokenExpired):
			return domain.Identity{}, domain.ErrExpiredToken
		case errors.Is(err, jwt.ErrSignatureInvalid), errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return domain.Identity{}, domain.ErrInvalidTokenSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return domain.Identity{}, domain.ErrCorruptedToken
		default:
			return domain.Identity{}, fmt.Errorf("%w: %w", domain.UnexpectedTokenVerificationError, err)
		}
	}

	claims, ok := token.Claims.(*identityClaims)
	if !ok || !token.Valid || claims.Id == "" {
		return domain.Identity{}, domain.ErrCorruptedToken
	}

	return domain.Identity{UserID: claims.Id, Username: claims.Username}, nil
}
