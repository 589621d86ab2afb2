package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/armando-rios/pinturillo/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	ErrMissingTokenStr         = "missing-token"
	ErrExpiredTokenStr         = "expired-token"
	ErrInvalidTokenStr         = "invalid-token"
	ErrInvalidRequestFormatStr = "bad-request-format"
	ErrUnknownStr              = "unknown-error"
)

const identityKey = "identity"

type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

type TokenIssuer interface {
	Generate(identity domain.Identity, now time.Time) (string, error)
}

// RequireIdentity resolves the caller from the "token" cookie or a bearer
// token. Suspicious tokens are answered after trollTime.
func RequireIdentity(verifier TokenVerifier, trollTime time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := tokenFrom(ctx)
		if token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingTokenStr})
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			logger := log.With().
				Str("ip", ctx.ClientIP()).
				Str("user_agent", ctx.Request.UserAgent()).
				Str("token", redact(token)).
				Err(err).
				Logger()

			switch {
			case errors.Is(err, domain.ErrInvalidSigningAlg),
				errors.Is(err, domain.ErrInvalidTokenSignature),
				errors.Is(err, domain.ErrCorruptedToken):
				logger.Warn().Msg("suspicious token attempt")
				time.Sleep(trollTime)
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidTokenStr})

			case errors.Is(err, domain.ErrExpiredToken):
				logger.Info().Msg("token expired")
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrExpiredTokenStr})

			default:
				logger.Error().Msg("internal auth error")
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnknownStr})
			}
			return
		}

		ctx.Set(identityKey, identity)
		ctx.Next()
	}
}

func IdentityFrom(ctx *gin.Context) (domain.Identity, bool) {
	v, ok := ctx.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok && identity.UserID != ""
}

func tokenFrom(ctx *gin.Context) string {
	if token, err := ctx.Cookie("token"); err == nil && token != "" {
		return token
	}
	header := ctx.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func redact(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return token
	}
	sig := []rune(parts[2])
	if len(sig) >= 10 {
		parts[2] = string(sig[:10]) + strings.Repeat("*", len(sig)-10)
	}
	return strings.Join(parts, ".")
}

// DevTokenHandler mints a session cookie for any identity. It is only
// mounted in debug mode, where no external issuer is around.
func DevTokenHandler(issuer TokenIssuer, maxAge time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var identity domain.Identity
		if err := ctx.ShouldBindJSON(&identity); err != nil || identity.UserID == "" || identity.Username == "" {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRequestFormatStr})
			return
		}
		token, err := issuer.Generate(identity, time.Now())
		if err != nil {
			log.Error().Err(err).Str("user", identity.UserID).Msg("dev token generation failed")
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": ErrUnknownStr})
			return
		}
		ctx.SetSameSite(http.SameSiteNoneMode)
		ctx.SetCookie("token", token, int(maxAge.Seconds()), "/", "", true, true)
		ctx.JSON(http.StatusOK, gin.H{"token": token})
	}
}
