// FILE: internal/pkg/serverutils/jwt_middleware.go
package serverutils

import (
	"errors"
	"fmt"
	"strings"

	"ai-research-be/internal/entity"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Locals keys set by JwtMiddleware.
const (
	LocalUserID   = "user_id"
	LocalIdentity = "identity"
)

var ErrMissingToken = errors.New("missing token (query 'token' or header 'Authorization')")

// TokenFromRequest prefers the query parameter (browsers cannot set headers
// on a websocket handshake) and falls back to the bearer header.
func TokenFromRequest(ctx *fiber.Ctx) string {
	if token := ctx.Query("token"); token != "" {
		return token
	}
	authHeader := ctx.Get("Authorization")
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		return authHeader[7:]
	}
	return ""
}

// ParseIdentity verifies an HS256 token and extracts the identity claims:
// user_id (required), email, role, tier and features (optional).
func ParseIdentity(tokenStr, secret string) (entity.Identity, error) {
	if tokenStr == "" {
		return entity.Identity{}, ErrMissingToken
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return entity.Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return entity.Identity{}, errors.New("invalid token claims")
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return entity.Identity{}, errors.New("token missing user_id")
	}

	identity := entity.Identity{UserID: userID}
	identity.Email, _ = claims["email"].(string)
	identity.Role, _ = claims["role"].(string)
	if tier, ok := claims["tier"].(string); ok {
		identity.Tier = entity.SubscriptionTier(strings.ToLower(tier))
	}
	if raw, ok := claims["features"].([]interface{}); ok {
		identity.Features = make([]string, 0, len(raw))
		for _, f := range raw {
			if s, ok := f.(string); ok {
				identity.Features = append(identity.Features, s)
			}
		}
	}
	return identity, nil
}

func JwtMiddleware(secret string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		identity, err := ParseIdentity(TokenFromRequest(ctx), secret)
		if err != nil {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, err.Error()))
		}
		ctx.Locals(LocalUserID, identity.UserID)
		ctx.Locals(LocalIdentity, identity)
		return ctx.Next()
	}
}

// IdentityFrom returns the identity stored by JwtMiddleware.
func IdentityFrom(ctx *fiber.Ctx) (entity.Identity, bool) {
	identity, ok := ctx.Locals(LocalIdentity).(entity.Identity)
	return identity, ok
}

// AdminMiddleware runs after JwtMiddleware and only admits "role": "admin".
func AdminMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		identity, ok := IdentityFrom(ctx)
		if !ok || !identity.IsAdmin() {
			return ctx.Status(fiber.StatusForbidden).JSON(ErrorResponse(fiber.StatusForbidden, "Admin access required"))
		}
		return ctx.Next()
	}
}
