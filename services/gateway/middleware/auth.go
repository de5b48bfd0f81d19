package middleware

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	HeaderTokenExpired = "Token-Expired"

	localsUserID = "userId"
	localsRoles  = "roles"
)

type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// Claims is what the auth service puts in an access token. A single role is
// serialized as a string, several as an array.
type Claims struct {
	Role Roles `json:"role"`
	jwt.RegisteredClaims
}

type Roles []string

func (r *Roles) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = nil
		return nil
	}

	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*r = Roles{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

func NewAuthMiddleware(cfg AuthConfig) fiber.Handler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(cfg.Secret)

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed header"})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid header format"})
		}

		var claims Claims
		_, err := parser.ParseWithClaims(parts[1], &claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if errors.Is(err, jwt.ErrTokenExpired) {
			c.Set(HeaderTokenExpired, "true")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Token expired, please log in again"})
		}
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid token"})
		}

		c.Locals(localsUserID, claims.Subject)
		c.Locals(localsRoles, []string(claims.Role))
		return c.Next()
	}
}

// RequireRoles lets the request through when the authenticated user holds
// any of the given roles. It must run after NewAuthMiddleware.
func RequireRoles(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		held, ok := c.Locals(localsRoles).([]string)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Internal error: auth flow violation"})
		}

		for _, r := range held {
			if slices.Contains(roles, r) {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Forbidden: missing role",
			"code":  "INSUFFICIENT_ROLE",
		})
	}
}
