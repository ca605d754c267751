package middlewares

import (
	"encoding/base64"
	"fmt"
	"os"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTMiddleware returns a JWT middleware using either JWKS or a local key for
// validation.
func JWTMiddleware(c *fiber.Ctx) error {
	// Test mode validates against the local shared secret.
	if os.Getenv("JWT_TEST_MODE") == "true" {
		return jwtware.New(jwtware.Config{
			SigningKey:     getSigningKeyOrPanic(),
			SuccessHandler: jwtSuccessHandler,
			ErrorHandler:   jwtErrorHandler,
		})(c)
	}

	return jwtware.New(jwtware.Config{
		SuccessHandler: jwtSuccessHandler,
		ErrorHandler:   jwtErrorHandler,
		JWKSetURLs:     []string{os.Getenv("JWKS_URL")},
	})(c)
}

// jwtSuccessHandler stores the identity claims in context for the escrow
// handlers: user_id identifies the counterparty, is_admin marks platform
// operators.
func jwtSuccessHandler(c *fiber.Ctx) error {
	token := c.Locals("user").(*jwt.Token)

	claims := token.Claims.(jwt.MapClaims)
	resourceAccess, ok := claims["resource_access"].(map[string]interface{})
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "Unauthorized - missing resource_access claim",
			"success": false,
		})
	}

	c.Locals("token", token.Raw)
	c.Locals("claims", claims)
	c.Locals("user_id", resourceAccess["id"])
	c.Locals("is_admin", resourceAccess["isAdmin"])

	return c.Next()
}

func jwtErrorHandler(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "Unauthorized - " + err.Error(),
		"success": false,
	})
}

func getSigningKeyOrPanic() jwtware.SigningKey {
	key, err := getSigningKey()
	if err != nil {
		panic(err)
	}
	return jwtware.SigningKey{Key: key, JWTAlg: "HS256"}
}

// getSigningKey retrieves the JWT signing key from the environment.
func getSigningKey() ([]byte, error) {
	encodedSecret := os.Getenv("JWT_SECRET")
	if encodedSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable not set")
	}

	decodedSecret, err := base64.StdEncoding.DecodeString(encodedSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT_SECRET: %w", err)
	}

	return decodedSecret, nil
}
