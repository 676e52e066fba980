package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/zardamhussain/outblog-crawl/internal/config"
	"github.com/zardamhussain/outblog-crawl/internal/core/credit"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

const localsKey = "authContext"

// Context is the authenticated identity attached to a request.
type Context struct {
	TeamID string
	APIKey string
	Chunk  *credit.Chunk
}

// AccountSource resolves an API key to the team's credit chunk. Its
// backing store is the billing backend, outside this service.
type AccountSource interface {
	ChunkForKey(ctx context.Context, apiKey string) (*credit.Chunk, error)
}

// ErrUnknownKey is returned by AccountSource implementations for keys that
// do not resolve to a team.
var ErrUnknownKey = fmt.Errorf("unknown api key")

// Middleware authenticates requests according to the configured mode:
// DB authentication, allow-list, or the development bypass sentinel.
func Middleware(cfg config.Config, source AccountSource) fiber.Handler {
	log := logger.New("Auth")
	return func(c *fiber.Ctx) error {
		if cfg.AuthDisabled() {
			c.Locals(localsKey, &Context{TeamID: "preview"})
			return c.Next()
		}

		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized: Token missing",
			})
		}

		if !cfg.UseDBAuthentication {
			for i, key := range cfg.AllowedKeys {
				if token == key {
					c.Locals(localsKey, &Context{TeamID: fmt.Sprintf("env_%d", i), APIKey: token})
					return c.Next()
				}
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized: Invalid token",
			})
		}

		chunk, err := source.ChunkForKey(c.Context(), token)
		if err == ErrUnknownKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized: Invalid token",
			})
		}
		if err != nil {
			log.LogErrorf("account lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "Internal server error while authenticating",
			})
		}
		c.Locals(localsKey, &Context{TeamID: chunk.TeamID, APIKey: token, Chunk: chunk})
		return c.Next()
	}
}

// bearerToken extracts the API key from the Authorization header, falling
// back to the token query parameter for WebSocket clients.
func bearerToken(c *fiber.Ctx) string {
	h := c.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}

// FromCtx returns the identity the middleware attached, or nil.
func FromCtx(c *fiber.Ctx) *Context {
	if ac, ok := c.Locals(localsKey).(*Context); ok {
		return ac
	}
	return nil
}

// FromConn returns the identity for an upgraded WebSocket connection.
func FromConn(conn *websocket.Conn) *Context {
	if ac, ok := conn.Locals(localsKey).(*Context); ok {
		return ac
	}
	return nil
}

// RedisAccountSource is a development stand-in that reads chunks from the
// shared cache under api_key:<key>. Production deployments resolve keys
// against the billing backend instead.
type RedisAccountSource struct {
	cache credit.ConfigCache
}

func NewRedisAccountSource(cache credit.ConfigCache) *RedisAccountSource {
	return &RedisAccountSource{cache: cache}
}

func (s *RedisAccountSource) ChunkForKey(ctx context.Context, apiKey string) (*credit.Chunk, error) {
	var chunk credit.Chunk
	if err := s.cache.CacheGet(ctx, "api_key:"+apiKey, &chunk); err != nil {
		return nil, ErrUnknownKey
	}
	return &chunk, nil
}
