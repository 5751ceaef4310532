package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/patch-hub/patch-hub/internal/version"
)

// AssetRoute 是在线资源请求的路由模板：/data_game/<game>/<server>/<remote path>。
const AssetRoute = "/data_game/:game/:server/*"

// AssetRequest 汇总一次资源请求在路由层解析出的全部信息。
type AssetRequest struct {
	Game      string
	Server    string
	// RemotePath 为解码后的相对路径，用于定位磁盘文件。
	RemotePath string
	// OriginURL 为保持原始编码的源站地址，回源与重定向都使用它。
	OriginURL string
	Route     *OriginRoute
	RequestID string
}

// ProxyHandler describes the component that serves an asset request. It allows
// injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx, *AssetRequest) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *AssetRequest) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, req *AssetRequest) error {
	return f(c, req)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *OriginRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const contextKeyRequestID = "_patchhub_request_id"

// NewApp builds a Fiber application with request ids, panic recovery, the asset
// route and a generic error renderer.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("origin registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(requestIDMiddleware())
	app.Use(recover.New())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString(version.Full())
	})
	app.Get(AssetRoute, func(c fiber.Ctx) error {
		req, status, code := buildAssetRequest(c, opts.Registry)
		if req == nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "origin_lookup",
				"game":       c.Params("game"),
				"server":     c.Params("server"),
				"request_id": RequestID(c),
			}).Warn(code)
			return c.Status(status).JSON(fiber.Map{"error": code})
		}
		return opts.Proxy.Handle(c, req)
	})

	return app, nil
}

func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// buildAssetRequest 解析路由参数并查找源站；失败时返回状态码与错误码。
func buildAssetRequest(c fiber.Ctx, registry *OriginRegistry) (*AssetRequest, int, string) {
	game := strings.ToLower(c.Params("game"))
	server := strings.ToLower(c.Params("server"))
	raw := strings.TrimLeft(c.Params("*"), "/")
	if raw == "" {
		return nil, fiber.StatusBadRequest, "invalid_path"
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fiber.StatusBadRequest, "invalid_path"
	}

	route, ok := registry.Lookup(game, server, decoded)
	if !ok {
		return nil, fiber.StatusNotFound, "origin_unmapped"
	}
	if route.Config.Disabled {
		return nil, fiber.StatusInternalServerError, "origin_disabled"
	}

	return &AssetRequest{
		Game:       game,
		Server:     server,
		RemotePath: decoded,
		OriginURL:  route.Resolve(raw),
		Route:      route,
		RequestID:  RequestID(c),
	}, 0, ""
}

// errorHandler 将未处理的错误统一渲染为 JSON；5xx 不暴露内部细节。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		if status < fiber.StatusInternalServerError {
			code := strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
			return c.Status(status).JSON(fiber.Map{"error": code})
		}

		logger.WithFields(logrus.Fields{
			"action":     "http_error",
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).WithError(err).Error("request_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
