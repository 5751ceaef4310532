// Package proxy 实现在线读穿缓存：本地命中直接返回，未命中时单飞回源落盘后返回，
// 任何失败或并发冲突都重定向到源站，客户端永远不会拿到半截文件。
package proxy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/patch-hub/patch-hub/internal/cache"
	"github.com/patch-hub/patch-hub/internal/fetch"
	"github.com/patch-hub/patch-hub/internal/flight"
	"github.com/patch-hub/patch-hub/internal/logging"
	"github.com/patch-hub/patch-hub/internal/metrics"
	"github.com/patch-hub/patch-hub/internal/server"
)

// 请求结果，同时作为日志 outcome 与指标标签。
const (
	outcomeHit              = "hit"
	outcomeFetched          = "fetched"
	outcomeRedirectInflight = "redirect_inflight"
	outcomeRedirectFailed   = "redirect_failed"
	outcomeInvalid          = "invalid"
)

// Handler 串起“查本地 → 抢单飞 → 回源落盘 → 返回文件”的流程，回源只尝试一次。
type Handler struct {
	store    cache.Store
	executor *fetch.Executor
	gate     *flight.Gate
	logger   *logrus.Logger
}

// NewHandler constructs a proxy handler. The executor should already carry the
// online fetch timeout.
func NewHandler(store cache.Store, executor *fetch.Executor, gate *flight.Gate, logger *logrus.Logger) *Handler {
	if gate == nil {
		gate = flight.NewGate()
	}
	return &Handler{
		store:    store,
		executor: executor,
		gate:     gate,
		logger:   logging.OrDiscard(logger),
	}
}

// Handle 处理一次资源请求。
func (h *Handler) Handle(c fiber.Ctx, req *server.AssetRequest) error {
	started := time.Now()
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	locator := cache.Locator{Game: req.Game, Path: req.RemotePath}
	dest, err := h.store.Path(locator)
	if err != nil {
		h.logResult(req, fiber.StatusBadRequest, false, outcomeInvalid, started, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_path"})
	}

	if result, ok := h.lookup(ctx, req, locator); ok {
		return h.serve(c, req, result, true, started)
	}

	// 以磁盘路径作为单飞键：同一资源的不同百分号编码解码后落到同一个文件。
	inflight, acquired := h.gate.TryAcquire(dest)
	if !acquired {
		h.logger.WithFields(logging.RequestFields(req.Game, req.Server, req.RemotePath, false)).
			WithField("inflight_since", inflight.Started).
			Warn("proxy_inflight_redirect")
		return h.redirect(c, req, outcomeRedirectInflight, started, nil)
	}

	// 抢到单飞后再查一次，前一个下载者可能刚刚完成。
	if result, ok := h.lookup(ctx, req, locator); ok {
		inflight.Release(nil)
		return h.serve(c, req, result, true, started)
	}

	// 客户端断开不应中断已经开始的回源，下载结果对后续请求同样有用。
	outcome, fetchErr := h.executor.Fetch(context.WithoutCancel(ctx), req.OriginURL, dest, 1)
	if outcome != fetch.Success {
		if fetchErr == nil {
			fetchErr = fmt.Errorf("origin returned %s", outcome)
		}
		inflight.Release(fetchErr)
		return h.redirect(c, req, outcomeRedirectFailed, started, fetchErr)
	}
	inflight.Release(nil)

	result, err := h.store.Get(ctx, locator)
	if err != nil {
		return h.redirect(c, req, outcomeRedirectFailed, started, err)
	}
	return h.serve(c, req, result, false, started)
}

func (h *Handler) lookup(ctx context.Context, req *server.AssetRequest, locator cache.Locator) (*cache.ReadResult, bool) {
	result, err := h.store.Get(ctx, locator)
	switch {
	case err == nil:
		return result, true
	case errors.Is(err, cache.ErrNotFound):
	default:
		h.logger.WithFields(logging.RequestFields(req.Game, req.Server, req.RemotePath, false)).
			WithError(err).Warn("cache_get_failed")
	}
	return nil, false
}

// serve 以附件形式流式返回文件，文件句柄由 fasthttp 在写完后关闭。
func (h *Handler) serve(c fiber.Ctx, req *server.AssetRequest, result *cache.ReadResult, hit bool, started time.Time) error {
	outcome := outcomeFetched
	cacheHeader := "miss"
	if hit {
		outcome = outcomeHit
		cacheHeader = "hit"
	}

	c.Attachment(path.Base(req.RemotePath))
	c.Set("X-Patch-Hub-Cache", cacheHeader)
	c.Status(fiber.StatusOK)
	h.logResult(req, fiber.StatusOK, hit, outcome, started, nil)
	return c.SendStream(result.Reader, int(result.Entry.SizeBytes))
}

func (h *Handler) redirect(c fiber.Ctx, req *server.AssetRequest, outcome string, started time.Time, err error) error {
	h.logResult(req, fiber.StatusFound, false, outcome, started, err)
	return c.Redirect().Status(fiber.StatusFound).To(req.OriginURL)
}

func (h *Handler) logResult(req *server.AssetRequest, status int, cacheHit bool, outcome string, started time.Time, err error) {
	metrics.ProxyRequests.WithLabelValues(outcome).Inc()

	fields := logging.RequestFields(req.Game, req.Server, req.RemotePath, cacheHit)
	fields["upstream"] = req.OriginURL
	fields["status"] = status
	fields["outcome"] = outcome
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if req.RequestID != "" {
		fields["request_id"] = req.RequestID
	}
	if req.Route != nil {
		fields["origin_rule"] = req.Route.Config.RuleName()
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("proxy_fallback")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
