package server

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/config"
	"github.com/any-hub/any-cache/internal/fetcher"
	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/version"
)

// Fetcher is the subset of the fetch coordinator the HTTP surface needs.
type Fetcher interface {
	Fetch(ctx context.Context, key string, opts fetcher.Options) (string, error)
	FetchMany(ctx context.Context, keys []string, opts fetcher.Options) []fetcher.Result
	LookupOnly(key string) (string, bool)
	Evict(key string) (bool, error)
	InFlight() []string
	Entries() []cache.Entry
}

// AppOptions controls how the Fiber application is wired.
type AppOptions struct {
	Logger     *logrus.Logger
	Fetcher    Fetcher
	Metrics    *metrics.Recorder
	ListenPort int
}

const contextKeyRequestID = "_anycache_request_id"

type fetchResponse struct {
	URL   string `json:"url"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

type batchRequest struct {
	URLs        []string `json:"urls"`
	Referer     string   `json:"referer"`
	KeepSeconds int64    `json:"keep_seconds"`
}

// NewApp builds the Fiber application with request-id and recover middleware
// plus the fetch and diagnostics routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.ListenPort <= 0 {
		return nil, errors.New("invalid listen port")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	h := &handlers{fetcher: opts.Fetcher, logger: opts.Logger}
	app.Get("/fetch", h.fetch)
	app.Post("/fetch/batch", h.fetchBatch)
	app.Get("/artifact", h.artifact)
	app.Get("/lookup", h.lookup)

	app.Get("/-/entries", h.entries)
	app.Delete("/-/entries", h.evict)
	app.Get("/-/stats", h.stats)
	app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并写入响应头，日志通过 RequestID 关联。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
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

type handlers struct {
	fetcher Fetcher
	logger  *logrus.Logger
}

func (h *handlers) fetch(c fiber.Ctx) error {
	key, opts, err := fetchParams(c)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, err.Error())
	}
	path, err := h.fetcher.Fetch(requestContext(c), key, opts)
	if err != nil {
		return h.fetchFailed(c, key, err)
	}
	return c.JSON(fetchResponse{URL: key, Path: path})
}

func (h *handlers) fetchBatch(c fiber.Ctx) error {
	var req batchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_body")
	}
	if len(req.URLs) == 0 {
		return writeError(c, fiber.StatusBadRequest, "urls_required")
	}
	if req.KeepSeconds < 0 {
		return writeError(c, fiber.StatusBadRequest, "invalid_keep")
	}

	results := h.fetcher.FetchMany(requestContext(c), req.URLs, fetcher.Options{
		Referer: req.Referer,
		Keep:    time.Duration(req.KeepSeconds) * time.Second,
	})
	payload := make([]fetchResponse, 0, len(results))
	for _, res := range results {
		item := fetchResponse{URL: res.Key, Path: res.Path}
		if res.Err != nil {
			item.Error = errorCode(res.Err)
		}
		payload = append(payload, item)
	}
	return c.JSON(fiber.Map{"results": payload})
}

func (h *handlers) artifact(c fiber.Ctx) error {
	key, opts, err := fetchParams(c)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, err.Error())
	}
	path, err := h.fetcher.Fetch(requestContext(c), key, opts)
	if err != nil {
		return h.fetchFailed(c, key, err)
	}

	file, err := os.Open(path)
	if err != nil {
		// 文件可能刚被 Sweeper 删除，交由客户端重试。
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "artifact",
			"url":        key,
			"path":       path,
			"request_id": RequestID(c),
		}).Warn("artifact vanished before streaming")
		return writeError(c, fiber.StatusServiceUnavailable, "artifact_unavailable")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return writeError(c, fiber.StatusInternalServerError, "artifact_unavailable")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.SendStream(file, int(info.Size()))
}

func (h *handlers) lookup(c fiber.Ctx) error {
	key := strings.TrimSpace(c.Query("url"))
	if key == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	path, ok := h.fetcher.LookupOnly(key)
	if !ok {
		return writeError(c, fiber.StatusNotFound, "not_cached")
	}
	return c.JSON(fetchResponse{URL: key, Path: path})
}

func (h *handlers) entries(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"entries": h.fetcher.Entries()})
}

func (h *handlers) evict(c fiber.Ctx) error {
	key := strings.TrimSpace(c.Query("url"))
	if key == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	removed, err := h.fetcher.Evict(key)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "evict",
			"url":        key,
			"request_id": RequestID(c),
		}).Warn("evict completed with errors")
	}
	return c.JSON(fiber.Map{"url": key, "evicted": removed})
}

func (h *handlers) stats(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"entries":  len(h.fetcher.Entries()),
		"inflight": h.fetcher.InFlight(),
		"version":  version.Full(),
	})
}

func (h *handlers) fetchFailed(c fiber.Ctx, key string, err error) error {
	code := errorCode(err)
	h.logger.WithError(err).WithFields(logrus.Fields{
		"action":     "fetch",
		"url":        key,
		"request_id": RequestID(c),
	}).Warn("fetch request failed")

	status := fiber.StatusBadGateway
	switch code {
	case "shutting_down":
		status = fiber.StatusServiceUnavailable
	case "cancelled":
		status = fiber.StatusGatewayTimeout
	}
	return c.Status(status).JSON(fetchResponse{URL: key, Error: code})
}

// fetchParams 解析 url/referer/keep 查询参数，keep 支持 "90s" 或纯秒数。
func fetchParams(c fiber.Ctx) (string, fetcher.Options, error) {
	key := strings.TrimSpace(c.Query("url"))
	if key == "" {
		return "", fetcher.Options{}, errors.New("url_required")
	}
	opts := fetcher.Options{Referer: c.Query("referer")}
	if raw := c.Query("keep"); raw != "" {
		var keep config.Duration
		if err := keep.UnmarshalText([]byte(raw)); err != nil || keep.DurationValue() <= 0 {
			return "", fetcher.Options{}, errors.New("invalid_keep")
		}
		opts.Keep = keep.DurationValue()
	}
	return key, opts, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrClosed):
		return "shutting_down"
	case errors.Is(err, fetcher.ErrEmptyKey):
		return "url_required"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "transfer_failed"
	}
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
