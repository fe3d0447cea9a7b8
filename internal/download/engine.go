package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/any-cache/internal/logging"
)

const (
	defaultSegments       = 5
	defaultBufferSize     = 4096
	defaultInitialBackoff = time.Second
)

// ScratchSpace 提供暂存文件，cache.Store 满足该接口。
type ScratchSpace interface {
	TempFile(pattern string) (*os.File, error)
}

// Options 控制分段数量、读缓冲与分段续传策略。
type Options struct {
	Segments       int
	BufferSize     int
	MaxRetries     int
	InitialBackoff time.Duration
	UserAgent      string
}

// Request 描述一次下载。
type Request struct {
	URL     string
	Referer string
}

// Engine 执行 HTTP 下载，实例可被多个 goroutine 并发使用。
type Engine struct {
	client  *http.Client
	scratch ScratchSpace
	opts    Options
	logger  *logrus.Entry
}

// NewEngine 构造下载引擎。scratch 为 nil 时暂存文件写入系统临时目录。
func NewEngine(client *http.Client, scratch ScratchSpace, opts Options, logger *logrus.Logger) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Segments <= 0 {
		opts.Segments = defaultSegments
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	return &Engine{
		client:  client,
		scratch: scratch,
		opts:    opts,
		logger:  logging.Component(logger, "download"),
	}
}

type segment struct {
	index int
	start int64
	end   int64 // inclusive
}

// Download 把 req.URL 的正文完整写入暂存文件并返回 Payload。
// 任何失败都返回 *TransferError，且不会留下暂存文件。
func (e *Engine) Download(ctx context.Context, req Request, obs Observer) (payload *Payload, err error) {
	if obs == nil {
		obs = NopObserver{}
	}
	defer func() {
		obs.Completed(req.URL, err)
	}()

	total, ranged, err := e.probe(ctx, req)
	if err != nil {
		return nil, err
	}

	file, err := e.tempFile()
	if err != nil {
		return nil, transferError(req.URL, 0, fmt.Errorf("create scratch file: %w", err))
	}
	defer func() {
		if err != nil {
			name := file.Name()
			file.Close()
			os.Remove(name)
		}
	}()

	parts := e.plan(total, ranged)
	if len(parts) > 1 {
		obs.Started(req.URL, total)
		err = e.fetchSegments(ctx, req, file, parts, total, obs)
	} else {
		total, err = e.fetchWhole(ctx, req, file, total, obs)
	}
	if err != nil {
		return nil, err
	}

	payload, err = NewPayload(file, total)
	if err != nil {
		return nil, transferError(req.URL, 0, err)
	}
	return payload, nil
}

// probe 发送 HEAD 获取长度与 Range 支持情况。上游不支持 HEAD 时返回 total=-1，
// 由单连接 GET 兜底。
func (e *Engine) probe(ctx context.Context, req Request) (int64, bool, error) {
	httpReq, err := e.newRequest(ctx, http.MethodHead, req)
	if err != nil {
		return 0, false, transferError(req.URL, 0, err)
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, false, transferError(req.URL, 0, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		return -1, false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, false, transferError(req.URL, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}
	if resp.ContentLength == 0 {
		return 0, false, transferError(req.URL, resp.StatusCode, ErrEmptyPayload)
	}
	ranged := strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes")
	return resp.ContentLength, ranged, nil
}

// plan 按 Segments 切分区间，单段长度不小于 BufferSize；不满足两段时返回 nil。
func (e *Engine) plan(total int64, ranged bool) []segment {
	if !ranged || total <= 0 {
		return nil
	}
	n := int64(e.opts.Segments)
	if limit := total / int64(e.opts.BufferSize); limit < n {
		n = limit
	}
	if n < 2 {
		return nil
	}
	size := total / n
	parts := make([]segment, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * size
		end := start + size - 1
		if i == n-1 {
			end = total - 1
		}
		parts = append(parts, segment{index: int(i), start: start, end: end})
	}
	return parts
}

func (e *Engine) fetchSegments(ctx context.Context, req Request, file *os.File, parts []segment, total int64, obs Observer) error {
	var received atomic.Int64
	report := func(n int64) {
		obs.Progress(req.URL, received.Add(n), total)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, part := range parts {
		g.Go(func() error {
			return e.fetchSegment(gctx, req, file, part, report)
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return transferError(req.URL, 0, ctx.Err())
		}
		return transferError(req.URL, 0, err)
	}
	if got := received.Load(); got != total {
		return transferError(req.URL, 0, fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, got, total))
	}
	return nil
}

// fetchSegment 下载单个区间，失败后从已写入的位置续传，退避时间逐次翻倍。
func (e *Engine) fetchSegment(ctx context.Context, req Request, file *os.File, part segment, report func(int64)) error {
	offset := part.start
	backoff := e.opts.InitialBackoff
	for attempt := 0; ; attempt++ {
		n, err := e.fetchRange(ctx, req, file, offset, part.end, report)
		offset += n
		if err == nil && offset <= part.end {
			err = ErrShortBody
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= e.opts.MaxRetries || !retryable(err) {
			return err
		}

		e.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "segment_retry",
			"url":     req.URL,
			"segment": part.index,
			"offset":  offset,
			"attempt": attempt + 1,
			"backoff": backoff.String(),
		}).Debug("segment transfer interrupted, resuming")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (e *Engine) fetchRange(ctx context.Context, req Request, file *os.File, start, end int64, report func(int64)) (int64, error) {
	httpReq, err := e.newRequest(ctx, http.MethodGet, req)
	if err != nil {
		return 0, transferError(req.URL, 0, err)
	}
	httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return 0, transferError(req.URL, resp.StatusCode, errRangeIgnored)
		}
		return 0, transferError(req.URL, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	body := io.LimitReader(resp.Body, end-start+1)
	return e.copyBuffered(io.NewOffsetWriter(file, start), body, report)
}

// fetchWhole 用单个 GET 下载正文，返回实际长度。GET 未声明长度（如 chunked）时
// 以 HEAD 探测到的 expected 为准，两者都未知则失败。
func (e *Engine) fetchWhole(ctx context.Context, req Request, file *os.File, expected int64, obs Observer) (int64, error) {
	httpReq, err := e.newRequest(ctx, http.MethodGet, req)
	if err != nil {
		return 0, transferError(req.URL, 0, err)
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, transferError(req.URL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, transferError(req.URL, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}
	total := resp.ContentLength
	if total < 0 && expected > 0 {
		total = expected
	}
	switch {
	case total < 0:
		return 0, transferError(req.URL, resp.StatusCode, ErrUnknownSize)
	case total == 0:
		return 0, transferError(req.URL, resp.StatusCode, ErrEmptyPayload)
	}

	obs.Started(req.URL, total)
	var received int64
	n, err := e.copyBuffered(file, io.LimitReader(resp.Body, total), func(n int64) {
		received += n
		obs.Progress(req.URL, received, total)
	})
	if err != nil {
		return 0, transferError(req.URL, resp.StatusCode, err)
	}
	if n != total {
		return 0, transferError(req.URL, resp.StatusCode, fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, n, total))
	}
	return total, nil
}

// copyBuffered 以 BufferSize 为单位读取并写入，每写入一块回调一次 report。
func (e *Engine) copyBuffered(dst io.Writer, src io.Reader, report func(int64)) (int64, error) {
	buf := make([]byte, e.opts.BufferSize)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			written += int64(w)
			if w > 0 {
				report(int64(w))
			}
			if wErr != nil {
				return written, wErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return written, nil
			}
			return written, err
		}
	}
}

func (e *Engine) newRequest(ctx context.Context, method string, req Request) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, err
	}
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}
	if e.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", e.opts.UserAgent)
	}
	return httpReq, nil
}

func (e *Engine) tempFile() (*os.File, error) {
	if e.scratch == nil {
		return os.CreateTemp("", "any-cache-*")
	}
	return e.scratch.TempFile("*")
}
