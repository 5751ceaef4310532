// Package fetch 负责从源站下载单个文件：有限次重试、404 立即终止、临时文件 + rename 原子落盘。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/patch-hub/patch-hub/internal/cache"
	"github.com/patch-hub/patch-hub/internal/logging"
	"github.com/patch-hub/patch-hub/internal/metrics"
)

// Outcome 表示一次下载的最终结果。
type Outcome int

const (
	Failed Outcome = iota
	Success
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// ErrEmptyTarget 表示 URL 或目标路径在清理后为空。
var ErrEmptyTarget = errors.New("fetch: empty url or destination")

// errNotFound 仅在单次尝试内部使用，用于区分 404 与可重试错误。
var errNotFound = errors.New("origin reports not found")

// Options 描述 Executor 的依赖与参数，零值字段会使用默认值。
type Options struct {
	Client     *http.Client
	Logger     *logrus.Logger
	Locks      *cache.PathLocker
	RetryDelay time.Duration
	Timeout    time.Duration
	UserAgent  string
}

// Executor 在爬虫与在线代理之间共享，同一目标路径同一时刻只有一个写入者。
type Executor struct {
	client     *http.Client
	logger     *logrus.Logger
	locks      *cache.PathLocker
	retryDelay time.Duration
	timeout    time.Duration
	userAgent  string
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewExecutor 根据 Options 构造 Executor。
func NewExecutor(opts Options) *Executor {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	locks := opts.Locks
	if locks == nil {
		locks = cache.NewPathLocker()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Executor{
		client:     client,
		logger:     logging.OrDiscard(opts.Logger),
		locks:      locks,
		retryDelay: opts.RetryDelay,
		timeout:    timeout,
		userAgent:  opts.UserAgent,
		sleep:      sleepContext,
	}
}

// WithTimeout 返回共享客户端与路径锁、但单次尝试超时不同的副本，在线代理使用更长的超时。
func (e *Executor) WithTimeout(timeout time.Duration) *Executor {
	clone := *e
	if timeout > 0 {
		clone.timeout = timeout
	}
	return &clone
}

// Fetch 下载 remoteURL 到 dest，最多尝试 maxAttempts 次（<=0 视为 1）。
// dest 上已有的文件会先被删除；只有在完整写入并 fsync 后才 rename 到 dest。
// 返回的 error 仅用于日志，结果以 Outcome 为准。
func (e *Executor) Fetch(ctx context.Context, remoteURL, dest string, maxAttempts int) (Outcome, error) {
	remoteURL = sanitize(remoteURL)
	dest = sanitize(dest)
	if remoteURL == "" || dest == "" {
		return Failed, ErrEmptyTarget
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	unlock := e.locks.Lock(dest)
	defer unlock()

	fields := logging.FetchFields(remoteURL, dest)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		e.logger.WithFields(fields).WithError(err).Error("fetch_mkdir_failed")
		return Failed, fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.Remove(dest); err == nil {
		e.logger.WithFields(fields).Debug("fetch_removed_existing")
	} else if !errors.Is(err, os.ErrNotExist) {
		e.logger.WithFields(fields).WithError(err).Warn("fetch_remove_existing_failed")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Failed, err
		}

		written, err := e.attempt(ctx, remoteURL, dest)
		switch {
		case err == nil:
			metrics.FetchAttempts.WithLabelValues("success").Inc()
			e.logger.WithFields(fields).WithFields(logrus.Fields{
				"attempt": attempt,
				"bytes":   written,
			}).Info("fetch_complete")
			return Success, nil
		case errors.Is(err, errNotFound):
			metrics.FetchAttempts.WithLabelValues("not_found").Inc()
			e.logger.WithFields(fields).Warn("fetch_not_found")
			return NotFound, nil
		}

		lastErr = err
		metrics.FetchAttempts.WithLabelValues("error").Inc()
		e.logger.WithFields(fields).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
		}).WithError(err).Warn("fetch_attempt_failed")

		if attempt < maxAttempts {
			metrics.FetchAttempts.WithLabelValues("retry").Inc()
			if err := e.sleep(ctx, e.retryDelay); err != nil {
				return Failed, err
			}
		}
	}

	e.logger.WithFields(fields).WithError(lastErr).Error("fetch_failed")
	return Failed, lastErr
}

// attempt 执行单次请求；先清理超过单次超时仍未更新的遗留临时文件，其他写入者正在写的不受影响。
func (e *Executor) attempt(ctx context.Context, remoteURL, dest string) (int64, error) {
	if _, err := cache.SweepTemps(dest, e.timeout); err != nil {
		return 0, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return 0, err
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return 0, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return cache.WriteFileAtomic(attemptCtx, dest, resp.Body)
}

// sanitize 去除控制字符与首尾空白，清单中偶尔夹带 \r 或 BOM。
func sanitize(value string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '\uFEFF' {
			return -1
		}
		return r
	}, value)
	return strings.TrimSpace(cleaned)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
