package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/patch-hub/patch-hub/internal/cache"
	"github.com/patch-hub/patch-hub/internal/config"
	"github.com/patch-hub/patch-hub/internal/fetch"
	"github.com/patch-hub/patch-hub/internal/flight"
	"github.com/patch-hub/patch-hub/internal/server"
)

const bankPath = "client_game_res/5.6_live/output_1_ab/client/Android/AudioAssets/English%28US%29/Banks0.pck"

func TestHandlerFetchesOnMissAndServesFromCacheAfterwards(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "bank-bytes")
	}))
	defer origin.Close()

	env := newProxyEnv(t, origin.URL)

	resp := env.get(t, bankPath)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "bank-bytes" {
		t.Fatalf("unexpected body %q", got)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "Banks0.pck") {
		t.Fatalf("expected attachment filename, got %q", cd)
	}
	if resp.Header.Get("X-Patch-Hub-Cache") != "miss" {
		t.Fatalf("first request should be a miss")
	}

	onDisk := filepath.Join(env.root, "genshin", "client_game_res/5.6_live/output_1_ab/client/Android/AudioAssets/English(US)/Banks0.pck")
	if _, err := os.Stat(onDisk); err != nil {
		t.Fatalf("expected cached file at decoded path: %v", err)
	}

	resp = env.get(t, bankPath)
	if resp.StatusCode != fiber.StatusOK || resp.Header.Get("X-Patch-Hub-Cache") != "hit" {
		t.Fatalf("second request should be served from cache, got %d %s", resp.StatusCode, resp.Header.Get("X-Patch-Hub-Cache"))
	}
	if got := readBody(t, resp); got != "bank-bytes" {
		t.Fatalf("unexpected cached body %q", got)
	}
	if hits.Load() != 1 {
		t.Fatalf("origin should be contacted once, got %d", hits.Load())
	}
}

func TestHandlerServesExistingFileWithoutOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("origin must not be contacted for a cached file")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer origin.Close()

	env := newProxyEnv(t, origin.URL)
	file := filepath.Join(env.root, "genshin", "client_game_res", "res_versions_external")
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(file, []byte("listing"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := env.get(t, "client_game_res/res_versions_external")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "listing" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestHandlerRedirectsWhenOriginFails(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusNotFound} {
		origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		env := newProxyEnv(t, origin.URL)
		resp := env.get(t, bankPath)
		if resp.StatusCode != fiber.StatusFound {
			t.Fatalf("status %d: expected redirect, got %d", status, resp.StatusCode)
		}
		if loc := resp.Header.Get("Location"); loc != origin.URL+"/"+bankPath {
			t.Fatalf("status %d: unexpected location %q", status, loc)
		}
		matches, _ := filepath.Glob(filepath.Join(env.root, "genshin", "client_game_res", "5.6_live", "output_1_ab", "client", "Android", "AudioAssets", "English(US)", "*"))
		if len(matches) != 0 {
			t.Fatalf("status %d: failed fetch must leave nothing behind, got %v", status, matches)
		}
		if n := len(env.gate.Snapshot()); n != 0 {
			t.Fatalf("status %d: flight should be released, %d still held", status, n)
		}
		origin.Close()
	}
}

func TestHandlerRedirectsConcurrentRequestForSameAsset(t *testing.T) {
	var hits atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}
		<-release
		_, _ = io.WriteString(w, "slow-bytes")
	}))
	defer origin.Close()

	env := newProxyEnv(t, origin.URL)

	type result struct {
		resp *http.Response
		err  error
	}
	first := make(chan result, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/data_game/genshin/os/"+bankPath, nil)
		resp, err := env.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
		first <- result{resp: resp, err: err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatalf("origin never received the first request")
	}

	resp := env.get(t, bankPath)
	if resp.StatusCode != fiber.StatusFound {
		close(release)
		t.Fatalf("concurrent request should be redirected, got %d", resp.StatusCode)
	}
	close(release)

	res := <-first
	if res.err != nil {
		t.Fatalf("first request failed: %v", res.err)
	}
	if res.resp.StatusCode != fiber.StatusOK {
		t.Fatalf("first request should be served, got %d", res.resp.StatusCode)
	}
	if got := readBody(t, res.resp); got != "slow-bytes" {
		t.Fatalf("unexpected body %q", got)
	}
	if hits.Load() != 1 {
		t.Fatalf("origin should see exactly one download, got %d", hits.Load())
	}
}

func TestHandlerRedirectsConcurrentRequestWithDifferentEncoding(t *testing.T) {
	var hits atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}
		<-release
		_, _ = io.WriteString(w, "bank-one")
	}))
	defer origin.Close()

	env := newProxyEnv(t, origin.URL)

	first := make(chan *http.Response, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/data_game/genshin/os/a/Banks%20One.pck", nil)
		resp, err := env.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
		if err != nil {
			t.Errorf("first request failed: %v", err)
		}
		first <- resp
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatalf("origin never received the first request")
	}

	// 同一文件的另一种编码必须立即重定向，不能等待正在进行的下载。
	done := make(chan *http.Response, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/data_game/genshin/os/a/Banks%20On%65.pck", nil)
		resp, err := env.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
		if err != nil {
			t.Errorf("second request failed: %v", err)
		}
		done <- resp
	}()

	var second *http.Response
	select {
	case second = <-done:
	case <-time.After(3 * time.Second):
		close(release)
		t.Fatalf("second request blocked behind the in-flight download")
	}
	close(release)

	if second == nil || second.StatusCode != fiber.StatusFound {
		t.Fatalf("second request should be redirected, got %+v", second)
	}
	if loc := second.Header.Get("Location"); loc != origin.URL+"/a/Banks%20On%65.pck" {
		t.Fatalf("redirect should keep the request encoding, got %q", loc)
	}

	resp := <-first
	if resp == nil || resp.StatusCode != fiber.StatusOK {
		t.Fatalf("first request should be served, got %+v", resp)
	}
	if got := readBody(t, resp); got != "bank-one" {
		t.Fatalf("unexpected body %q", got)
	}
	if hits.Load() != 1 {
		t.Fatalf("origin should see exactly one download, got %d", hits.Load())
	}
}

func TestHandlerRejectsTraversal(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("origin must not be contacted for an invalid path")
	}))
	defer origin.Close()

	env := newProxyEnv(t, origin.URL)
	resp := env.get(t, "%2E%2E%2F%2E%2E%2Fetc%2Fpasswd")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

type proxyEnv struct {
	app  *fiber.App
	root string
	gate *flight.Gate
}

func newProxyEnv(t *testing.T, upstream string) *proxyEnv {
	t.Helper()

	root := t.TempDir()
	store, err := cache.NewStore(root)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Global:  config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{{Game: "genshin", Server: "*", Upstream: upstream}},
	}
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	gate := flight.NewGate()
	executor := fetch.NewExecutor(fetch.Options{Logger: logger, Timeout: 5 * time.Second})
	handler := NewHandler(store, executor, gate, logger)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      handler,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	return &proxyEnv{app: app, root: root, gate: gate}
}

func (e *proxyEnv) get(t *testing.T, remotePath string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/data_game/genshin/os/"+remotePath, nil)
	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
