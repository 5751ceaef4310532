package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patch-hub/patch-hub/internal/cache"
)

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(Options{RetryDelay: 0, Timeout: 5 * time.Second, UserAgent: "patch-hub-test"})
}

func TestFetchNotFoundIsTerminal(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	dest := filepath.Join(t.TempDir(), "client", "missing.blk")
	outcome, err := newExecutor(t).Fetch(context.Background(), upstream.URL+"/missing.blk", dest, 3)
	require.NoError(t, err)
	require.Equal(t, NotFound, outcome)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestFetchTransientFailuresExhaustAttempts(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	dest := filepath.Join(t.TempDir(), "asset.blk")
	outcome, err := newExecutor(t).Fetch(context.Background(), upstream.URL+"/asset.blk", dest, 3)
	require.Error(t, err)
	require.Equal(t, Failed, outcome)
	require.EqualValues(t, 3, atomic.LoadInt32(&hits))
	_, statErr := os.Stat(dest)
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("User-Agent") != "patch-hub-test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("asset-body"))
	}))
	defer upstream.Close()

	dest := filepath.Join(t.TempDir(), "nested", "dir", "asset.blk")
	outcome, err := newExecutor(t).Fetch(context.Background(), upstream.URL+"/asset.blk\r\n", "  "+dest+"\r", 3)
	require.NoError(t, err)
	require.Equal(t, Success, outcome)
	require.EqualValues(t, 2, atomic.LoadInt32(&hits))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "asset-body", string(data))
	temps, err := cache.TempFiles(dest)
	require.NoError(t, err)
	require.Empty(t, temps)
}

func TestFetchRemovesExistingAndStaleTemp(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	dest := filepath.Join(t.TempDir(), "asset.pck")
	stale := dest + cache.TempSuffix + "123"
	live := dest + cache.TempSuffix + "456"
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(live, []byte("writing"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	outcome, _ := newExecutor(t).Fetch(context.Background(), upstream.URL+"/asset.pck", dest, 2)
	require.Equal(t, NotFound, outcome)

	_, err := os.Stat(dest)
	require.True(t, errors.Is(err, os.ErrNotExist), "existing destination should be removed before fetching")
	_, err = os.Stat(stale)
	require.True(t, errors.Is(err, os.ErrNotExist), "temp older than the attempt timeout should be swept")
	_, err = os.Stat(live)
	require.NoError(t, err, "a recently written temp may belong to another writer and must be kept")
}

func TestFetchZeroAttemptsBehavesAsOne(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	outcome, _ := newExecutor(t).Fetch(context.Background(), upstream.URL, filepath.Join(t.TempDir(), "x"), 0)
	require.Equal(t, Failed, outcome)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestFetchAttemptTimeoutCountsAsFailure(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	exec := NewExecutor(Options{Timeout: 50 * time.Millisecond})
	outcome, err := exec.Fetch(context.Background(), upstream.URL+"/slow", filepath.Join(t.TempDir(), "slow"), 2)
	require.Error(t, err)
	require.Equal(t, Failed, outcome)
	require.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestFetchRejectsEmptyTarget(t *testing.T) {
	outcome, err := newExecutor(t).Fetch(context.Background(), " \r\n", "/tmp/x", 1)
	require.ErrorIs(t, err, ErrEmptyTarget)
	require.Equal(t, Failed, outcome)
}

func TestWithTimeoutSharesLocks(t *testing.T) {
	exec := newExecutor(t)
	clone := exec.WithTimeout(time.Hour)
	require.Same(t, exec.locks, clone.locks)
	require.Equal(t, time.Hour, clone.timeout)
	require.Equal(t, 5*time.Second, exec.timeout)
}
