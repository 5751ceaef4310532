package crawler

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/patch-hub/patch-hub/internal/metrics"
)

// 资源判定结果，同时作为日志 outcome 与指标标签。
const (
	outcomeCached        = "cached"
	outcomeReused        = "reused"
	outcomeKnownAbsent   = "known_absent"
	outcomeLocalVerified = "local_verified"
	outcomeDownloaded    = "downloaded"
	outcomeMismatch      = "mismatch"
	outcomeNotFound      = "not_found"
	outcomeFailed        = "failed"
)

// Report 汇总一次爬取的结果。
type Report struct {
	Versions        int   `json:"versions"`
	Manifests       int64 `json:"manifests"`
	ManifestFailed  int64 `json:"manifest_failed"`
	ManifestMissing int64 `json:"manifest_missing"`
	LinesSkipped    int64 `json:"lines_skipped"`
	Cached          int64 `json:"cached"`
	Reused          int64 `json:"reused"`
	KnownAbsent     int64 `json:"known_absent"`
	LocalVerified   int64 `json:"local_verified"`
	Downloaded      int64 `json:"downloaded"`
	Mismatch        int64 `json:"mismatch"`
	NotFound        int64 `json:"not_found"`
	Failed          int64 `json:"failed"`
}

// Unresolved 返回本轮未落地、下次运行会重试的资源数量。
func (r Report) Unresolved() int64 {
	return r.Mismatch + r.Failed
}

// Fields 将报告转换为日志字段。
func (r Report) Fields() logrus.Fields {
	return logrus.Fields{
		"versions":         r.Versions,
		"manifests":        r.Manifests,
		"manifest_failed":  r.ManifestFailed,
		"manifest_missing": r.ManifestMissing,
		"lines_skipped":    r.LinesSkipped,
		"cached":           r.Cached,
		"reused":           r.Reused,
		"known_absent":     r.KnownAbsent,
		"local_verified":   r.LocalVerified,
		"downloaded":       r.Downloaded,
		"mismatch":         r.Mismatch,
		"not_found":        r.NotFound,
		"failed":           r.Failed,
	}
}

// counters 在并发单元之间共享。
type counters struct {
	manifests       atomic.Int64
	manifestFailed  atomic.Int64
	manifestMissing atomic.Int64
	linesSkipped    atomic.Int64
	assets          map[string]*atomic.Int64
}

func newCounters() *counters {
	c := &counters{assets: make(map[string]*atomic.Int64)}
	for _, outcome := range []string{
		outcomeCached, outcomeReused, outcomeKnownAbsent, outcomeLocalVerified,
		outcomeDownloaded, outcomeMismatch, outcomeNotFound, outcomeFailed,
	} {
		c.assets[outcome] = new(atomic.Int64)
	}
	return c
}

func (c *counters) asset(outcome string) {
	c.assets[outcome].Add(1)
	metrics.CrawlAssets.WithLabelValues(outcome).Inc()
}

func (c *counters) snapshot(versions int) Report {
	return Report{
		Versions:        versions,
		Manifests:       c.manifests.Load(),
		ManifestFailed:  c.manifestFailed.Load(),
		ManifestMissing: c.manifestMissing.Load(),
		LinesSkipped:    c.linesSkipped.Load(),
		Cached:          c.assets[outcomeCached].Load(),
		Reused:          c.assets[outcomeReused].Load(),
		KnownAbsent:     c.assets[outcomeKnownAbsent].Load(),
		LocalVerified:   c.assets[outcomeLocalVerified].Load(),
		Downloaded:      c.assets[outcomeDownloaded].Load(),
		Mismatch:        c.assets[outcomeMismatch].Load(),
		NotFound:        c.assets[outcomeNotFound].Load(),
		Failed:          c.assets[outcomeFailed].Load(),
	}
}
