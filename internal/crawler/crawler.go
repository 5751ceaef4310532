// Package crawler 按版本目录遍历源站清单，确保清单引用的每个资源都已下载并通过摘要校验。
package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/patch-hub/patch-hub/internal/cache"
	"github.com/patch-hub/patch-hub/internal/catalog"
	"github.com/patch-hub/patch-hub/internal/fetch"
	"github.com/patch-hub/patch-hub/internal/index"
	"github.com/patch-hub/patch-hub/internal/integrity"
	"github.com/patch-hub/patch-hub/internal/layout"
	"github.com/patch-hub/patch-hub/internal/logging"
	"github.com/patch-hub/patch-hub/internal/manifest"
)

// Options 描述 Crawler 的依赖。
type Options struct {
	Executor    *fetch.Executor
	Index       *index.Index
	Store       cache.Store
	Profile     layout.Profile
	Game        string
	Upstream    string
	Workers     int
	MaxAttempts int
	Logger      *logrus.Logger
}

// Crawler 可重复运行：已校验的资源会被跳过，失败的资源留待下次。
type Crawler struct {
	executor    *fetch.Executor
	index       *index.Index
	store       cache.Store
	profile     layout.Profile
	resolver    manifest.Resolver
	game        string
	upstream    string
	workers     int
	maxAttempts int
	logger      *logrus.Logger

	assets singleflight.Group
}

// unit 是一个阶段内可以并发处理的最小单元：一个通道的一个客户端目录下的一个清单。
type unit struct {
	kind     manifest.ChannelKind
	channel  catalog.Channel
	template manifest.PathTemplate
	target   string
	manifest string
}

// New 校验依赖并构造 Crawler。
func New(opts Options) (*Crawler, error) {
	if opts.Executor == nil || opts.Index == nil || opts.Store == nil {
		return nil, errors.New("crawler: executor, index and store are required")
	}
	if strings.TrimSpace(opts.Game) == "" {
		return nil, errors.New("crawler: game is required")
	}
	upstream := strings.TrimSuffix(strings.TrimSpace(opts.Upstream), "/")
	if upstream == "" {
		return nil, errors.New("crawler: upstream is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Crawler{
		executor:    opts.Executor,
		index:       opts.Index,
		store:       opts.Store,
		profile:     opts.Profile,
		resolver:    opts.Profile.Resolver(),
		game:        opts.Game,
		upstream:    upstream,
		workers:     workers,
		maxAttempts: opts.MaxAttempts,
		logger:      logging.OrDiscard(opts.Logger),
	}, nil
}

// Run 按目录顺序处理所有版本；版本与阶段串行，阶段内的清单单元并发。
// 单个资源失败不会中断遍历，只有 ctx 取消会提前结束。
func (c *Crawler) Run(ctx context.Context, cat *catalog.Catalog) (Report, error) {
	stats := newCounters()
	if cat == nil {
		return stats.snapshot(0), errors.New("crawler: nil catalog")
	}

	for vi, version := range cat.Versions {
		record := c.index.Load(version.Name)
		c.logger.WithFields(logrus.Fields{
			"action":  "crawl",
			"scope":   version.Name,
			"stages":  len(version.Stages),
			"entries": len(record),
		}).Info("crawl_version_start")

		for si, stage := range version.Stages {
			if err := c.runStage(ctx, version.Name, stage, stats); err != nil {
				return stats.snapshot(vi), err
			}
			c.logger.WithFields(logrus.Fields{
				"action": "crawl",
				"scope":  version.Name,
				"stage":  si,
			}).Debug("crawl_stage_done")
		}
	}

	report := stats.snapshot(len(cat.Versions))
	c.logger.WithFields(report.Fields()).WithField("action", "crawl").Info("crawl_complete")
	return report, nil
}

func (c *Crawler) runStage(ctx context.Context, scope string, stage catalog.Stage, stats *counters) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, u := range c.units(stage) {
		g.Go(func() error {
			c.crawlUnit(gctx, scope, u, stats)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Crawler) units(stage catalog.Stage) []unit {
	var units []unit
	for _, ch := range stage.Channels {
		tpl, ok := c.profile.Template(ch.Kind)
		if !ok {
			c.logger.WithFields(logrus.Fields{"action": "crawl", "kind": ch.Kind}).Warn("crawl_unknown_channel")
			continue
		}
		for _, target := range tpl.Targets {
			for _, name := range tpl.Manifests {
				units = append(units, unit{kind: ch.Kind, channel: ch, template: tpl, target: target, manifest: name})
			}
		}
	}
	return units
}

// crawlUnit 清单每次都重新下载，源站可能更新清单内容。
func (c *Crawler) crawlUnit(ctx context.Context, scope string, u unit, stats *counters) {
	folder := manifest.ResolvePath(u.template.Mode, scope, u.target, u.channel.Build, u.channel.Suffix)
	rel := folder + "/" + u.manifest
	remoteURL := c.upstream + "/" + rel
	fields := logging.CrawlFields(scope, remoteURL)
	fields["manifest"] = u.manifest
	fields["kind"] = u.kind

	dest, err := c.store.Path(cache.Locator{Game: c.game, Path: rel})
	if err != nil {
		stats.manifestFailed.Add(1)
		c.logger.WithFields(fields).WithError(err).Error("crawl_manifest_path_invalid")
		return
	}

	stats.manifests.Add(1)
	outcome, err := c.executor.Fetch(ctx, remoteURL, dest, c.maxAttempts)
	switch outcome {
	case fetch.Success:
	case fetch.NotFound:
		stats.manifestMissing.Add(1)
		c.logger.WithFields(fields).Warn("crawl_manifest_missing")
		return
	default:
		stats.manifestFailed.Add(1)
		c.logger.WithFields(fields).WithError(err).Error("crawl_manifest_failed")
		return
	}

	if c.profile.IsNonListing(u.manifest) {
		return
	}

	file, err := os.Open(dest)
	if err != nil {
		stats.manifestFailed.Add(1)
		c.logger.WithFields(fields).WithError(err).Error("crawl_manifest_unreadable")
		return
	}
	assets, skipped, err := manifest.Parse(file)
	file.Close()
	if skipped > 0 {
		stats.linesSkipped.Add(int64(skipped))
		c.logger.WithFields(fields).WithField("skipped", skipped).Warn("crawl_manifest_lines_skipped")
	}
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Error("crawl_manifest_truncated")
	}

	for _, desc := range assets {
		if ctx.Err() != nil {
			return
		}
		if c.profile.ShouldSkip(desc.RemotePath) {
			continue
		}
		c.processAsset(ctx, scope, folder, desc, stats)
	}
}

// processAsset 对同一 URL 的并发处理合并为一次判定。
func (c *Crawler) processAsset(ctx context.Context, scope, folder string, desc manifest.AssetDescriptor, stats *counters) {
	rel := c.resolver.AssetPath(folder, desc.RemotePath)
	remoteURL := c.upstream + "/" + rel
	c.assets.Do(scope+"\x00"+remoteURL, func() (interface{}, error) {
		outcome := c.decide(ctx, scope, rel, remoteURL, desc)
		stats.asset(outcome)
		return outcome, nil
	})
}

// decide 依次检查：本 scope 精确命中 → 跨 scope 归一化命中 → 本地文件校验 → 下载。
func (c *Crawler) decide(ctx context.Context, scope, rel, remoteURL string, desc manifest.AssetDescriptor) string {
	expected := desc.ExpectedDigest
	fields := logging.CrawlFields(scope, remoteURL)
	fields["expected"] = expected

	if value, ok := c.index.Get(scope, remoteURL); ok && value != index.NotFound && strings.EqualFold(value, expected) {
		c.logger.WithFields(fields).Debug("crawl_skip_cached")
		return outcomeCached
	}

	matches := c.index.Matches(remoteURL)
	for _, m := range matches {
		if m.Verified() && strings.EqualFold(m.Value, expected) {
			c.logger.WithFields(fields).WithFields(logrus.Fields{"match_scope": m.Scope, "match_url": m.URL}).Debug("crawl_skip_reused")
			return outcomeReused
		}
	}
	for _, m := range matches {
		if m.Value == index.NotFound {
			c.logger.WithFields(fields).WithFields(logrus.Fields{"match_scope": m.Scope, "match_url": m.URL}).Warn("crawl_skip_known_absent")
			return outcomeKnownAbsent
		}
	}
	if len(matches) > 0 {
		c.logger.WithFields(fields).WithFields(logrus.Fields{
			"match_scope": matches[0].Scope,
			"found":       matches[0].Value,
		}).Warn("crawl_cached_digest_mismatch")
	}

	locator := cache.Locator{Game: c.game, Path: rel}
	dest, err := c.store.Path(locator)
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Error("crawl_asset_path_invalid")
		return outcomeFailed
	}

	if integrity.Verify(dest, expected) {
		if err := c.record(ctx, scope, remoteURL, expected); err != nil {
			return outcomeFailed
		}
		c.logger.WithFields(fields).Info("crawl_local_verified")
		return outcomeLocalVerified
	}

	outcome, err := c.executor.Fetch(ctx, remoteURL, dest, c.maxAttempts)
	switch outcome {
	case fetch.Success:
		if !integrity.Verify(dest, expected) {
			actual, _ := integrity.FileDigest(dest)
			if rmErr := c.store.Remove(ctx, locator); rmErr != nil {
				c.logger.WithFields(fields).WithError(rmErr).Warn("crawl_remove_mismatch_failed")
			}
			c.logger.WithFields(fields).WithField("actual", actual).Error("crawl_download_mismatch")
			return outcomeMismatch
		}
		if err := c.record(ctx, scope, remoteURL, expected); err != nil {
			return outcomeFailed
		}
		c.logger.WithFields(fields).Info("crawl_downloaded")
		return outcomeDownloaded
	case fetch.NotFound:
		if err := c.record(ctx, scope, remoteURL, index.NotFound); err != nil && !errors.Is(err, index.ErrVerifiedEntry) {
			return outcomeFailed
		}
		return outcomeNotFound
	default:
		c.logger.WithFields(fields).WithError(err).Error("crawl_download_failed")
		return outcomeFailed
	}
}

func (c *Crawler) record(ctx context.Context, scope, remoteURL, value string) error {
	if err := c.index.Set(ctx, scope, remoteURL, value); err != nil {
		c.logger.WithFields(logging.CrawlFields(scope, remoteURL)).WithError(err).Error("crawl_index_set_failed")
		return fmt.Errorf("record %s: %w", remoteURL, err)
	}
	return nil
}
