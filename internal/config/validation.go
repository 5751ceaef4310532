package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.MaxRetries <= 0 {
		return newFieldError("Global.MaxRetries", "必须大于 0")
	}
	if g.RetryDelay.DurationValue() < 0 {
		return newFieldError("Global.RetryDelay", "不能为负数")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}
	if g.ProxyTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ProxyTimeout", "必须大于 0")
	}
	if g.CrawlWorkers <= 0 {
		return newFieldError("Global.CrawlWorkers", "必须大于 0")
	}

	if len(c.Origins) == 0 && !c.Crawler.Enabled() {
		return errors.New("至少需要配置一个 Origin 或 Crawler")
	}

	seen := map[string]struct{}{}
	for i := range c.Origins {
		origin := &c.Origins[i]
		if origin.Game == "" {
			return newFieldError("Origin[].Game", "不能为空")
		}
		if strings.ContainsAny(origin.Game, "/ ") {
			return newFieldError(originField(*origin, "Game"), "不允许包含空格或 /")
		}
		if origin.Game == IndexDirName {
			return newFieldError(originField(*origin, "Game"), fmt.Sprintf("%s 为索引目录保留名", IndexDirName))
		}
		if strings.ContainsAny(origin.Server, "/ ") {
			return newFieldError(originField(*origin, "Server"), "不允许包含空格或 /")
		}
		key := origin.RuleName()
		if _, exists := seen[key]; exists {
			return newFieldError(originField(*origin, "Game"), "规则重复")
		}
		seen[key] = struct{}{}

		if err := validateUpstream(origin.Upstream); err != nil {
			return fmt.Errorf("%s: %w", originField(*origin, "Upstream"), err)
		}
	}

	if c.Crawler.Enabled() {
		cr := c.Crawler
		if strings.ContainsAny(cr.Game, "/ ") {
			return newFieldError("Crawler.Game", "不允许包含空格或 /")
		}
		if cr.Game == IndexDirName {
			return newFieldError("Crawler.Game", fmt.Sprintf("%s 为索引目录保留名", IndexDirName))
		}
		if err := validateUpstream(cr.Upstream); err != nil {
			return fmt.Errorf("Crawler.Upstream: %w", err)
		}
		if !layoutRegistered(cr.Layout) {
			return newFieldError("Crawler.Layout", fmt.Sprintf("未注册布局: %s", cr.Layout))
		}
		if strings.TrimSpace(cr.Catalog) == "" {
			return newFieldError("Crawler.Catalog", "不能为空")
		}
	}

	return nil
}

// validateUpstream 校验上游地址；`{path}` 占位符会在解析前替换掉。
func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(strings.ReplaceAll(raw, "{path}", "path"))
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
