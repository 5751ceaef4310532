package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ProxyTimeout.DurationValue() != 10*time.Minute {
		t.Fatalf("ProxyTimeout 应该自动填充默认值，得到 %s", cfg.Global.ProxyTimeout.DurationValue())
	}
	if cfg.Global.FetchTimeout.DurationValue() != 300*time.Second {
		t.Fatalf("纯数字 FetchTimeout 应按秒解析")
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应被转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.CrawlWorkers != 4 {
		t.Fatalf("CrawlWorkers 默认值应为 4")
	}
	if len(cfg.Origins) != 5 {
		t.Fatalf("应解析出 5 条 Origin，得到 %d", len(cfg.Origins))
	}
	if cfg.Origins[3].Server != "*" {
		t.Fatalf("未填写 Server 时应默认为 *，得到 %q", cfg.Origins[3].Server)
	}
	if cfg.Crawler.Upstream != "https://autopatchhk.yuanshen.com" {
		t.Fatalf("Crawler.Upstream 末尾的 / 应被去除: %s", cfg.Crawler.Upstream)
	}
	if cfg.Crawler.Catalog != filepath.Join("testdata", "catalog.toml") {
		t.Fatalf("Catalog 应相对配置文件目录解析，得到 %s", cfg.Crawler.Catalog)
	}
}

func TestValidateRejectsBadOrigin(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRejectsDuplicateRules(t *testing.T) {
	cfg := validConfig()
	cfg.Origins = append(cfg.Origins, cfg.Origins[0])
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复的 Origin 规则应报错")
	}
}

func TestValidateUpstreamTemplate(t *testing.T) {
	testCases := []struct {
		name      string
		upstream  string
		shouldErr bool
	}{
		{"base url", "https://autopatchhk.yuanshen.com", false},
		{"path template", "https://ps.yuuki.me/data_game/genshin/{path}", false},
		{"missing scheme", "autopatchhk.yuanshen.com", true},
		{"ftp scheme", "ftp://example.com", true},
		{"empty", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Origins[0].Upstream = tc.upstream
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for upstream %q", tc.upstream)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for upstream %q: %v", tc.upstream, err)
			}
		})
	}
}

func TestValidateCrawlerLayout(t *testing.T) {
	cfg := validConfig()
	cfg.Crawler = CrawlerConfig{
		Game:     "genshin",
		Upstream: "https://autopatchhk.yuanshen.com",
		Layout:   "unknown-layout",
		Catalog:  "catalog.toml",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未注册的布局应报错")
	}

	cfg.Crawler.Layout = "genshin"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("内置 genshin 布局应通过校验: %v", err)
	}
}

func TestValidateRejectsIndexDirAsGame(t *testing.T) {
	cfg := validConfig()
	cfg.Origins = append(cfg.Origins, OriginConfig{Game: IndexDirName, Server: "*", Upstream: "https://example.com"})
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Origin[md5/*].Game" {
		t.Fatalf("Origin 使用索引目录名应报错，得到 %v", err)
	}

	cfg = validConfig()
	cfg.Crawler = CrawlerConfig{
		Game:     IndexDirName,
		Upstream: "https://autopatchhk.yuanshen.com",
		Layout:   "genshin",
		Catalog:  "catalog.toml",
	}
	if err := cfg.Validate(); !errors.As(err, &fieldErr) || fieldErr.Field != "Crawler.Game" {
		t.Fatalf("Crawler 使用索引目录名应报错，得到 %v", err)
	}
}

func TestValidateRequiresOriginOrCrawler(t *testing.T) {
	cfg := validConfig()
	cfg.Origins = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("既无 Origin 也无 Crawler 时应报错")
	}
}

func TestOriginMatching(t *testing.T) {
	rule := OriginConfig{Game: "genshin", Server: "*", PathContains: "3.2"}
	if !rule.MatchesServer("os") {
		t.Fatalf("* 应匹配任意 server")
	}
	if rule.MatchesPath("client_game_res/3.1_live/res_versions_external") {
		t.Fatalf("PathContains 不满足时不应命中")
	}
	if got := rule.RuleName(); got != "genshin/*~3.2" {
		t.Fatalf("unexpected rule name %s", got)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:   5000,
			StoragePath:  "./data",
			MaxRetries:   3,
			RetryDelay:   Duration(time.Second),
			FetchTimeout: Duration(time.Minute),
			ProxyTimeout: Duration(time.Minute),
			CrawlWorkers: 2,
		},
		Origins: []OriginConfig{
			{
				Game:     "genshin",
				Server:   "*",
				Upstream: "https://autopatchhk.yuanshen.com",
			},
		},
	}
}
