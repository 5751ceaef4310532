package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/patch-hub/patch-hub/internal/layout"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Origins {
		applyOriginDefaults(&cfg.Origins[i])
	}
	applyCrawlerDefaults(&cfg.Crawler, filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("RetryDelay", "5s")
	v.SetDefault("FetchTimeout", "300s")
	v.SetDefault("ProxyTimeout", "600s")
	v.SetDefault("UserAgent", "patch-hub")
	v.SetDefault("InsecureSkipVerify", false)
	v.SetDefault("CrawlWorkers", 4)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 3
	}
	if g.RetryDelay.DurationValue() == 0 {
		g.RetryDelay = Duration(5 * time.Second)
	}
	if g.FetchTimeout.DurationValue() == 0 {
		g.FetchTimeout = Duration(5 * time.Minute)
	}
	if g.ProxyTimeout.DurationValue() == 0 {
		g.ProxyTimeout = Duration(10 * time.Minute)
	}
	if strings.TrimSpace(g.UserAgent) == "" {
		g.UserAgent = "patch-hub"
	}
	if g.CrawlWorkers == 0 {
		g.CrawlWorkers = 4
	}
}

func applyOriginDefaults(o *OriginConfig) {
	o.Game = strings.ToLower(strings.TrimSpace(o.Game))
	o.Server = strings.ToLower(strings.TrimSpace(o.Server))
	if o.Server == "" {
		o.Server = "*"
	}
	o.Upstream = strings.TrimSpace(o.Upstream)
}

// applyCrawlerDefaults 让相对的 Catalog 路径相对于配置文件所在目录解析。
func applyCrawlerDefaults(c *CrawlerConfig, baseDir string) {
	if !c.Enabled() {
		return
	}
	c.Game = strings.ToLower(strings.TrimSpace(c.Game))
	c.Upstream = strings.TrimSuffix(strings.TrimSpace(c.Upstream), "/")
	if strings.TrimSpace(c.Layout) == "" {
		c.Layout = c.Game
	}
	c.Layout = strings.ToLower(strings.TrimSpace(c.Layout))
	if c.Catalog != "" && !filepath.IsAbs(c.Catalog) {
		c.Catalog = filepath.Join(baseDir, c.Catalog)
	}
}

// DurationDecodeHook 将字符串/数字转换为 Duration，版本目录文件的解析也复用它。
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// layoutRegistered 供校验使用，测试中可替换。
var layoutRegistered = func(key string) bool {
	_, ok := layout.Resolve(key)
	return ok
}
