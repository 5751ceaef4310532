package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// IndexDirName 是 StoragePath 下存放校验索引的目录名，不能再作为 Game 使用，
// 否则 /data_game/<game>/ 会落到索引文件上。
const IndexDirName = "md5"

// GlobalConfig 描述全局运行时行为，代理与爬虫共享同一份参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	MaxRetries         int      `mapstructure:"MaxRetries"`
	RetryDelay         Duration `mapstructure:"RetryDelay"`
	FetchTimeout       Duration `mapstructure:"FetchTimeout"`
	ProxyTimeout       Duration `mapstructure:"ProxyTimeout"`
	UserAgent          string   `mapstructure:"UserAgent"`
	InsecureSkipVerify bool     `mapstructure:"InsecureSkipVerify"`
	CrawlWorkers       int      `mapstructure:"CrawlWorkers"`
}

// OriginConfig 描述 game/server 到源站的映射规则，按文件顺序匹配。
type OriginConfig struct {
	Game         string `mapstructure:"Game"`
	Server       string `mapstructure:"Server"`
	Upstream     string `mapstructure:"Upstream"`
	PathContains string `mapstructure:"PathContains"`
	Disabled     bool   `mapstructure:"Disabled"`
}

// CrawlerConfig 决定离线爬虫从哪个源站、按哪种目录布局镜像哪份版本目录。
type CrawlerConfig struct {
	Game     string `mapstructure:"Game"`
	Upstream string `mapstructure:"Upstream"`
	Layout   string `mapstructure:"Layout"`
	Catalog  string `mapstructure:"Catalog"`
}

// Enabled 表示配置文件中是否声明了爬虫段。
func (c CrawlerConfig) Enabled() bool {
	return strings.TrimSpace(c.Game) != ""
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Origins []OriginConfig `mapstructure:"Origin"`
	Crawler CrawlerConfig  `mapstructure:"Crawler"`
}

// MatchesServer 判断规则是否适用于给定 server，`*` 或留空表示任意 server。
func (o OriginConfig) MatchesServer(server string) bool {
	rule := strings.ToLower(strings.TrimSpace(o.Server))
	return rule == "" || rule == "*" || rule == strings.ToLower(server)
}

// MatchesPath 判断 PathContains 过滤条件是否命中。
func (o OriginConfig) MatchesPath(remotePath string) bool {
	return o.PathContains == "" || strings.Contains(remotePath, o.PathContains)
}

// RuleName 输出 game/server 形式的规则名，供日志与诊断使用。
func (o OriginConfig) RuleName() string {
	server := o.Server
	if server == "" {
		server = "*"
	}
	name := fmt.Sprintf("%s/%s", o.Game, server)
	if o.PathContains != "" {
		name += "~" + o.PathContains
	}
	return name
}

// OriginSummary 返回所有源站规则的摘要，例如 genshin/*。
func OriginSummary(origins []OriginConfig) []string {
	if len(origins) == 0 {
		return nil
	}
	result := make([]string, len(origins))
	for i, origin := range origins {
		result[i] = origin.RuleName()
	}
	return result
}
