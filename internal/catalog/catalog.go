// Package catalog 读取版本目录数据文件：按发布顺序排列的版本，每个版本由若干构建阶段组成。
package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/patch-hub/patch-hub/internal/layout"
	"github.com/patch-hub/patch-hub/internal/manifest"
)

// Channel 是构建阶段中一个通道的具体构建号与后缀。
type Channel struct {
	Kind   manifest.ChannelKind `mapstructure:"Kind"`
	Build  int64                `mapstructure:"Build"`
	Suffix string               `mapstructure:"Suffix"`
}

// Stage 是一次构建发布，通道按文件中的顺序遍历，每种通道最多出现一次。
type Stage struct {
	Channels []Channel `mapstructure:"Channels"`
}

// Channel 返回指定通道的描述。
func (s Stage) Channel(kind manifest.ChannelKind) (Channel, bool) {
	for _, ch := range s.Channels {
		if ch.Kind == kind {
			return ch, true
		}
	}
	return Channel{}, false
}

// Version 是一个发布版本（例如 5.6_live），同时作为缓存索引的 scope 名称。
type Version struct {
	Name   string  `mapstructure:"Name"`
	Stages []Stage `mapstructure:"Stage"`
}

// Catalog 中版本的顺序必须与发布时间一致，跨版本复用依赖这一点。
type Catalog struct {
	Versions []Version `mapstructure:"Version"`
}

var suffixPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// Load 读取 TOML/YAML/JSON 格式的目录文件（按扩展名识别）。
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取版本目录失败: %w", err)
	}

	var cat Catalog
	if err := v.Unmarshal(&cat); err != nil {
		return nil, fmt.Errorf("解析版本目录失败: %w", err)
	}
	for vi := range cat.Versions {
		version := &cat.Versions[vi]
		version.Name = strings.TrimSpace(version.Name)
		for si := range version.Stages {
			for ci := range version.Stages[si].Channels {
				ch := &version.Stages[si].Channels[ci]
				ch.Suffix = strings.ToLower(strings.TrimSpace(ch.Suffix))
			}
		}
	}
	return &cat, nil
}

// Validate 检查目录在给定布局下是否可遍历。
func (c *Catalog) Validate(profile layout.Profile) error {
	if c == nil || len(c.Versions) == 0 {
		return fmt.Errorf("版本目录为空")
	}
	seen := make(map[string]struct{}, len(c.Versions))
	for _, version := range c.Versions {
		if version.Name == "" {
			return fmt.Errorf("Version[].Name: 不能为空")
		}
		if strings.ContainsAny(version.Name, `/\ `) || version.Name == "." || version.Name == ".." {
			return fmt.Errorf("Version[%s].Name: 不允许包含空格或路径分隔符", version.Name)
		}
		if _, dup := seen[version.Name]; dup {
			return fmt.Errorf("Version[%s]: 版本重复", version.Name)
		}
		seen[version.Name] = struct{}{}

		if len(version.Stages) == 0 {
			return fmt.Errorf("Version[%s]: 至少需要一个 Stage", version.Name)
		}
		for si, stage := range version.Stages {
			if err := validateStage(profile, stage); err != nil {
				return fmt.Errorf("Version[%s].Stage[%d]: %w", version.Name, si, err)
			}
		}
	}
	return nil
}

func validateStage(profile layout.Profile, stage Stage) error {
	if len(stage.Channels) == 0 {
		return fmt.Errorf("至少需要一个通道")
	}
	kinds := make(map[manifest.ChannelKind]struct{}, len(stage.Channels))
	for _, ch := range stage.Channels {
		if !ch.Kind.Valid() {
			return fmt.Errorf("未知通道 %q", ch.Kind)
		}
		if _, ok := profile.Template(ch.Kind); !ok {
			return fmt.Errorf("布局 %s 未定义通道 %s", profile.Key, ch.Kind)
		}
		if _, dup := kinds[ch.Kind]; dup {
			return fmt.Errorf("通道 %s 重复", ch.Kind)
		}
		kinds[ch.Kind] = struct{}{}
		if ch.Build <= 0 {
			return fmt.Errorf("通道 %s: Build 必须大于 0", ch.Kind)
		}
		if !suffixPattern.MatchString(ch.Suffix) {
			return fmt.Errorf("通道 %s: Suffix 必须为十六进制", ch.Kind)
		}
	}
	return nil
}

// StageCount 返回目录中的阶段总数，供启动日志使用。
func (c *Catalog) StageCount() int {
	total := 0
	for _, version := range c.Versions {
		total += len(version.Stages)
	}
	return total
}
