package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/patch-hub/patch-hub/internal/config"
)

const pathPlaceholder = "{path}"

// OriginRoute 是一条解析好的源站规则。
type OriginRoute struct {
	// Config 是配置文件中规则的副本。
	Config config.OriginConfig
	// Host 仅用于日志与诊断输出。
	Host string

	template string
}

// Resolve 将请求中的远端路径拼接到上游地址上。
func (r *OriginRoute) Resolve(remotePath string) string {
	remotePath = strings.TrimLeft(remotePath, "/")
	if strings.Contains(r.template, pathPlaceholder) {
		return strings.ReplaceAll(r.template, pathPlaceholder, remotePath)
	}
	return strings.TrimSuffix(r.template, "/") + "/" + remotePath
}

// OriginRegistry 按配置顺序匹配 game/server/路径，首条命中的规则生效。
type OriginRegistry struct {
	ordered []*OriginRoute
}

// NewOriginRegistry 根据配置构建规则表，调用方在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &OriginRegistry{}
	for _, origin := range cfg.Origins {
		parsed, err := url.Parse(strings.ReplaceAll(origin.Upstream, pathPlaceholder, "path"))
		if err != nil {
			return nil, fmt.Errorf("invalid upstream for origin %s: %w", origin.RuleName(), err)
		}
		registry.ordered = append(registry.ordered, &OriginRoute{
			Config:   origin,
			Host:     parsed.Host,
			template: strings.TrimSpace(origin.Upstream),
		})
	}
	return registry, nil
}

// Lookup 返回第一条匹配 game、server 与路径过滤条件的规则。
func (r *OriginRegistry) Lookup(game, server, remotePath string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}
	game = strings.ToLower(strings.TrimSpace(game))
	for _, route := range r.ordered {
		if route.Config.Game != game {
			continue
		}
		if !route.Config.MatchesServer(server) || !route.Config.MatchesPath(remotePath) {
			continue
		}
		return route, true
	}
	return nil, false
}

// List 返回按配置顺序排列的规则副本，供 /-/origins 输出。
func (r *OriginRegistry) List() []OriginRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]OriginRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}
