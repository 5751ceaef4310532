package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，serve 与 crawl 入口共用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 game/server/路径/命中状态字段，供在线代理日志复用。
func RequestFields(game, server, remotePath string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":      "proxy",
		"game":        game,
		"server":      server,
		"remote_path": remotePath,
		"cache_hit":   cacheHit,
	}
}

// FetchFields 描述一次回源下载。
func FetchFields(remoteURL, dest string) logrus.Fields {
	return logrus.Fields{
		"action":     "fetch",
		"remote_url": remoteURL,
		"dest":       dest,
	}
}

// CrawlFields 描述爬虫正在处理的版本与资源。
func CrawlFields(scope, remoteURL string) logrus.Fields {
	return logrus.Fields{
		"action":     "crawl",
		"scope":      scope,
		"remote_url": remoteURL,
	}
}
