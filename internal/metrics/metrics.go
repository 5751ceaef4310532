// Package metrics 暴露代理与爬虫的 Prometheus 计数器。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxyRequests 按结果统计在线请求：hit/fetched/redirect_inflight/redirect_failed/invalid。
	ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchhub",
		Name:      "proxy_requests_total",
		Help:      "Online asset requests by outcome.",
	}, []string{"outcome"})

	// FetchAttempts 按结果统计下载尝试：success/not_found/retry/error。
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchhub",
		Name:      "fetch_attempts_total",
		Help:      "Origin download attempts by result.",
	}, []string{"result"})

	// CrawlAssets 按判定结果统计爬虫处理的资源。
	CrawlAssets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchhub",
		Name:      "crawl_assets_total",
		Help:      "Catalog crawler asset decisions by outcome.",
	}, []string{"outcome"})
)
