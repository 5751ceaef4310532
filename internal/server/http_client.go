package server

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/patch-hub/patch-hub/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回代理与爬虫共享的 http.Client。
// 整体超时由下载执行器按单次尝试控制，这里不设置 Client.Timeout。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	transport := defaultTransport.Clone()
	if cfg != nil && cfg.Global.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{Transport: transport}
}
