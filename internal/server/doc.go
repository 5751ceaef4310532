// Package server hosts the Fiber HTTP service for patch-hub: the middleware
// chain (panic recovery, request ids, generic error rendering), the origin
// registry that maps a requested game/server pair onto an upstream CDN, and the
// shared upstream http.Client. The asset route resolves the origin URL and the
// on-disk path, then hands the request to an injected ProxyHandler so the
// cache logic stays in internal/proxy and tests can swap in fakes.
package server
