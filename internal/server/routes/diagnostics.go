package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patch-hub/patch-hub/internal/flight"
	"github.com/patch-hub/patch-hub/internal/layout"
	"github.com/patch-hub/patch-hub/internal/server"
)

// RegisterDiagnosticsRoutes 暴露 /-/ 前缀下的诊断接口：源站规则、目录布局、进行中的回源与指标。
func RegisterDiagnosticsRoutes(app *fiber.App, registry *server.OriginRegistry, gate *flight.Gate) {
	if app == nil {
		return
	}

	app.Get("/-/origins", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"origins": encodeOrigins(registry.List())})
	})

	app.Get("/-/layouts", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"layouts": encodeLayouts(layout.List())})
	})

	app.Get("/-/layouts/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		profile, ok := layout.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "layout_not_found"})
		}
		return c.JSON(encodeLayout(profile))
	})

	app.Get("/-/inflight", func(c fiber.Ctx) error {
		var entries []flight.Entry
		if gate != nil {
			entries = gate.Snapshot()
		}
		return c.JSON(fiber.Map{"inflight": entries, "count": len(entries)})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

type originPayload struct {
	Rule         string `json:"rule"`
	Game         string `json:"game"`
	Server       string `json:"server"`
	PathContains string `json:"path_contains,omitempty"`
	Host         string `json:"host"`
	Disabled     bool   `json:"disabled"`
}

type channelPayload struct {
	Kind      string   `json:"kind"`
	Mode      string   `json:"mode"`
	Targets   []string `json:"targets"`
	Manifests []string `json:"manifests"`
}

type layoutPayload struct {
	Key         string            `json:"key"`
	Description string            `json:"description"`
	Channels    []channelPayload  `json:"channels"`
	Subfolders  map[string]string `json:"subfolders"`
	NonListing  []string          `json:"non_listing"`
}

func encodeOrigins(routes []server.OriginRoute) []originPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, originPayload{
			Rule:         route.Config.RuleName(),
			Game:         route.Config.Game,
			Server:       route.Config.Server,
			PathContains: route.Config.PathContains,
			Host:         route.Host,
			Disabled:     route.Config.Disabled,
		})
	}
	return result
}

func encodeLayouts(profiles []layout.Profile) []layoutPayload {
	if len(profiles) == 0 {
		return nil
	}
	result := make([]layoutPayload, 0, len(profiles))
	for _, profile := range profiles {
		result = append(result, encodeLayout(profile))
	}
	return result
}

func encodeLayout(profile layout.Profile) layoutPayload {
	channels := make([]channelPayload, 0, len(profile.Templates))
	for kind, tpl := range profile.Templates {
		channels = append(channels, channelPayload{
			Kind:      string(kind),
			Mode:      tpl.Mode,
			Targets:   append([]string(nil), tpl.Targets...),
			Manifests: append([]string(nil), tpl.Manifests...),
		})
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Kind < channels[j].Kind
	})

	subfolders := make(map[string]string)
	for _, rule := range profile.Subfolders {
		for _, ext := range rule.Extensions {
			subfolders[ext] = rule.Folder
		}
	}
	return layoutPayload{
		Key:         profile.Key,
		Description: profile.Description,
		Channels:    channels,
		Subfolders:  subfolders,
		NonListing:  append([]string(nil), profile.NonListing...),
	}
}
