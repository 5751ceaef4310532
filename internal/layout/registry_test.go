package layout

import (
	"testing"

	"github.com/patch-hub/patch-hub/internal/manifest"
)

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func sampleProfile(key string) Profile {
	return Profile{
		Key: key,
		Templates: map[manifest.ChannelKind]manifest.PathTemplate{
			manifest.KindRes: {Mode: "client_game_res", Targets: []string{"client/Android"}, Manifests: []string{"res_versions_external"}},
		},
		NonListing: []string{"base_revision"},
		SkipNames:  []string{"svc_catalog"},
	}
}

func TestRegisterResolveAndList(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(sampleProfile("beta")); err != nil {
		t.Fatalf("register beta failed: %v", err)
	}
	if err := Register(sampleProfile("Alpha")); err != nil {
		t.Fatalf("register alpha failed: %v", err)
	}

	if _, ok := Resolve("BETA"); !ok {
		t.Fatalf("resolve should be case-insensitive")
	}
	keys := Keys()
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "beta" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestRegisterRejectsInvalidProfiles(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(sampleProfile("dup")); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(sampleProfile("dup")); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := Register(Profile{Key: "empty"}); err == nil {
		t.Fatalf("profile without templates should fail")
	}
	bad := sampleProfile("bad")
	bad.Templates["video"] = manifest.PathTemplate{}
	if err := Register(bad); err == nil {
		t.Fatalf("unknown channel kind should fail")
	}
}

func TestProfileHelpers(t *testing.T) {
	p := sampleProfile("x")
	if !p.IsNonListing("base_revision") || p.IsNonListing("res_versions_external") {
		t.Fatalf("non-listing lookup mismatch")
	}
	if !p.ShouldSkip("svc_catalog") {
		t.Fatalf("svc_catalog should be skipped")
	}
	if _, ok := p.Template(manifest.KindClient); ok {
		t.Fatalf("client template should be absent")
	}
}
