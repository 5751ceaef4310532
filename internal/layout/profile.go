package layout

import "github.com/patch-hub/patch-hub/internal/manifest"

// Profile 描述一个游戏在源站上的目录布局。
type Profile struct {
	Key         string
	Description string
	Templates   map[manifest.ChannelKind]manifest.PathTemplate
	Subfolders  []manifest.SubfolderRule
	// NonListing 中的清单只下载不解析，例如 base_revision。
	NonListing []string
	// SkipNames 中的资源名不是真实资源，遍历时直接跳过。
	SkipNames []string
}

// Template 返回指定通道的模板。
func (p Profile) Template(kind manifest.ChannelKind) (manifest.PathTemplate, bool) {
	tpl, ok := p.Templates[kind]
	return tpl, ok
}

// Resolver 基于 Subfolders 构造子目录解析器。
func (p Profile) Resolver() manifest.Resolver {
	return manifest.NewResolver(p.Subfolders)
}

// IsNonListing 判断清单是否只需下载。
func (p Profile) IsNonListing(name string) bool {
	return containsString(p.NonListing, name)
}

// ShouldSkip 判断资源名是否为占位条目。
func (p Profile) ShouldSkip(remoteName string) bool {
	return containsString(p.SkipNames, remoteName)
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
