package manifest

import (
	"path"
	"strconv"
	"strings"
)

// ResolvePath 组合出 {mode}/{version}/output_{build}_{suffix}/{target} 形式的目录。
func ResolvePath(mode, version, target string, build int64, suffix string) string {
	folder := "output_" + strconv.FormatInt(build, 10) + "_" + suffix
	return strings.Join([]string{mode, version, folder, target}, "/")
}

// Resolver 根据扩展名规则决定资源相对清单的子目录。
type Resolver struct {
	Rules []SubfolderRule
}

// NewResolver 创建带有规则表的 Resolver，规则顺序即匹配优先级。
func NewResolver(rules []SubfolderRule) Resolver {
	return Resolver{Rules: rules}
}

// ResolveSubfolder 返回 remoteName 应追加的子目录；baseFolder 已包含该目录时返回空串。
func (r Resolver) ResolveSubfolder(baseFolder, remoteName string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(remoteName)), ".")
	if ext == "" {
		return ""
	}
	for _, rule := range r.Rules {
		if !containsExt(rule.Extensions, ext) {
			continue
		}
		if containsSegment(baseFolder, rule.Folder) {
			return ""
		}
		return rule.Folder
	}
	return ""
}

// AssetPath 拼接 baseFolder、子目录与资源名，忽略空段。
func (r Resolver) AssetPath(baseFolder, remoteName string) string {
	sub := r.ResolveSubfolder(baseFolder, remoteName)
	parts := make([]string, 0, 3)
	for _, p := range []string{baseFolder, sub, remoteName} {
		p = strings.Trim(p, "/")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

func containsExt(exts []string, ext string) bool {
	for _, candidate := range exts {
		if strings.EqualFold(strings.TrimPrefix(candidate, "."), ext) {
			return true
		}
	}
	return false
}

func containsSegment(folder, token string) bool {
	for _, segment := range strings.Split(folder, "/") {
		if segment == token {
			return true
		}
	}
	return false
}
