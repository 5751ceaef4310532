package index

import (
	"regexp"
	"strings"
)

var outputSegment = regexp.MustCompile(`(^|/)output_\d+_[a-f0-9]+/`)

// Normalize 去掉源站前缀与所有 output_<build>_<suffix>/ 段，结果作为跨版本查找键。
// 反复应用直到结果不再变化，因此 Normalize(Normalize(x)) == Normalize(x)。
func Normalize(originPrefix, remoteURL string) string {
	prefix := strings.TrimSuffix(originPrefix, "/")
	current := remoteURL
	for {
		next := current
		if prefix != "" {
			for strings.HasPrefix(next, prefix+"/") {
				next = strings.TrimPrefix(next, prefix+"/")
			}
		}
		next = outputSegment.ReplaceAllString(next, "$1")
		if next == current {
			return next
		}
		current = next
	}
}
