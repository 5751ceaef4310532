// Package integrity 计算并比对本地文件的内容摘要。
package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// FileDigest 流式计算文件的 MD5，返回小写十六进制字符串。
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify 判断 path 的摘要是否等于 expected；文件缺失、不可读或不一致都返回 false。
func Verify(path, expected string) bool {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return false
	}
	actual, err := FileDigest(path)
	if err != nil {
		return false
	}
	return strings.EqualFold(actual, expected)
}
