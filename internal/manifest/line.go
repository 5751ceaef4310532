package manifest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// structuredLine 对应清单中的 JSON 行。
type structuredLine struct {
	RemoteName string          `json:"remoteName"`
	MD5        string          `json:"md5"`
	FileSize   json.Number     `json:"fileSize"`
	IsPatch    json.RawMessage `json:"isPatch"`
	LocalName  string          `json:"localName"`
}

// ParseLine 解析一行清单，支持 JSON 形式与 `<path> <digest>|<size> [patch [local]]` 旧格式。
// 旧格式只要求远端路径与第二个字段存在；无法解析或缺少远端路径的行返回 false，由调用方跳过。
func ParseLine(line string) (AssetDescriptor, bool) {
	line = strings.TrimSpace(strings.TrimRight(line, "\r\n"))
	if line == "" {
		return AssetDescriptor{}, false
	}
	if strings.HasPrefix(line, "{") {
		return parseStructured(line)
	}
	return parseLegacy(line)
}

func parseStructured(line string) (AssetDescriptor, bool) {
	var raw structuredLine
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return AssetDescriptor{}, false
	}
	remote := strings.TrimSpace(raw.RemoteName)
	if remote == "" {
		return AssetDescriptor{}, false
	}
	desc := AssetDescriptor{
		RemotePath:     remote,
		ExpectedDigest: strings.TrimSpace(raw.MD5),
		LocalName:      strings.TrimSpace(raw.LocalName),
		IsPatch:        jsonTruthy(raw.IsPatch),
	}
	if raw.FileSize != "" {
		size, err := raw.FileSize.Int64()
		if err != nil {
			return AssetDescriptor{}, false
		}
		desc.Size = size
	}
	return desc, true
}

func parseLegacy(line string) (AssetDescriptor, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return AssetDescriptor{}, false
	}
	// 摘要或大小缺失时仍保留该行：空摘要永远无法通过校验，资源不会被记为已校验。
	digest, sizeText, _ := strings.Cut(fields[1], "|")
	size, err := strconv.ParseInt(sizeText, 10, 64)
	if err != nil || size < 0 {
		size = 0
	}
	desc := AssetDescriptor{
		RemotePath:     fields[0],
		ExpectedDigest: digest,
		Size:           size,
	}
	if len(fields) > 2 {
		desc.IsPatch = flagTruthy(fields[2])
	}
	if len(fields) > 3 {
		desc.LocalName = fields[3]
	}
	return desc, true
}

// flagTruthy 兼容 true/false/0/1 写法，其他非空取值视为 true。
func flagTruthy(value string) bool {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return true
	}
	return parsed
}

func jsonTruthy(raw json.RawMessage) bool {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return false
	}
	return flagTruthy(text)
}

// Parse 逐行读取清单，返回成功解析的资源以及被跳过的行数。
func Parse(r io.Reader) ([]AssetDescriptor, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		assets  []AssetDescriptor
		skipped int
	)
	for scanner.Scan() {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		desc, ok := ParseLine(text)
		if !ok {
			skipped++
			continue
		}
		assets = append(assets, desc)
	}
	if err := scanner.Err(); err != nil {
		return assets, skipped, fmt.Errorf("读取清单失败: %w", err)
	}
	return assets, skipped, nil
}
