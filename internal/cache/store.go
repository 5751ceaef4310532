package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘上的资源树。磁盘布局遵循：
//
//	<StoragePath>/<Game>/<remote path>
//
// 写入统一经由 WriteFileAtomic，Store 本身只负责定位、读取与清理。
type Store interface {
	// Get 返回一个可流式读取的资源文件。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Path 返回 Locator 对应的绝对路径，路径越界时返回 ErrInvalidPath。
	Path(locator Locator) (string, error)

	// Remove 删除资源文件，例如校验失败的下载结果。
	Remove(ctx context.Context, locator Locator) error
}

// Locator 唯一定位一个资源（游戏 + 相对路径），所有路径均为 URL 路径风格。
type Locator struct {
	Game string
	Path string
}

// Entry 表示一次命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator `json:"locator"`
	FilePath  string  `json:"file_path"`
	SizeBytes int64   `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示资源不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidPath 表示请求路径试图跳出存储目录。
	ErrInvalidPath = errors.New("invalid cache path")
)
