package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempSuffix 是下载过程中同级临时文件名的中缀，完整形式为 <dest>.temp<随机串>。
const TempSuffix = ".temp"

// renameFile 在测试中可替换，用于模拟写入完成但 rename 失败的场景。
var renameFile = os.Rename

// WriteFileAtomic 将 body 写入本次调用独占的临时文件，fsync 后 rename 到 dest。
// 每个写入者（包括其他进程）使用不同的临时文件，rename 只会安装自己写完的内容；
// 任一步骤失败都会删除临时文件，dest 不会出现半截内容。
func WriteFileAtomic(ctx context.Context, dest string, body io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(dest)+TempSuffix+"*")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	if err == nil {
		err = tempFile.Chmod(0o644)
	}
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return written, err
	}

	if err := renameFile(tempName, dest); err != nil {
		os.Remove(tempName)
		return written, fmt.Errorf("install %s: %w", filepath.Base(dest), err)
	}
	return written, nil
}

// TempFiles 列出 dest 同级目录下属于 dest 的临时文件。
func TempFiles(dest string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	prefix := filepath.Base(dest) + TempSuffix
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		files = append(files, filepath.Join(filepath.Dir(dest), entry.Name()))
	}
	return files, nil
}

// SweepTemps 删除 dest 的临时文件中最后修改早于 olderThan 的部分。
// 仍在写入的临时文件会持续更新修改时间，不会被误删。
func SweepTemps(dest string, olderThan time.Duration) (int, error) {
	files, err := TempFiles(dest)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, name := range files {
		info, err := os.Stat(name)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove stale temp: %w", err)
		}
		removed++
	}
	return removed, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
