package logging

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/patch-hub/patch-hub/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "patch-hub.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patch-hub.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestOrDiscardKeepsGivenLogger(t *testing.T) {
	if got := OrDiscard(nil); got == nil || got.Out != io.Discard {
		t.Fatalf("nil logger 应退回 Discard")
	}
	logger, _ := InitLogger(config.GlobalConfig{LogLevel: "warn"})
	if OrDiscard(logger) != logger {
		t.Fatalf("非空 logger 应原样返回")
	}
}

func TestRequestFieldsCarryAction(t *testing.T) {
	fields := RequestFields("genshin", "os", "client_game_res/5.6_live/base_revision", true)
	if fields["action"] != "proxy" || fields["cache_hit"] != true {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
