package logger

import (
	"io"
	log "log/slog"
	"os"
)

var LogWriter io.Writer

// InitLogger 安装全局 JSON 日志器，并注入 trace_id 提取能力
func InitLogger() {
	LogWriter = os.Stdout

	handler := log.NewJSONHandler(os.Stdout, &log.HandlerOptions{Level: log.LevelInfo})
	logger := log.New(&ContextHandler{handler})
	log.SetDefault(logger)
}
