package voiceconv

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// Logger 返回包级日志器, 默认不输出
func Logger() *zap.Logger {
	return logger.Load()
}

// SetLogger 替换包级日志器, nil 恢复为静默
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Component 返回带组件名的子日志器
func Component(name string) *zap.Logger {
	return Logger().With(zap.String("component", name))
}
