// Package trace 提供 GC 的分级跟踪日志
//
// 级别语义：0 静默，1 堆关闭时输出一行汇总，>=2 每次 GC 输出
// 跟踪。环境变量 GENHEAP_DEBUG 可以抬高初始级别。
package trace

import (
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvDebug 控制初始调试级别的环境变量。
const EnvDebug = "GENHEAP_DEBUG"

// Logger GC 跟踪日志器
type Logger struct {
	level int
	sugar *zap.SugaredLogger
}

// New 创建日志器。实际级别取 level 与环境变量中的较大者。
func New(level int) *Logger {
	if env := os.Getenv(EnvDebug); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > level {
			level = n
		}
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zapcore.DebugLevel,
	)
	return &Logger{
		level: level,
		sugar: zap.New(core).Sugar(),
	}
}

// Level 当前级别。
func (l *Logger) Level() int { return l.level }

// SetLevel 设置级别。
func (l *Logger) SetLevel(level int) { l.level = level }

// Minor 复制回收开始的跟踪行。
func (l *Logger) Minor() {
	if l.level > 1 {
		l.sugar.Debugf("genheap: minor GC")
	}
}

// Major 标记清扫开始的跟踪行。bytes 是老年代当前占用。
func (l *Logger) Major(bytes uint64) {
	if l.level > 1 {
		l.sugar.Debugf("genheap: major GC (%d bytes)", bytes)
	}
}

// Summary 关闭时的汇总行。
func (l *Logger) Summary(minor, major int) {
	if l.level > 0 {
		l.sugar.Infof("genheap: minor GC %d times, major GC %d times", minor, major)
	}
}

// Tracef 任意级别大于 1 时的跟踪输出。
func (l *Logger) Tracef(format string, args ...interface{}) {
	if l.level > 1 {
		l.sugar.Debugf(format, args...)
	}
}

// Close 冲刷并关闭日志器。标准错误上的 Sync 失败（管道、终端）
// 不视为错误。
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	return nil
}
