package logger

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 封装 zerolog.Logger，输出切换时持锁重建
type Logger struct {
	logger zerolog.Logger
	mutex  sync.RWMutex
}

// NewLogger 初始化日志系统，初始只输出到控制台
func NewLogger(debug bool) *Logger {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	l := &Logger{}
	l.rebuild(consoleWriter())
	return l
}

// GetLogger 返回带组件标识的日志记录器
func (l *Logger) GetLogger(component string) zerolog.Logger {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.logger.With().
		Str("component", component).
		Logger()
}

// SetLogOutput 追加带轮转的文件输出
func (l *Logger) SetLogOutput(logFilePath string) {
	fileWriter := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.rebuild(zerolog.MultiLevelWriter(consoleWriter(), fileWriter))
}

// rebuild 以给定输出重建logger并同步全局logger
func (l *Logger) rebuild(w zerolog.LevelWriter) {
	l.logger = zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()

	log.Logger = l.logger
}

func consoleWriter() zerolog.LevelWriter {
	return zerolog.MultiLevelWriter(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})
}
