package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// zapLevel はzapcoreのレベルに変換する
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel は文字列をLevelに変換する（不明な値はInfo）
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config はロガーの設定
type Config struct {
	// Env は "dev"（コンソール）または "prod"（JSON）
	Env   string
	Level string
}

// Logger はzapをバックエンドとするスレッドセーフなロガー
type Logger struct {
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

var (
	mu sync.RWMutex
	// Default はデフォルトのロガー
	Default = New(os.Stdout, LevelInfo)
)

// New はコンソール形式で out に書き出すロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	return newLogger(zapcore.NewConsoleEncoder(encoderConfig(false)), out, minLevel)
}

// NewJSON はJSON形式で out に書き出すロガーを作成する
func NewJSON(out io.Writer, minLevel Level) *Logger {
	return newLogger(zapcore.NewJSONEncoder(encoderConfig(true)), out, minLevel)
}

func newLogger(enc zapcore.Encoder, out io.Writer, minLevel Level) *Logger {
	level := zap.NewAtomicLevelAt(minLevel.zapLevel())
	core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
	return &Logger{
		level: level,
		sugar: zap.New(core).Sugar(),
	}
}

func encoderConfig(prod bool) zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	if prod {
		cfg = zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.CallerKey = zapcore.OmitKey
	return cfg
}

// Init は設定からデフォルトロガーを差し替える
func Init(cfg Config) {
	level := ParseLevel(cfg.Level)

	var l *Logger
	if strings.ToLower(cfg.Env) == "prod" {
		l = NewJSON(os.Stdout, level)
	} else {
		l = New(os.Stdout, level)
	}

	mu.Lock()
	Default = l
	mu.Unlock()
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return Default
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Sync はバッファをフラッシュする
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// log は指定されたレベルでログを出力する
func (l *Logger) log(level Level, nodeID string, format string, args ...any) {
	if !l.level.Enabled(level.zapLevel()) {
		return
	}

	s := l.sugar
	if nodeID != "" {
		s = s.With("node", nodeID)
	}
	msg := fmt.Sprintf(format, args...)

	switch level {
	case LevelDebug:
		s.Debug(msg)
	case LevelWarn:
		s.Warn(msg)
	case LevelError:
		s.Error(msg)
	default:
		s.Info(msg)
	}
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(nodeID string, format string, args ...any) {
	l.log(LevelDebug, nodeID, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(nodeID string, format string, args ...any) {
	l.log(LevelInfo, nodeID, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(nodeID string, format string, args ...any) {
	l.log(LevelWarn, nodeID, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(nodeID string, format string, args ...any) {
	l.log(LevelError, nodeID, format, args...)
}

// グローバル関数（デフォルトロガーを使用）

// Debug はデバッグログを出力する
func Debug(nodeID string, format string, args ...any) {
	current().Debug(nodeID, format, args...)
}

// Info は情報ログを出力する
func Info(nodeID string, format string, args ...any) {
	current().Info(nodeID, format, args...)
}

// Warn は警告ログを出力する
func Warn(nodeID string, format string, args ...any) {
	current().Warn(nodeID, format, args...)
}

// Error はエラーログを出力する
func Error(nodeID string, format string, args ...any) {
	current().Error(nodeID, format, args...)
}

// Sync はデフォルトロガーをフラッシュする
func Sync() error {
	return current().Sync()
}
