// Package logger 基于 zerolog 的结构化日志
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

const (
	traceIDKey ctxKey = "traceID"
	spanIDKey  ctxKey = "spanID"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
}

// Fields 日志字段
type Fields map[string]interface{}

type Logger struct {
	logger zerolog.Logger
}

// New 创建日志实例，w 为 nil 时写 stdout
func New(service string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}

	l := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()

	return &Logger{logger: l}
}

// Nop 丢弃所有输出，测试与未注入日志时使用
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// ParseLevel 解析 LOG_LEVEL，无法识别时为 info
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Level 返回设置了最低级别的新实例
func (l *Logger) Level(level string) *Logger {
	return &Logger{logger: l.logger.Level(ParseLevel(level))}
}

// WithContext 注入 traceID/spanID。优先取 OpenTelemetry span，其次取上下文中显式设置的值
func (l *Logger) WithContext(ctx context.Context) *Logger {
	traceID := TraceIDFromContext(ctx)
	spanID := SpanIDFromContext(ctx)

	updated := l.logger.With().
		Str("traceID", traceID).
		Str("spanID", spanID).
		Logger()

	return &Logger{logger: updated}
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// Debugf 带字段的 Debug 日志
func (l *Logger) Debugf(msg string, fields Fields) {
	withFields(l.logger.Debug(), fields).Msg(msg)
}

// Infof 带字段的 Info 日志
func (l *Logger) Infof(msg string, fields Fields) {
	withFields(l.logger.Info(), fields).Msg(msg)
}

// Warnf 带字段的 Warn 日志
func (l *Logger) Warnf(msg string, fields Fields) {
	withFields(l.logger.Warn(), fields).Msg(msg)
}

// Errorf 带字段的 Error 日志
func (l *Logger) Errorf(msg string, fields Fields) {
	withFields(l.logger.Error(), fields).Msg(msg)
}

func withFields(event *zerolog.Event, fields Fields) *zerolog.Event {
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}

// WithError 添加错误字段
func (l *Logger) WithError(err error) *Logger {
	return &Logger{logger: l.logger.With().Err(err).Logger()}
}

// WithField 添加单个字段
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}

	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}

	return value
}

func SpanIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String()
	}

	value, ok := ctx.Value(spanIDKey).(string)
	if !ok {
		return ""
	}

	return value
}
