package logger

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sing3demons/instance-identity/pkg/logAction"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

type LogType string

const (
	TypeDetail  LogType = "detail"
	TypeSummary LogType = "summary"
)

type ctxKey string

const LoggerKey ctxKey = "logger"

type DetailLog struct {
	Timestamp         string         `json:"timestamp"`
	Level             LogLevel       `json:"level"`
	Type              LogType        `json:"type"`
	Service           string         `json:"service"`
	Version           string         `json:"version"`
	TransactionID     string         `json:"transactionId,omitempty"`
	SessionID         string         `json:"sessionId,omitempty"`
	UseCase           string         `json:"useCase,omitempty"`
	Action            string         `json:"action,omitempty"`
	ActionDescription string         `json:"actionDescription,omitempty"`
	SubAction         string         `json:"subAction,omitempty"`
	Dependency        string         `json:"dependency,omitempty"`
	ResponseTime      int64          `json:"responseTime,omitempty"`
	ResultCode        string         `json:"resultCode,omitempty"`
	ResultFlag        string         `json:"resultFlag,omitempty"`
	Message           string         `json:"message,omitempty"`
	Duration          int64          `json:"duration,omitempty"`
	StatusCode        int            `json:"statusCode,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// DependencyMetadata annotates the next detail logs with the downstream system being called.
type DependencyMetadata struct {
	Dependency   string
	ResponseTime int64
	ResultCode   string
	ResultFlag   string
}

type LogOutputConfig struct {
	Path    string
	Console bool
	File    bool
}

type LoggerConfig struct {
	Summary LogOutputConfig
	Detail  LogOutputConfig
	// Level is the lowest level written to detail outputs. Empty means debug.
	Level LogLevel
}

type ILogger interface {
	Debug(action logAction.LoggerAction, data any, maskingRules ...MaskingRule)
	Info(action logAction.LoggerAction, data any, maskingRules ...MaskingRule)
	Warn(action logAction.LoggerAction, data any, maskingRules ...MaskingRule)
	Error(action logAction.LoggerAction, data any, maskingRules ...MaskingRule)
	SetDependencyMetadata(metadata DependencyMetadata) ILogger
	SetSessionID(sessionID string)
	SetTransactionID(transactionID string)
	SetUseCase(useCase string)
	SessionID() string
	TransactionID() string
	AddMetadata(key string, value any)
	Flush(statusCode int, message string)
	FlushError(statusCode int, message string)
}

type Logger struct {
	service string
	version string
	config  *LoggerConfig
	out     io.Writer

	mu            sync.Mutex
	transactionID string
	sessionID     string
	UseCase       string
	dependency    *DependencyMetadata
	startTime     time.Time
	metadata      map[string]any
}

var levelOrder = map[LogLevel]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Summary: LogOutputConfig{Path: "./logs/summary/", Console: true},
		Detail:  LogOutputConfig{Path: "./logs/detail/", Console: true},
	}
}

func NewLogger(service, version string) ILogger {
	return NewLoggerWithConfig(service, version, DefaultConfig())
}

func NewLoggerWithConfig(service, version string, config *LoggerConfig) ILogger {
	if config == nil {
		config = DefaultConfig()
	}
	return &Logger{
		service:   service,
		version:   version,
		config:    config,
		out:       os.Stdout,
		startTime: time.Now(),
		metadata:  make(map[string]any),
	}
}

// NewLoggerWithWriter sends console output to w instead of stdout.
func NewLoggerWithWriter(service, version string, config *LoggerConfig, w io.Writer) ILogger {
	l := NewLoggerWithConfig(service, version, config).(*Logger)
	l.out = w
	return l
}

func SetLogger(ctx context.Context, l ILogger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, LoggerKey, l)
}

func GetLogger(ctx context.Context) ILogger {
	if ctx == nil {
		return nil
	}
	l, ok := ctx.Value(LoggerKey).(ILogger)
	if !ok {
		return nil
	}
	return l
}

func (l *Logger) SetSessionID(sessionID string) {
	l.mu.Lock()
	l.sessionID = sessionID
	l.mu.Unlock()
}

func (l *Logger) SetTransactionID(transactionID string) {
	l.mu.Lock()
	l.transactionID = transactionID
	l.mu.Unlock()
}

func (l *Logger) SetUseCase(useCase string) {
	l.mu.Lock()
	l.UseCase = useCase
	l.mu.Unlock()
}

func (l *Logger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

func (l *Logger) TransactionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transactionID
}

// SetDependencyMetadata returns a view of the logger whose next detail logs carry the
// dependency fields. The receiver is left untouched.
func (l *Logger) SetDependencyMetadata(metadata DependencyMetadata) ILogger {
	return &dependencyLogger{parent: l, dep: metadata}
}

func (l *Logger) Debug(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	l.detail(LevelDebug, action, nil, data, maskingRules)
}

func (l *Logger) Info(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	l.detail(LevelInfo, action, nil, data, maskingRules)
}

func (l *Logger) Warn(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	l.detail(LevelWarn, action, nil, data, maskingRules)
}

func (l *Logger) Error(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	l.detail(LevelError, action, nil, data, maskingRules)
}

func (l *Logger) detail(level LogLevel, action logAction.LoggerAction, dep *DependencyMetadata, data any, maskingRules []MaskingRule) {
	if levelOrder[level] < levelOrder[l.config.Level] {
		return
	}
	if len(maskingRules) > 0 {
		data = MaskData(data, maskingRules)
	}

	l.mu.Lock()
	log := DetailLog{
		Level:             level,
		Type:              TypeDetail,
		Action:            action.Action,
		ActionDescription: action.ActionDescription,
		SubAction:         action.SubAction,
		Message:           dataToString(data),
		TransactionID:     l.transactionID,
		SessionID:         l.sessionID,
		UseCase:           l.UseCase,
	}
	l.mu.Unlock()

	if dep != nil {
		log.Dependency = dep.Dependency
		log.ResponseTime = dep.ResponseTime
		log.ResultCode = dep.ResultCode
		log.ResultFlag = dep.ResultFlag
	}
	l.write(log)
}

// AddMetadata adds or overwrites a key on the summary log of the current transaction.
func (l *Logger) AddMetadata(key string, value any) {
	l.mu.Lock()
	l.metadata[key] = value
	l.mu.Unlock()
}

// Flush writes the summary log of the current transaction and resets it.
func (l *Logger) Flush(statusCode int, message string) {
	l.summary(LevelInfo, statusCode, message)
}

func (l *Logger) FlushError(statusCode int, message string) {
	l.summary(LevelError, statusCode, message)
}

func (l *Logger) summary(level LogLevel, statusCode int, message string) {
	l.mu.Lock()
	log := DetailLog{
		Level:         level,
		Type:          TypeSummary,
		Message:       message,
		TransactionID: l.transactionID,
		SessionID:     l.sessionID,
		UseCase:       l.UseCase,
		StatusCode:    statusCode,
		Duration:      time.Since(l.startTime).Milliseconds(),
		Metadata:      l.metadata,
	}
	l.metadata = make(map[string]any)
	l.startTime = time.Now()
	l.mu.Unlock()

	l.write(log)
}

func (l *Logger) write(log DetailLog) {
	log.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	log.Service = l.service
	log.Version = l.version

	jsonLog, err := json.Marshal(log)
	if err != nil {
		return
	}
	jsonLog = append(jsonLog, '\n')

	outputConfig := l.config.Detail
	if log.Type == TypeSummary {
		outputConfig = l.config.Summary
	}

	if outputConfig.Console {
		l.out.Write(jsonLog)
	}
	if outputConfig.File {
		writeToFile(outputConfig.Path, log.Timestamp, jsonLog)
	}
}

// writeToFile appends to <basePath>/<YYYY-MM-DD>.log.
func writeToFile(basePath, timestamp string, data []byte) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return
	}
	filename := filepath.Join(basePath, timestamp[:10]) + ".log"

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	f.Write(data)
}

func dataToString(data any) string {
	if data == nil {
		return ""
	}
	if str, ok := data.(string); ok {
		return str
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(jsonBytes)
}

type dependencyLogger struct {
	parent *Logger
	dep    DependencyMetadata
}

func (d *dependencyLogger) Debug(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	d.parent.detail(LevelDebug, action, &d.dep, data, maskingRules)
}

func (d *dependencyLogger) Info(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	d.parent.detail(LevelInfo, action, &d.dep, data, maskingRules)
}

func (d *dependencyLogger) Warn(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	d.parent.detail(LevelWarn, action, &d.dep, data, maskingRules)
}

func (d *dependencyLogger) Error(action logAction.LoggerAction, data any, maskingRules ...MaskingRule) {
	d.parent.detail(LevelError, action, &d.dep, data, maskingRules)
}

func (d *dependencyLogger) SetDependencyMetadata(metadata DependencyMetadata) ILogger {
	return d.parent.SetDependencyMetadata(metadata)
}

func (d *dependencyLogger) SetSessionID(sessionID string) { d.parent.SetSessionID(sessionID) }
func (d *dependencyLogger) SetTransactionID(transactionID string) {
	d.parent.SetTransactionID(transactionID)
}
func (d *dependencyLogger) SetUseCase(useCase string)            { d.parent.SetUseCase(useCase) }
func (d *dependencyLogger) SessionID() string                    { return d.parent.SessionID() }
func (d *dependencyLogger) TransactionID() string                { return d.parent.TransactionID() }
func (d *dependencyLogger) AddMetadata(key string, value any)    { d.parent.AddMetadata(key, value) }
func (d *dependencyLogger) Flush(statusCode int, message string) { d.parent.Flush(statusCode, message) }
func (d *dependencyLogger) FlushError(statusCode int, message string) {
	d.parent.FlushError(statusCode, message)
}
