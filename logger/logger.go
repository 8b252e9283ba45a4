package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota // 调试信息（最详细）
	INFO                  // 一般信息（正常运行信息）
	WARN                  // 警告信息（需要注意但不影响运行）
	ERROR                 // 错误信息（需要关注的问题）
	FATAL                 // 致命错误（程序无法继续）
)

var (
	globalLevel LogLevel = INFO
	mu          sync.RWMutex

	// 文件日志相关
	fileLogger  *log.Logger
	logFile     *os.File
	currentDate string
	fileEnabled bool
	fileMu      sync.Mutex
	logDir      = "logs"
	filePrefix  = "perpguard"

	// 审计钩子（通过函数指针避免循环依赖）
	sinkWriter func(level, message string)
	sinkMu     sync.RWMutex
)

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析日志级别字符串
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// SetLevel 设置全局日志级别
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	globalLevel = level
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// EnableFile 启用按天轮转的文件日志，dir 为空时使用 logs/
func EnableFile(dir string) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	if dir != "" {
		logDir = dir
	}
	fileEnabled = true
	return rotateLocked()
}

// SetSink 设置日志旁路写入器（例如写入审计库），传 nil 关闭
func SetSink(writer func(level, message string)) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sinkWriter = writer
}

// rotateLocked 打开当天的日志文件，调用前必须持有 fileMu
func rotateLocked() error {
	today := time.Now().UTC().Format("2006-01-02")
	if fileLogger != nil && currentDate == today {
		return nil
	}

	if logFile != nil {
		logFile.Close()
		logFile = nil
		fileLogger = nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志文件夹失败: %w", err)
	}

	name := filepath.Join(logDir, fmt.Sprintf("%s-%s.log", filePrefix, today))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	logFile = file
	currentDate = today
	fileLogger = log.New(file, "", 0)
	return nil
}

// Close 关闭文件日志（程序退出时调用）
func Close() {
	fileMu.Lock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = nil
	fileLogger = nil
	currentDate = ""
	fileEnabled = false
	fileMu.Unlock()

	SetSink(nil)
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

// write 输出到控制台、文件和旁路写入器
func write(level LogLevel, message string) {
	log.Print(message)

	fileMu.Lock()
	if fileEnabled {
		if err := rotateLocked(); err == nil && fileLogger != nil {
			fileLogger.Printf("%s %s", time.Now().UTC().Format("2006/01/02 15:04:05"), message)
		}
	}
	fileMu.Unlock()

	sinkMu.RLock()
	writer := sinkWriter
	sinkMu.RUnlock()
	if writer != nil {
		writer(level.String(), message)
	}
}

func logf(level LogLevel, format string, args ...interface{}) {
	if !shouldLog(level) {
		return
	}
	write(level, fmt.Sprintf("[%s] ", level.String())+fmt.Sprintf(format, args...))
}

func logln(level LogLevel, args ...interface{}) {
	if !shouldLog(level) {
		return
	}
	message := fmt.Sprintln(append([]interface{}{fmt.Sprintf("[%s]", level.String())}, args...)...)
	write(level, strings.TrimSuffix(message, "\n"))
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(DEBUG, format, args...)
}

// Debugln 输出调试日志（无格式）
func Debugln(args ...interface{}) {
	logln(DEBUG, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	logf(INFO, format, args...)
}

// Infoln 输出一般信息日志（无格式）
func Infoln(args ...interface{}) {
	logln(INFO, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(WARN, format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(ERROR, format, args...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	os.Exit(1)
}
