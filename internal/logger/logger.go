package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

var (
	debugLogger   *log.Logger
	infoLogger    *log.Logger
	warningLogger *log.Logger
	errorLogger   *log.Logger
	currentLevel  = LogLevelInfo
)

func init() {
	debugLogger = log.New(os.Stdout, "", 0)
	infoLogger = log.New(os.Stdout, "", 0)
	warningLogger = log.New(os.Stdout, "", 0)
	errorLogger = log.New(os.Stderr, "", 0)
}

// SetLevel sets the minimum log level to display
func SetLevel(level LogLevel) {
	currentLevel = level
}

// SetOutput sets the output destination for the loggers
func SetOutput(w io.Writer) {
	debugLogger.SetOutput(w)
	infoLogger.SetOutput(w)
	warningLogger.SetOutput(w)
	errorLogger.SetOutput(w)
}

func tagPrefix(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return fmt.Sprintf("[%s] ", strings.Join(tags, "]["))
}

// Debug logs a diagnostic message
func Debug(format string, v ...interface{}) {
	if currentLevel <= LogLevelDebug {
		debugLogger.Printf("DEBUG: "+format, v...)
	}
}

// DebugTagged logs a diagnostic message with tags
func DebugTagged(tags []string, format string, v ...interface{}) {
	if currentLevel <= LogLevelDebug {
		debugLogger.Printf("DEBUG: "+tagPrefix(tags)+format, v...)
	}
}

// Info logs an informational message
func Info(format string, v ...interface{}) {
	if currentLevel <= LogLevelInfo {
		infoLogger.Printf(format, v...)
	}
}

// InfoTagged logs an informational message with tags
func InfoTagged(tags []string, format string, v ...interface{}) {
	if currentLevel <= LogLevelInfo {
		infoLogger.Printf(tagPrefix(tags)+format, v...)
	}
}

// Warning logs a warning message
func Warning(format string, v ...interface{}) {
	if currentLevel <= LogLevelWarning {
		warningLogger.Printf("WARNING: "+format, v...)
	}
}

// WarningTagged logs a warning message with tags
func WarningTagged(tags []string, format string, v ...interface{}) {
	if currentLevel <= LogLevelWarning {
		warningLogger.Printf("WARNING: "+tagPrefix(tags)+format, v...)
	}
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	if currentLevel <= LogLevelError {
		errorLogger.Printf("ERROR: "+format, v...)
	}
}

// ErrorTagged logs an error message with tags
func ErrorTagged(tags []string, format string, v ...interface{}) {
	if currentLevel <= LogLevelError {
		errorLogger.Printf("ERROR: "+tagPrefix(tags)+format, v...)
	}
}

// DryRun logs a dry run action
func DryRun(format string, v ...interface{}) {
	infoLogger.Printf("[DRY RUN] "+format, v...)
}

// DryRunTagged logs a dry run action with tags
func DryRunTagged(tags []string, format string, v ...interface{}) {
	infoLogger.Printf("[DRY RUN] "+tagPrefix(tags)+format, v...)
}

// Tagger logs through the package loggers with a fixed set of tags.
type Tagger struct {
	tags []string
}

// Tagged returns a Tagger that prefixes every line with the given tags.
func Tagged(tags ...string) *Tagger {
	return &Tagger{tags: tags}
}

// With returns a new Tagger with extra tags appended.
func (t *Tagger) With(tags ...string) *Tagger {
	all := make([]string, 0, len(t.tags)+len(tags))
	all = append(all, t.tags...)
	all = append(all, tags...)
	return &Tagger{tags: all}
}

func (t *Tagger) Debug(format string, v ...interface{})   { DebugTagged(t.tags, format, v...) }
func (t *Tagger) Info(format string, v ...interface{})    { InfoTagged(t.tags, format, v...) }
func (t *Tagger) Warning(format string, v ...interface{}) { WarningTagged(t.tags, format, v...) }
func (t *Tagger) Error(format string, v ...interface{})   { ErrorTagged(t.tags, format, v...) }
func (t *Tagger) DryRun(format string, v ...interface{})  { DryRunTagged(t.tags, format, v...) }
