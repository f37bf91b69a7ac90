// Package sylog implements a leveled logger for Droidspaces, matching the
// wire-compatible message format used throughout the host tooling this
// runtime ships alongside.
package sylog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// messageLevel is the verbosity level of a single log message.
type messageLevel int

const (
	FatalLevel messageLevel = iota - 4
	ErrorLevel
	WarnLevel
	LogLevel
	InfoLevel
	VerboseLevel
	Verbose2Level
	Verbose3Level
	DebugLevel
)

func (l messageLevel) String() string {
	switch l {
	case FatalLevel:
		return "FATAL"
	case ErrorLevel:
		return "ERROR"
	case WarnLevel:
		return "WARNING"
	case LogLevel:
		return "LOG"
	case InfoLevel:
		return "INFO"
	case VerboseLevel, Verbose2Level, Verbose3Level:
		return "VERBOSE"
	case DebugLevel:
		return "DEBUG"
	default:
		return "?????"
	}
}

var messageColors = map[messageLevel]string{
	FatalLevel: "\x1b[31m",
	ErrorLevel: "\x1b[31m",
	WarnLevel:  "\x1b[33m",
	InfoLevel:  "\x1b[34m",
}

var (
	noColorLevel messageLevel = 90
	loggerLevel               = InfoLevel
)

var logWriter = (io.Writer)(os.Stderr)

func init() {
	l, err := strconv.Atoi(os.Getenv("DROIDSPACES_MESSAGELEVEL"))
	if err == nil {
		loggerLevel = messageLevel(l)
	}
}

func prefix(logLevel, msgLevel messageLevel) string {
	colorReset := "\x1b[0m"
	messageColor, ok := messageColors[msgLevel]
	if !ok || logLevel != loggerLevel {
		colorReset = ""
		messageColor = ""
	}

	if logLevel < DebugLevel {
		return fmt.Sprintf("%s%-8s%s ", messageColor, msgLevel.String()+":", colorReset)
	}

	pc, _, _, ok := runtime.Caller(3)
	details := runtime.FuncForPC(pc)

	var funcName string
	if ok && details == nil {
		funcName = "????()"
	} else {
		funcNameSplit := strings.Split(details.Name(), ".")
		funcName = funcNameSplit[len(funcNameSplit)-1] + "()"
	}

	pid := os.Getpid()
	pidStr := fmt.Sprintf("[P=%d]", pid)

	return fmt.Sprintf("%s%-8s%s%-12s%-30s", messageColor, msgLevel, colorReset, pidStr, funcName)
}

func writef(msgLevel messageLevel, format string, a ...interface{}) {
	logLevel := getLoggerLevel()
	if logLevel < msgLevel {
		return
	}

	message := fmt.Sprintf(format, a...)
	message = strings.TrimRight(message, "\n")

	fmt.Fprintf(logWriter, "%s%s\n", prefix(logLevel, msgLevel), message)
}

func getLoggerLevel() messageLevel {
	if loggerLevel <= -noColorLevel {
		return loggerLevel + noColorLevel
	} else if loggerLevel >= noColorLevel {
		return loggerLevel - noColorLevel
	}
	return loggerLevel
}

// Fatalf logs a FATAL level message and terminates the process. Only the
// top-level command dispatch should call this — library code should return
// wrapped errors instead.
func Fatalf(format string, a ...interface{}) {
	writef(FatalLevel, format, a...)
	os.Exit(1)
}

// Errorf writes an ERROR level message but does not exit.
func Errorf(format string, a ...interface{}) {
	writef(ErrorLevel, format, a...)
}

// Warningf writes a WARNING level message. Used for soft-fail conditions:
// a missing bind source, an unavailable optional namespace, a failed
// firmware-path update.
func Warningf(format string, a ...interface{}) {
	writef(WarnLevel, format, a...)
}

// Infof writes an INFO level message. Shown by default.
func Infof(format string, a ...interface{}) {
	writef(InfoLevel, format, a...)
}

// Verbosef writes a VERBOSE level message.
func Verbosef(format string, a ...interface{}) {
	writef(VerboseLevel, format, a...)
}

// Debugf writes a DEBUG level message, tagged with the calling function.
func Debugf(format string, a ...interface{}) {
	writef(DebugLevel, format, a...)
}

// SetLevel explicitly sets the logger level.
func SetLevel(l int, color bool) {
	loggerLevel = messageLevel(l)
	if !color {
		if loggerLevel >= InfoLevel {
			loggerLevel += noColorLevel
		} else if loggerLevel <= LogLevel {
			loggerLevel -= noColorLevel
		}
	}
}

// GetLevel returns the current log level as an integer.
func GetLevel() int {
	return int(getLoggerLevel())
}

// GetEnvVar returns a formatted environment variable string that a re-exec'd
// child (the monitor or init stage) can use to inherit the parent's log
// level across execve.
func GetEnvVar() string {
	return fmt.Sprintf("DROIDSPACES_MESSAGELEVEL=%d", loggerLevel)
}

// Writer returns an io.Writer for external packages (e.g. libseccomp-golang
// debug output) to log through.
func Writer() io.Writer {
	if loggerLevel <= LogLevel {
		return io.Discard
	}
	return logWriter
}

// SetWriter installs a new io.Writer for subsequent logging, returning the
// previous one so tests can restore it.
func SetWriter(writer io.Writer) io.Writer {
	old := logWriter
	if writer != nil {
		logWriter = writer
	}
	return old
}
