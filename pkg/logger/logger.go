// Package logger wraps go.uber.org/zap with the colored, level-gated
// console API the rest of netcore calls into, plus a couple of pure
// console-art helpers (Section, Banner) that sit outside the logging
// pipeline entirely.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes, used only by the console-art helpers below — the
// level colors themselves come from zapcore.CapitalColorLevelEncoder.
const (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorCyan   = "\033[36m"
)

// Log levels, kept numerically compatible with the original API.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSuccess
)

var (
	atomicLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	timeFormat  = "15:04:05"
	showTime    = true
	sugar       *zap.SugaredLogger
)

func init() { rebuild() }

// rebuild re-creates the underlying zap logger from the current
// timeFormat/showTime/atomicLevel settings.
func rebuild() {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if showTime {
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	} else {
		cfg.TimeKey = zapcore.OmitKey
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stdout), atomicLevel)
	sugar = zap.New(core).Sugar()
}

// SetLevel sets the minimum log level.
func SetLevel(level int) {
	switch level {
	case LevelDebug:
		atomicLevel.SetLevel(zap.DebugLevel)
	case LevelInfo, LevelSuccess:
		atomicLevel.SetLevel(zap.InfoLevel)
	case LevelWarn:
		atomicLevel.SetLevel(zap.WarnLevel)
	case LevelError:
		atomicLevel.SetLevel(zap.ErrorLevel)
	}
}

// SetTimeFormat sets the time layout used on each log line.
func SetTimeFormat(format string) {
	timeFormat = format
	rebuild()
}

// ShowTime enables or disables the timestamp prefix.
func ShowTime(show bool) {
	showTime = show
	rebuild()
}

func Debug(format string, args ...interface{}) { sugar.Debugf(format, args...) }
func Info(format string, args ...interface{})  { sugar.Infof(format, args...) }
func Warn(format string, args ...interface{})  { sugar.Warnf(format, args...) }
func Error(format string, args ...interface{}) { sugar.Errorf(format, args...) }

// Success logs at info level with the message itself painted green, since
// zap has no native "success" level.
func Success(format string, args ...interface{}) {
	sugar.Infof(ColorGreen+format+ColorReset, args...)
}

// Fatal logs at fatal severity and terminates the process, matching
// zap.SugaredLogger.Fatalf's own os.Exit(1) behavior.
func Fatal(format string, args ...interface{}) { sugar.Fatalf(format, args...) }

// Section prints a section header directly to stdout; this is console
// art, not a log line, so it bypasses the level gate entirely.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", ColorCyan, border, ColorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", ColorCyan, ColorReset, title, ColorCyan, ColorReset)
	fmt.Printf("%s╚%s╝%s\n\n", ColorCyan, border, ColorReset)
}

// Banner prints the application banner.
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   ██╗   ██╗███████╗████████╗ ██████╗ ██████╗ ██████╗      ║
║   ████╗  ██║██╔════╝╚══██╔══╝██╔════╝██╔═══██╗██╔══██╗     ║
║   ██╔██╗ ██║█████╗     ██║   ██║     ██║   ██║██████╔╝     ║
║   ██║╚██╗██║██╔══╝     ██║   ██║     ██║   ██║██╔══██╗     ║
║   ██║ ╚████║███████╗   ██║   ╚██████╗╚██████╔╝██║  ██║     ║
║   ╚═╝  ╚═══╝╚══════╝   ╚═╝    ╚═════╝ ╚═════╝ ╚═╝  ╚═╝     ║
║                                                           ║
║              %s%-37s%s║
║                    %sVersion %-7s%s                      ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, ColorCyan, title, ColorReset, ColorGreen, version, ColorReset)
}
