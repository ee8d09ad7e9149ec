package main

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	coreLog  *logrus.Entry
	sipLog   *logrus.Entry
	mediaLog *logrus.Entry
	logFile  *lumberjack.Logger
)

// consoleOut receives console log lines.
var consoleOut io.Writer = os.Stdout

// initLogging configures the core, sip and media loggers.
func initLogging(cfg *ini.File) error {
	sec := cfg.Section("logging")

	consoleMin := toLogrusLevel(sec.Key("console_min_level").MustInt(0))
	fileMin := toLogrusLevel(sec.Key("file_min_level").MustInt(0))

	logFile = &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("whistle.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 1,
	}

	var sipSkip func(string) bool
	if !sec.Key("sip_messages").MustBool(true) {
		sipSkip = isMessageDump
	}

	coreLog = newLogger("core", toLogrusLevel(sec.Key("core").MustInt(2)), consoleMin, fileMin, consoleOut, logFile, nil)
	sipLog = newLogger("sip", toLogrusLevel(sec.Key("sip").MustInt(2)), consoleMin, fileMin, consoleOut, logFile, sipSkip)
	mediaLog = newLogger("media", toLogrusLevel(sec.Key("media").MustInt(3)), consoleMin, fileMin, consoleOut, logFile, nil)
	return nil
}

// closeLogging flushes and closes the log file.
func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// writerHook writes logs to the specified writer for provided levels.
// Messages matching Skip are dropped.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
	Skip      func(msg string) bool
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	if h.Skip != nil && h.Skip(e.Message) {
		return nil
	}
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func newLogger(name string, level, consoleMin, fileMin logrus.Level, console, file io.Writer, skip func(string) bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: console, LogLevels: availableLevels(consoleMin), Skip: skip})
	logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMin), Skip: skip})
	return logger.WithField("name", name)
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

// toLogrusLevel maps the 0 (trace) .. 6 (off) scale of settings.ini.
func toLogrusLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}

// isMessageDump matches the full SIP message dumps of the transport layer.
func isMessageDump(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.HasPrefix(msg, "received sip message") ||
		strings.HasPrefix(msg, "sending sip message") ||
		strings.HasPrefix(msg, "sip message received") ||
		strings.HasPrefix(msg, "sip message sent")
}
