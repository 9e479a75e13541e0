package util

import (
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
)

type LogConfig struct {
	Name    string
	Dir     string
	Verbose bool
}

// SetupLogging logs to stdout and, when a directory is given, to a daily
// rotated file in that directory.
func SetupLogging(config LogConfig) error {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if config.Verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if config.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return err
	}
	hook, err := newFileHook(filepath.Join(config.Dir, config.Name+".log"))
	if err != nil {
		return err
	}
	log.AddHook(hook)
	return nil
}

func newFileHook(logPath string) (log.Hook, error) {
	writer, err := rotatelogs.New(
		logPath+".%Y%m%d",
		rotatelogs.WithLinkName(logPath),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return nil, err
	}

	return lfshook.NewHook(lfshook.WriterMap{
		log.DebugLevel: writer,
		log.InfoLevel:  writer,
		log.WarnLevel:  writer,
		log.ErrorLevel: writer,
		log.FatalLevel: writer,
		log.PanicLevel: writer,
	}, &log.TextFormatter{DisableColors: true}), nil
}
