package loggers

import (
	"github.com/sirupsen/logrus"
)

// NewWithModule returns a logger entry tagged with the module name,
// backed by its own logrus instance so module levels stay independent.
func NewWithModule(name string) *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000",
	})

	return logger.WithField("module", name)
}

// ParseLevel maps a config string to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}
