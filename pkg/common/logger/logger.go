package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is usable before Init with logrus defaults, so library code and tests
// can log without setup.
var Log = logrus.New()

func Init() {
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log.SetLevel(logLevel)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

// ForModel tags entries with the model and patient a vector is built for.
func ForModel(model, patientID string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{"model": model, "patient_id": patientID})
}
