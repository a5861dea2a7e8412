package logger

import (
	log "github.com/sirupsen/logrus"
)

//Context identifies one unit of ingest work in log output
type Context struct {
	BatchID   string
	ItemID    string
	PatientID string
}

func fields(c *Context) log.Fields {
	f := log.Fields{}
	if c == nil {
		return f
	}
	if c.BatchID != "" {
		f["batchID"] = c.BatchID
	}
	if c.ItemID != "" {
		f["itemID"] = c.ItemID
	}
	if c.PatientID != "" {
		f["patientID"] = c.PatientID
	}
	return f
}

// Info logs an info message with context
func Info(c *Context, message string) {
	log.WithFields(fields(c)).Info(message)
}

// InfoWithFields logs an info message with context and extra fields
func InfoWithFields(c *Context, message string, extra map[string]interface{}) {
	log.WithFields(fields(c)).WithFields(extra).Info(message)
}

// Debug logs a debug message with context
func Debug(c *Context, message string) {
	log.WithFields(fields(c)).Debug(message)
}

// Warn logs a warning message with context
func Warn(c *Context, message string) {
	log.WithFields(fields(c)).Warn(message)
}

// Error logs an error message with context
func Error(c *Context, message string, err error) {
	log.WithFields(fields(c)).WithError(err).Error(message)
}
