package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

var (
	debugEnabled = false

	debugLogger = log.New(os.Stderr, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	infoLogger  = log.New(os.Stderr, "INFO: ", log.Ldate|log.Ltime)
	errorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
)

// Init sets the debug flag and points all loggers at w (stderr when nil).
func Init(debug bool, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	debugEnabled = debug
	debugLogger.SetOutput(w)
	infoLogger.SetOutput(w)
	errorLogger.SetOutput(w)

	if debugEnabled {
		Debug("Debug logging enabled")
	}
}

// Debug logs a debug message if debug mode is enabled
func Debug(format string, v ...interface{}) {
	if debugEnabled {
		debugLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	infoLogger.Output(2, fmt.Sprintf(format, v...))
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	errorLogger.Output(2, fmt.Sprintf(format, v...))
}
