package build

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/btcsuite/btclog/v2"
)

// LogType is an indicating the type of logging specified by the build flag.
type LogType byte

const (
	// LogTypeNone indicates no logging.
	LogTypeNone LogType = iota

	// LogTypeStdOut all logging is written directly to stdout.
	LogTypeStdOut
)

// String returns a human readable identifier for the logging type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	default:
		return "unknown"
	}
}

// LoggingType is the logging type used when no sublogger constructor is
// supplied. Unit tests write straight to stdout; an embedding binary
// supplies its own constructor.
const LoggingType = LogTypeStdOut

// LogLevel is the default logging level for the stdout logger.
var LogLevel = "info"

// NewSubLogger constructs a new subsystem logger. When a sublogger
// constructor is supplied, it is used so all subsystems share the binary's
// backend; otherwise a plain stdout logger is created, which is what unit
// tests want, or logging is disabled entirely.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	switch LoggingType {
	case LogTypeStdOut:
		handler := btclog.NewDefaultHandler(os.Stdout)
		logger := btclog.NewSLogger(handler.SubSystem(subsystem))

		level, _ := btclog.LevelFromString(LogLevel)
		logger.SetLevel(level)

		return logger
	}

	return btclog.Disabled
}

// SubLoggers is a type that holds a map of subsystem loggers keyed by their
// subsystem name.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger provides the ability to retrieve the subsystem loggers
// of a logger and set their log levels individually or all at once.
type LeveledSubLogger interface {
	// SubLoggers returns the map of all registered subsystem loggers.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns a slice of strings containing the
	// names of the supported subsystems. Should ideally correspond to
	// the keys of the subsystem logger map and be sorted.
	SupportedSubsystems() []string

	// SetLogLevel assigns an individual subsystem logger a new log
	// level.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels assigns all subsystem loggers the same new log
	// level.
	SetLogLevels(logLevel string)
}

// ParseAndSetDebugLevels attempts to parse the specified debug level and
// set the levels accordingly on the given logger. An appropriate error is
// returned if anything is invalid.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	// Split at the delimiter.
	levels := strings.Split(level, ",")
	if len(levels) == 0 {
		return fmt.Errorf("invalid log level: %v", level)
	}

	// If the first entry has no =, treat it as the log level for all
	// subsystems.
	globalLevel := levels[0]
	if !strings.Contains(globalLevel, "=") {
		if !validLogLevel(globalLevel) {
			return fmt.Errorf("the specified debug level [%v] "+
				"is invalid", globalLevel)
		}

		logger.SetLogLevels(globalLevel)
		levels = levels[1:]
	}

	// All remaining entries must be of the form subsystem=level.
	for _, logLevelPair := range levels {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level "+
				"contains an invalid subsystem/level pair "+
				"[%v]", logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level has an "+
				"invalid format [%v] -- use "+
				"format subsystem1=level1,subsystem2=level2",
				logLevelPair)
		}
		subsysID, logLevel := fields[0], fields[1]
		subLoggers := logger.SubLoggers()

		if _, exists := subLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems are %v",
				subsysID, logger.SupportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] "+
				"is invalid", logLevel)
		}

		logger.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// SupportedSubsystems returns a sorted slice of the supported subsystems
// for the given logger.
func SupportedSubsystems(logger LeveledSubLogger) []string {
	subsystems := make([]string, 0, len(logger.SubLoggers()))
	for subsysID := range logger.SubLoggers() {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)

	return subsystems
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
		return true
	}

	return false
}
