package log

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"extpack.software/extpack/internal/flags/enum"
)

const (
	FlagLevel  = "loglevel"
	FlagFormat = "logformat"
)

// RegisterLoggingFlags adds the logging flags shared by every command.
// The defaults keep regular runs quiet; diagnostics are opted into.
func RegisterLoggingFlags(flags *pflag.FlagSet) {
	enum.Var(flags, FlagLevel, []string{"warn", "debug", "info", "error"}, "sets the logging level")
	enum.Var(flags, FlagFormat, []string{"text", "json"}, "sets the log output format")
}

// GetBaseLogger constructs the logger configured by the logging flags,
// writing to the command's output stream.
func GetBaseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	format, err := enum.Get(cmd.Flags(), FlagFormat)
	if err != nil {
		return nil, fmt.Errorf("getting logformat flag failed: %w", err)
	}
	level, err := GetLoggerLevel(cmd)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(cmd.OutOrStdout(), &slog.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(cmd.OutOrStdout(), &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	return slog.New(handler), nil
}

// GetLoggerLevel extracts the configured slog level from the level flag.
func GetLoggerLevel(cmd *cobra.Command) (slog.Level, error) {
	levelName, err := enum.Get(cmd.Flags(), FlagLevel)
	if err != nil {
		return 0, fmt.Errorf("getting loglevel flag failed: %w", err)
	}

	switch levelName {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", levelName)
	}
}
