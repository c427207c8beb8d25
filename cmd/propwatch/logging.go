package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// configureLogger builds the logger for a command invocation. Logging is off
// by default so command output stays clean; --verbose is shorthand for debug
// and an explicit --log-level wins over it.
func configureLogger(cmd *cobra.Command) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if name, _ := cmd.Flags().GetString("log-level"); name != "" {
		level, err := logrus.ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q (use debug, info, warn or error)", name)
		}
		logger.SetLevel(level)
	}

	return logger, nil
}
