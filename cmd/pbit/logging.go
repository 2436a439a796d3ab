package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/pbit/pkg/config"
)

// loadConfig reads --config and applies --log-level on top of it.
// Without either, logging is limited to warnings so live output stays readable.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	switch {
	case logLevel != "":
		if _, err := logrus.ParseLevel(logLevel); err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevel)
		}
		cfg.LogLevel = logLevel
	case path == "" && cfg.LogFile == "":
		cfg.LogLevel = logrus.WarnLevel.String()
	}
	return cfg, nil
}
