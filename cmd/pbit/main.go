package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/pbit/internal/device"
	goble "github.com/srg/pbit/internal/device/go-ble"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRadio opens the platform radio; replaced in tests
var newRadio = func(logger *logrus.Logger) device.Radio {
	return goble.NewRadio(logger)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pbit",
	Short: "P-Bit classroom sensor recorder",
	Long: `Connects to a P-Bit classroom sensor over Bluetooth Low Energy and:

- Prints live temperature, humidity, light, sound and battery readings
- Delivers readings in batches to the classroom ingestion API
- Optionally mirrors every reading to an MQTT broker

Older P-Bit firmware that sends JSON readings is supported with --compatible.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(scanCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
