package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/pbit/internal/backend"
	"github.com/srg/pbit/internal/mirror"
	"github.com/srg/pbit/internal/session"
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Connect to a P-Bit, print live readings and record them",
	Long: `Connects to the first P-Bit in range, prints every reading and delivers readings
to the classroom API in batches every batch_interval (10s by default).

Delivery needs a bearer token and classroom id (config file, or the PBIT_TOKEN and
PBIT_CLASSROOM_ID environment variables). Without them readings are still shown but
only the most recent max_batch_size readings are kept.

Examples:
  # Record from a P-Bit with current firmware
  pbit record

  # Accept any device and fall back to the legacy JSON protocol
  pbit record --compatible

  # Record for five minutes with a config file
  pbit record --config pbit.yaml --duration 5m`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

var (
	recordCompatible bool
	recordDuration   time.Duration
	recordNoColor    bool
	recordQuiet      bool
)

// connectionPollInterval is how often record checks for an unsolicited disconnect
const connectionPollInterval = 250 * time.Millisecond

// stopTimeout bounds the final batch flush on exit
const stopTimeout = 15 * time.Second

func init() {
	recordCmd.Flags().BoolVar(&recordCompatible, "compatible", false, "Accept any device and allow the legacy protocol")
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "Stop after this long (0 records until Ctrl+C)")
	recordCmd.Flags().BoolVar(&recordNoColor, "no-color", false, "Disable colored output")
	recordCmd.Flags().BoolVarP(&recordQuiet, "quiet", "q", false, "Do not print live readings")
}

func runRecord(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if recordDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, recordDuration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	client, err := backend.NewClient(cfg.APIBaseURL, backend.WithTimeout(cfg.HTTPTimeout), backend.WithLogger(logger))
	if err != nil {
		return err
	}
	creds := &backend.StaticCredentials{Token: cfg.Token, Classroom: cfg.ClassroomID}
	mgr := session.NewManager(newRadio(logger), client, creds, &session.Options{
		Transport: cfg.TransportOptions(),
		Recorder:  cfg.RecorderOptions(),
	}, logger)

	out := cmd.OutOrStdout()
	if !recordQuiet {
		printer := newReadingPrinter(out, !recordNoColor && isTerminal(out))
		mgr.Subscribe(printer.Print)
	}

	var mqttMirror *mirror.Mirror
	if cfg.MirrorEnabled() {
		mcfg := cfg.MirrorConfig()
		mqttMirror = mirror.New(mirror.NewClient(mcfg, logger), mcfg, logger)
		if err := mqttMirror.Start(ctx); err != nil {
			logger.WithField("error", err).Warn("MQTT mirror unavailable, continuing without it")
			mqttMirror = nil
		} else {
			defer mqttMirror.Stop()
			mgr.Subscribe(mqttMirror.Handle)
		}
	}

	policy := "filtered"
	connect := mgr.ConnectFiltered
	if recordCompatible {
		policy = "compatible"
		connect = mgr.ConnectCompatible
	}

	errOut := cmd.ErrOrStderr()
	progress := NewProgressPrinter(errOut, fmt.Sprintf("Looking for a P-Bit (%s discovery)", policy), "Connecting")
	progress.Start()
	info, err := connect(ctx)
	progress.Stop()
	if err != nil {
		return err
	}
	if mqttMirror != nil {
		mqttMirror.SetDeviceName(info.Name)
	}

	fmt.Fprintf(errOut, "Connected to %s (%s, %s protocol). Press Ctrl+C to stop...\n", displayName(info.Name), info.Address, info.Protocol)

	lost := waitForEnd(ctx, mgr)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	mgr.Stop(stopCtx)

	stats := mgr.Stats()
	fmt.Fprintf(errOut, "Stopped. %d readings delivered in %d batches, %d failed deliveries, %d readings dropped.\n",
		stats.Delivered, stats.Batches, stats.Failed, stats.Dropped)

	if lost {
		return ErrConnectionLost
	}
	return nil
}

// waitForEnd blocks until ctx ends or the device disconnects. Reports true on disconnect.
func waitForEnd(ctx context.Context, mgr *session.Manager) bool {
	ticker := time.NewTicker(connectionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if !mgr.IsConnected() {
				return true
			}
		}
	}
}

func displayName(name string) string {
	if name == "" {
		return "unnamed device"
	}
	return name
}
