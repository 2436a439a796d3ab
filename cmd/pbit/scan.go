package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/pbit/internal/device"
	"github.com/srg/pbit/internal/transport"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List P-Bit devices in range",
	Long: `Scans for Bluetooth Low Energy devices and lists those a record session would
accept. By default only devices advertising the P-Bit name prefix are shown; with
--all every connectable device is listed.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "List every connectable device, not just P-Bits")
}

// scanEntry is one discovered device
type scanEntry struct {
	Name     string
	Address  string
	RSSI     int
	Services []string
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanDuration <= 0 {
		return fmt.Errorf("scan duration must be positive, got %s", scanDuration)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(cmd.Context(), scanDuration)
	defer cancel()

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

	policy := transport.PolicyFiltered
	if scanAll {
		policy = transport.PolicyCompatible
	}
	opts := cfg.TransportOptions()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning", "Listening")
	progress.Start()

	var mu sync.Mutex
	found := make(map[string]scanEntry)
	err = newRadio(logger).Scan(ctx, func(adv device.Advertisement) {
		if !opts.Accepts(policy, adv) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		found[adv.Addr()] = scanEntry{
			Name:     adv.LocalName(),
			Address:  adv.Addr(),
			RSSI:     adv.RSSI(),
			Services: adv.Services(),
		}
	})
	progress.Stop()
	if err != nil {
		return err
	}

	mu.Lock()
	entries := make([]scanEntry, 0, len(found))
	for _, e := range found {
		entries = append(entries, e)
	}
	mu.Unlock()

	writeScanTable(cmd.OutOrStdout(), entries)
	return nil
}

// writeScanTable prints entries strongest signal first
func writeScanTable(out io.Writer, entries []scanEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No devices found.")
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RSSI != entries[j].RSSI {
			return entries[i].RSSI > entries[j].RSSI
		}
		return entries[i].Address < entries[j].Address
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "-"
		}
		services := make([]string, 0, len(e.Services))
		for _, s := range e.Services {
			services = append(services, device.ShortenUUID(s))
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, e.Address, e.RSSI, strings.Join(services, ","))
	}
	_ = w.Flush()
}
