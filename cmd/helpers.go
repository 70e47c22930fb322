// Package cmd implements the CLI subcommands. Everything that needs
// the kernel goes through the daemon's control socket; validate and
// plan-style inspection run locally where possible.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rampart-fw/rampart/internal/brand"
	"github.com/rampart-fw/rampart/internal/ctlplane"
	"github.com/rampart-fw/rampart/internal/engine"
)

// dialDaemon connects to the running daemon.
func dialDaemon() (*ctlplane.Client, error) {
	return ctlplane.NewClient(brand.SocketPath())
}

// policyFormat picks the wire format from a file extension.
func policyFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}

// writePIDFile records the daemon PID and returns a cleanup func.
func writePIDFile() (func(), error) {
	path := brand.PIDFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return func() { os.Remove(path) }, nil
}

// readDaemonPID reads the PID file left by a running daemon.
func readDaemonPID() (int, error) {
	path := brand.PIDFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file %s: %w (is the daemon running?)", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %q", string(data))
	}
	return pid, nil
}

// printReport renders an apply report for the terminal.
func printReport(r *engine.ApplyReport) {
	if r == nil {
		return
	}
	status := "ok"
	if !r.Success {
		status = "failed"
	}
	fmt.Printf("apply %s: %s (created=%d removed=%d unchanged=%d, took %s)\n",
		r.ID, status, r.Created, r.Removed, r.Unchanged, r.Duration.Round(time.Millisecond))
	if r.Error != "" {
		fmt.Printf("  error: %s\n", r.Error)
	}
}
