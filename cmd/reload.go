package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/rampart-fw/rampart/internal/config"
	"github.com/rampart-fw/rampart/internal/policy"
)

// RunReload validates the on-disk policy and then signals the running
// daemon to re-apply it. Validating first keeps an obviously broken
// file from even reaching the daemon.
func RunReload(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	doc, err := policy.ParseFile(cfg.PolicyFile)
	if err != nil {
		return err
	}
	if _, verrs := policy.Validate(doc, policy.Options{MaxRules: cfg.MaxRules}); verrs.HasErrors() {
		return fmt.Errorf("policy is invalid, not reloading: %v", verrs)
	}
	fmt.Println("Policy is valid.")

	pid, err := readDaemonPID()
	if err != nil {
		return err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to signal process: %w", err)
	}
	fmt.Printf("Sent SIGHUP to daemon (pid %d).\n", pid)
	return nil
}
