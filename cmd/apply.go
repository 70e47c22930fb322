package cmd

import (
	"fmt"
	"os"
)

// RunApply sends a policy file to the daemon for validation and apply.
func RunApply(policyFile string) error {
	raw, err := os.ReadFile(policyFile)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.Apply(raw, policyFormat(policyFile))
	if err != nil {
		return err
	}
	printReport(reply.Report)
	if !reply.Success {
		return fmt.Errorf("apply rejected: %s", reply.Error)
	}
	return nil
}
