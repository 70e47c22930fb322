package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// RunRollback removes every filter the daemon owns, leaving the host
// with no enforcement.
func RunRollback(confirmed bool) error {
	if !confirmed {
		fmt.Print("Remove ALL installed filters and disable enforcement? [y/N]: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(line)) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.Rollback()
	if err != nil {
		return err
	}
	printReport(reply.Report)
	if !reply.Success {
		return fmt.Errorf("rollback failed: %s", reply.Error)
	}
	fmt.Println("All filters removed.")
	return nil
}
