package cmd

import (
	"encoding/json"
	"fmt"
	"os"
)

// RunLKG handles the lkg subcommands: show and revert.
func RunLKG(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: lkg <show|revert>")
	}

	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	switch args[0] {
	case "show":
		reply, err := client.LKGShow()
		if err != nil {
			return err
		}
		if !reply.Success {
			return fmt.Errorf("%s", reply.Error)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply.Record)

	case "revert":
		reply, err := client.LKGRevert()
		if err != nil {
			return err
		}
		printReport(reply.Report)
		if !reply.Success {
			return fmt.Errorf("revert failed: %s", reply.Error)
		}
		fmt.Println("Baseline re-applied.")
		return nil

	default:
		return fmt.Errorf("unknown lkg subcommand %q (want show or revert)", args[0])
	}
}
