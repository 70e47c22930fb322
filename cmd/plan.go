package cmd

import (
	"fmt"
	"os"

	"github.com/pmezard/go-difflib/difflib"
)

// RunPlan shows what applying a policy file would change, without
// touching the kernel.
func RunPlan(policyFile string) error {
	raw, err := os.ReadFile(policyFile)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.Plan(raw, policyFormat(policyFile))
	if err != nil {
		return err
	}
	if !reply.Success {
		return fmt.Errorf("plan failed: %s", reply.Error)
	}

	if len(reply.Add) == 0 && len(reply.Remove) == 0 {
		fmt.Printf("No changes. %d filters already in place.\n", reply.Unchanged)
		return nil
	}

	diff := difflib.UnifiedDiff{
		A:        withNewlines(reply.Remove),
		B:        withNewlines(reply.Add),
		FromFile: "installed",
		ToFile:   "desired",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Errorf("failed to render diff: %w", err)
	}
	fmt.Print(text)
	fmt.Printf("Plan: %d to add, %d to remove, %d unchanged.\n",
		len(reply.Add), len(reply.Remove), reply.Unchanged)
	return nil
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
