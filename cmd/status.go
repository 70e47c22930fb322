package cmd

import (
	"fmt"
)

// RunStatus prints the daemon's state snapshot.
func RunStatus() error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.Status()
	if err != nil {
		return err
	}
	st := reply.Status

	fmt.Printf("Installed filters: %d\n", st.FilterCount)
	if st.CurrentVersion != "" {
		fmt.Printf("Current policy:    %s\n", st.CurrentVersion)
	} else {
		fmt.Println("Current policy:    (none)")
	}
	if st.BaselineVersion != "" {
		fmt.Printf("Baseline (LKG):    %s, saved %s\n", st.BaselineVersion, st.BaselineTime)
	} else {
		fmt.Println("Baseline (LKG):    (none)")
	}
	if st.LastApply != nil {
		r := st.LastApply
		outcome := "ok"
		if !r.Success {
			outcome = "failed: " + r.Error
		}
		fmt.Printf("Last apply:        %s from %s, %s\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.Source, outcome)
	}
	if reply.Reload != nil {
		rs := reply.Reload
		fmt.Printf("Hot reload:        watching %s, %d applies, %d errors\n", rs.Path, rs.Applies, rs.ErrorCount)
		if rs.LastError != "" {
			fmt.Printf("  last error:      %s (%s)\n", rs.LastError, rs.LastErrorAt)
		}
	}
	return nil
}
