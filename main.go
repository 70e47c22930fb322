package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rampart-fw/rampart/cmd"
	"github.com/rampart-fw/rampart/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", brand.DefaultConfigPath(), "Configuration file")
		startFlags.StringVar(configFile, "c", brand.DefaultConfigPath(), "Configuration file (short)")
		startFlags.Parse(os.Args[2:])
		err = cmd.RunStart(*configFile)

	case "apply":
		applyFlags := flag.NewFlagSet("apply", flag.ExitOnError)
		applyFlags.Parse(os.Args[2:])
		if applyFlags.NArg() != 1 {
			err = fmt.Errorf("usage: %s apply <policy-file>", brand.LowerName)
			break
		}
		err = cmd.RunApply(applyFlags.Arg(0))

	case "plan":
		planFlags := flag.NewFlagSet("plan", flag.ExitOnError)
		planFlags.Parse(os.Args[2:])
		if planFlags.NArg() != 1 {
			err = fmt.Errorf("usage: %s plan <policy-file>", brand.LowerName)
			break
		}
		err = cmd.RunPlan(planFlags.Arg(0))

	case "validate":
		validateFlags := flag.NewFlagSet("validate", flag.ExitOnError)
		validateFlags.Parse(os.Args[2:])
		if validateFlags.NArg() != 1 {
			err = fmt.Errorf("usage: %s validate <policy-file>", brand.LowerName)
			break
		}
		err = cmd.RunValidate(validateFlags.Arg(0))

	case "status":
		err = cmd.RunStatus()

	case "rollback":
		rollbackFlags := flag.NewFlagSet("rollback", flag.ExitOnError)
		yes := rollbackFlags.Bool("yes", false, "Skip confirmation")
		rollbackFlags.BoolVar(yes, "y", false, "Skip confirmation (short)")
		rollbackFlags.Parse(os.Args[2:])
		err = cmd.RunRollback(*yes)

	case "lkg":
		err = cmd.RunLKG(os.Args[2:])

	case "reload":
		reloadFlags := flag.NewFlagSet("reload", flag.ExitOnError)
		configFile := reloadFlags.String("config", brand.DefaultConfigPath(), "Configuration file")
		reloadFlags.Parse(os.Args[2:])
		err = cmd.RunReload(*configFile)

	case "version":
		fmt.Printf("%s %s\n", brand.Name, brand.VersionString())

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - host traffic policy enforcement

Usage: %s <command> [options]

Commands:
  start       Run the enforcement daemon in the foreground
  apply       Validate and apply a policy file via the daemon
  plan        Show what applying a policy file would change
  validate    Check a policy file locally, without the daemon
  status      Show daemon and policy state
  rollback    Remove all installed filters (disables enforcement)
  lkg         Baseline management: lkg show | lkg revert
  reload      Validate the policy file and signal the daemon to re-apply it
  version     Print version information

Options:
  start   -config <file>   Configuration file (default %s)
  reload  -config <file>   Configuration file
  rollback -yes            Skip the confirmation prompt
`, brand.Name, brand.LowerName, brand.DefaultConfigPath())
}
