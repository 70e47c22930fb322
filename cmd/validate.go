package cmd

import (
	"fmt"

	"github.com/rampart-fw/rampart/internal/policy"
)

// RunValidate checks a policy file locally. It does not need the
// daemon, so it works on hosts where the daemon is not running.
func RunValidate(policyFile string) error {
	doc, err := policy.ParseFile(policyFile)
	if err != nil {
		return err
	}
	p, verrs := policy.Validate(doc, policy.Options{})
	if verrs.HasErrors() {
		for _, v := range verrs {
			fmt.Printf("  %s: %s\n", v.Field, v.Message)
		}
		return fmt.Errorf("policy is invalid (%d problems)", len(verrs))
	}
	fmt.Printf("Policy %q is valid: %d rules, default action %s.\n",
		p.Version, len(p.Rules), p.DefaultAction)
	return nil
}
