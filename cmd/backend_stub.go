//go:build !linux

package cmd

import (
	"fmt"
	"runtime"

	"github.com/rampart-fw/rampart/internal/logging"
	"github.com/rampart-fw/rampart/internal/nft"
)

func openBackend(logger *logging.Logger) (nft.Capability, error) {
	return nil, fmt.Errorf("the filter backend requires Linux, not %s", runtime.GOOS)
}
