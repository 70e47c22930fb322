//go:build linux

package cmd

import (
	"github.com/rampart-fw/rampart/internal/logging"
	"github.com/rampart-fw/rampart/internal/nft"
)

func openBackend(logger *logging.Logger) (nft.Capability, error) {
	return nft.NewBackend(logger), nil
}
