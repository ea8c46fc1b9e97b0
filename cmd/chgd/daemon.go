package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/chgd/pkg/daemon"
	"github.com/charlie0129/chgd/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the chgd daemon.
	alwaysAllowNonRootAccess = false
	// ledgerPath overrides where the battery statistics ledger is persisted.
	ledgerPath = ""
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Hidden:  true,
		Short:   "Run chgd daemon in the foreground",
		GroupID: gAdvanced,
		Long: `Run chgd daemon in the foreground.

The daemon drives the charger from fuel gauge readings and persists the
battery statistics ledger. It is normally started by the systemd unit that
"chgd install" writes.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version":    version.Version,
				"commit":     version.GitCommit,
				"ledgerPath": ledgerPath,
			}).Info("chgd daemon starting")
			return daemon.Run(configPath, unixSocketPath, ledgerPath, alwaysAllowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.StringVar(&ledgerPath, "ledger-path", "",
		"Persist battery statistics to this file instead of the configured ledgerPath.")

	return cmd
}
