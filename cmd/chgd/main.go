package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/chgd/pkg/client"
	"github.com/charlie0129/chgd/pkg/version"
)

var (
	logLevel       = "info"
	unixSocketPath = "/run/chgd.sock"
	configPath     = "/etc/chgd.json"

	apiClient *client.Client
)

var (
	gBasic        = "Basic:"
	gEvents       = "Charger events:"
	gCISD         = "Statistics:"
	gAdvanced     = "Advanced:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gBasic,
		gEvents,
		gCISD,
		gAdvanced,
		gInstallation,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: chgd daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Have you installed it?")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or reinstall the daemon with the '--allow-non-root-access' flag to grant permissions to your user")
	}
}

func main() {
	// chgd does not need many CPUs.
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(2)
	}

	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chgd",
		Short: "chgd controls battery charging behind an I2C fuel gauge and charger",
		Long: `chgd controls battery charging behind an I2C fuel gauge and charger IC.

It runs as a daemon that watches the battery, applies the protection rules and
keeps the battery statistics ledger. The same binary is the client.

Website: https://github.com/charlie0129/chgd
Report issues: https://github.com/charlie0129/chgd/issues`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			// The daemon and version commands do not talk to a daemon.
			if cmd.Name() == "daemon" || cmd.Name() == "version" || cmd.GroupID == gInstallation {
				return nil
			}

			if daemonVersion, err := apiClient.GetVersion(); err == nil {
				if daemonVersion != version.Version {
					logrus.WithFields(logrus.Fields{
						"clientVersion": version.Version,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. Reinstall chgd so both are the same version.")
				}
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "chgd daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewCableCommand(),
		NewPadCommand(),
		NewSIOPCommand(),
		NewSessionCommand(),
		NewEventsCommand(),
		NewLoopsCommand(),
		NewCISDCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
