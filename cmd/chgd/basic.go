package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/chgd/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewSIOPCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "siop [level]",
		Short:   "Set the thermal throttling level",
		GroupID: gBasic,
		Long: `Set the thermal throttling level (SIOP).

This is a percentage from 0 to 100. 100 means no throttling. Lower levels cap
the input and charging currents. Levels below 80 disable the high-voltage
input of fast chargers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			level, err := parseIntArg(args, "level")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetSIOPLevel(level)
			if err != nil {
				return fmt.Errorf("failed to set siop level: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set siop level to %d%%", level)

			return nil
		},
	}
}

func NewSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "session",
		Short:   "Start a new charge session",
		GroupID: gBasic,
		Long: `Start a new charge session.

This clears the safety timer expiry and the latched protection state, so the
battery may charge again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := apiClient.NewSession()
			if err != nil {
				return fmt.Errorf("failed to start a new session: %v", err)
			}

			logrus.Infof("new charge session started")
			cmd.Println(id)

			return nil
		},
	}
}

func NewLoopsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "loops",
		Short:   "Show recent monitor loop times",
		GroupID: gAdvanced,
		Long: `Show when the daemon ran its recent monitor loops.

Large gaps usually mean the system was suspended.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loops, err := apiClient.GetLoops()
			if err != nil {
				return err
			}

			for _, l := range loops {
				cmd.Println(l)
			}

			return nil
		},
	}
}
