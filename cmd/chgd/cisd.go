package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/chgd/pkg/client"
)

func NewCISDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cisd",
		Short:   "Inspect and restore battery statistics",
		GroupID: gCISD,
		Long: `Inspect and restore the battery statistics ledger (CISD).

Every section prints in its space separated text encoding by default, or as a
JSON object with --json. The text encoding of the data, wc and power sections
can be written back with "chgd cisd restore".`,
	}

	cmd.AddCommand(
		newCISDSectionCommand(client.SectionData, "Lifetime and per-day battery counters"),
		newCISDSectionCommand(client.SectionPads, "Authenticated wireless pads"),
		newCISDSectionCommand(client.SectionPower, "Charging power histogram"),
		newCISDSectionCommand(client.SectionCable, "Cable attach counters"),
		newCISDSectionCommand(client.SectionTX, "Wireless power sharing counters"),
		newCISDSectionCommand(client.SectionEvent, "Charger protocol event counters"),
		newCISDDailyCommand(),
		newCISDGetCommand(),
		newCISDRestoreCommand(),
		newCISDCountCommand(),
		newCISDResetCommand(),
	)

	return cmd
}

func newCISDSectionCommand(section, short string) *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:   section,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ret, err := apiClient.GetCISD(section, asJSON)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd, ret)
			}
			cmd.Println(ret)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as a JSON object")

	return cmd
}

func newCISDDailyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Per-day battery counters",
		Long:  `Print the per-day battery counters as a JSON object. They are cleared every day.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ret, err := apiClient.GetCISDPerDay()
			if err != nil {
				return err
			}
			return printJSON(cmd, ret)
		},
	}
}

func newCISDGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [field]",
		Short: "Print a single battery counter",
		Long: `Print a single battery counter by its name, e.g. VBAT_OVP or FULL_CNT_D.

"chgd cisd data --json" lists every name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := apiClient.GetCISDField(args[0])
			if err != nil {
				return err
			}
			cmd.Println(v)
			return nil
		},
	}
}

func newCISDRestoreCommand() *cobra.Command {
	file := ""

	cmd := &cobra.Command{
		Use:   "restore [data|wc|power] [text]",
		Short: "Restore a section from its text encoding",
		Long: `Restore a section from its text encoding.

The text is taken from the second argument, or from --file ("-" for stdin).
If the text is malformed the daemon resets the section to its defaults and
reports an error.`,
		Args: cobra.RangeArgs(1, 2),
		ValidArgs: []string{
			client.SectionData,
			client.SectionPads,
			client.SectionPower,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			section := args[0]
			switch section {
			case client.SectionData, client.SectionPads, client.SectionPower:
			default:
				return fmt.Errorf("section %q cannot be restored", section)
			}

			var text string
			switch {
			case len(args) == 2:
				text = args[1]
			case file != "":
				b, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				text = strings.TrimSpace(string(b))
			default:
				return fmt.Errorf("no text given: pass it as an argument or with --file")
			}

			ret, err := apiClient.SetCISD(section, text)
			if err != nil {
				return fmt.Errorf("failed to restore %s: %v", section, err)
			}

			logrus.Infof("daemon responded: %s", ret)

			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the text from a file")

	return cmd
}

func newCISDCountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "count [tx|event] [counter]",
		Short: "Bump a wireless power sharing or protocol event counter",
		Long: `Bump a wireless power sharing or protocol event counter.

Wireless power sharing counters: on, other, gear, phone, buds.
Protocol event counters: dc-err, ta-ocp-det, ta-ocp-on.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			section := args[0]
			if section != client.SectionTX && section != client.SectionEvent {
				return fmt.Errorf("unknown counter section %q", section)
			}

			ret, err := apiClient.CountCISD(section, args[1])
			if err != nil {
				return fmt.Errorf("failed to count %s: %v", args[1], err)
			}

			logrus.Infof("daemon responded: %s", ret)

			return nil
		},
	}
}

func newCISDResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset all statistics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.ResetCISD()
			if err != nil {
				return fmt.Errorf("failed to reset statistics: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully reset battery statistics")

			return nil
		},
	}
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(file)
}

func printJSON(cmd *cobra.Command, s string) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", "  "); err != nil {
		return fmt.Errorf("unexpected response: %v", err)
	}
	cmd.Println(buf.String())
	return nil
}
