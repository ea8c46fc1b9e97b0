package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/chgd/pkg/types"
)

func NewCableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cable",
		Short:   "Report cable attach and detach events",
		GroupID: gEvents,
		Long: `Report cable attach and detach events to the daemon.

These are normally sent by the platform's cable detection. They are useful
for testing a setup without a real charger notifier.`,
	}

	cmd.AddCommand(
		newCableAttachCommand(),
		newCableDetachCommand(),
	)

	return cmd
}

func newCableAttachCommand() *cobra.Command {
	var (
		info types.CableInfo
		pdos []string
	)

	cmd := &cobra.Command{
		Use:   "attach [cable-type]",
		Short: "Attach a power source",
		Long: fmt.Sprintf(`Attach a power source.

Wireless cable types go to the wireless slot, everything else to the wired
slot.

Available cable types: %s`, strings.Join(cableTypeNames(), ", ")),
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cableType, err := types.ParseCableType(args[0])
			if err != nil {
				return err
			}
			info.CableType = cableType

			for _, s := range pdos {
				pdo, err := parsePDO(s)
				if err != nil {
					return err
				}
				info.PDOs = append(info.PDOs, pdo)
			}

			if err := info.Validate(); err != nil {
				return err
			}

			ret, err := apiClient.AttachCable(info)
			if err != nil {
				return fmt.Errorf("failed to attach cable: %v", err)
			}

			logrus.Infof("daemon responded: %s", ret)

			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&info.InputCurrent, "input-current", 0, "Input current the source can provide, in mA")
	f.IntVar(&info.ChargingCurrent, "charging-current", 0, "Charging current the source allows, in mA")
	f.IntVar(&info.InputVoltage, "input-voltage", 0, "Negotiated input voltage, in mV")
	f.IntVar(&info.MaxChargePower, "max-power", 0, "Maximum source power, in mW")
	f.StringSliceVar(&pdos, "pdo", nil, "USB PD power data object as VOLTAGE:CURRENT in mV and mA. May be repeated.")
	f.IntVar(&info.SelectedPDO, "selected-pdo", 0, "1-based position of the selected PDO")

	return cmd
}

func newCableDetachCommand() *cobra.Command {
	wireless := false

	cmd := &cobra.Command{
		Use:   "detach",
		Short: "Detach a power source",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.DetachCable(wireless)
			if err != nil {
				return fmt.Errorf("failed to detach cable: %v", err)
			}

			logrus.Infof("daemon responded: %s", ret)

			return nil
		},
	}

	cmd.Flags().BoolVar(&wireless, "wireless", false, "Detach the wireless slot instead of the wired one")

	return cmd
}

func NewPadCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "pad [id]",
		Short:   "Report an authenticated wireless pad",
		GroupID: gEvents,
		Long: `Report that a wireless charging pad was authenticated.

The pad id is counted in the statistics ledger. It may be given in decimal or
hex, e.g. 0x14.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseIntArg(args, "pad id")
			if err != nil {
				return err
			}

			ret, err := apiClient.AuthenticatePad(id)
			if err != nil {
				return fmt.Errorf("failed to report pad: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			return nil
		},
	}
}

// parsePDO parses VOLTAGE:CURRENT.
func parsePDO(s string) (types.PDO, error) {
	v, c, ok := strings.Cut(s, ":")
	if !ok {
		return types.PDO{}, fmt.Errorf("invalid pdo %q: want VOLTAGE:CURRENT", s)
	}

	voltage, err := strconv.Atoi(v)
	if err != nil {
		return types.PDO{}, fmt.Errorf("invalid pdo voltage %q: %v", v, err)
	}
	current, err := strconv.Atoi(c)
	if err != nil {
		return types.PDO{}, fmt.Errorf("invalid pdo current %q: %v", c, err)
	}

	return types.PDO{Voltage: voltage, Current: current}, nil
}

func cableTypeNames() []string {
	var names []string
	for _, c := range types.CableTypes() {
		names = append(names, c.String())
	}
	return names
}
