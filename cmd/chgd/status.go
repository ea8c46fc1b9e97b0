package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/chgd/pkg/battery"
	"github.com/charlie0129/chgd/pkg/config"
	"github.com/charlie0129/chgd/pkg/types"
)

type statusData struct {
	State  *battery.State         `json:"state"`
	Config *config.RawFileConfig `json:"config"`
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get battery status: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{State: st, Config: conf}, nil
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of chgd",
		Long:    `Get the charging status, battery telemetry and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(data, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			printStatus(cmd, data.State, config.NewFileFromConfig(data.Config, ""))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, st *battery.State, conf *config.File) {
	tel := st.Telemetry

	cmd.Println(bold("Charging status:"))
	cmd.Printf("  Status: %s\n", statusText(st.Status))
	cmd.Printf("  Health: %s\n", healthText(st.Health))
	cmd.Printf("  Charger mode: %s\n", bold("%s", st.ChargeMode))
	if st.Swelling != types.SwellingNone {
		cmd.Printf("  Swelling protection: %s\n", color.New(color.Bold, color.FgYellow).Sprint(st.Swelling))
	}
	if st.Protection != 0 {
		cmd.Printf("  Protection latched: %s\n", color.New(color.Bold, color.FgRed).Sprint(st.Protection))
	}
	if st.USBOverheat {
		cmd.Printf("  USB connector overheat: %s\n", bool2Text(false))
	}
	if st.ChargingSince != nil {
		cmd.Printf("  Charging since: %s\n", bold("%s", humanize.Time(*st.ChargingSince)))
	}
	cmd.Printf("  Recharging: %s\n", bool2Text(st.Recharging))
	cmd.Printf("  Session: %s\n", st.SessionID)

	cmd.Println()

	cmd.Println(bold("Power source:"))
	printCable(cmd, "Wired", st.MainCable)
	printCable(cmd, "Wireless", st.SubCable)
	cmd.Printf("  Input current limit: %s\n", bold("%d mA", st.Currents.InputCurrentLimit))
	cmd.Printf("  Charging current: %s\n", bold("%d mA", st.Currents.FastChargingCurrent))
	cmd.Printf("  Topoff current: %s\n", bold("%d mA", st.Currents.TopoffCurrent))
	cmd.Printf("  SIOP level: %s\n", bold("%d%%", st.SIOPLevel))

	cmd.Println()

	cmd.Println(bold("Battery status:"))
	cmd.Printf("  Current charge: %s\n", bold("%d%%", tel.Capacity))
	cmd.Printf("  Voltage: %s (avg %d mV, ocv %d mV)\n", bold("%d mV", tel.VoltageNow), tel.VoltageAvg, tel.VoltageOCV)

	var current string
	switch {
	case tel.CurrentNow > 0:
		current = color.New(color.Bold, color.FgGreen).Sprintf("%+d mA", tel.CurrentNow)
	case tel.CurrentNow < 0:
		current = color.New(color.Bold, color.FgRed).Sprintf("%+d mA", tel.CurrentNow)
	default:
		current = bold("%+d mA", tel.CurrentNow)
	}
	cmd.Printf("  Current: %s\n", current)
	cmd.Printf("  Temperature: %s (charger %s, coil %s, usb %s)\n",
		bold("%s", celsius(tel.Temperature)), celsius(tel.ChgTemp), celsius(tel.WpcTemp), celsius(tel.UsbTemp))
	if !st.LastCheck.IsZero() {
		cmd.Printf("  Last check: %s\n", humanize.Time(st.LastCheck))
	}

	cmd.Println()

	cmd.Println(bold("Configuration:"))
	cmd.Printf("  Driver: %s\n", conf.Driver())
	cmd.Printf("  Full voltage: %s, recharge below %s\n", bold("%d mV", conf.FullVoltageThreshold()), bold("%d mV", conf.RechargeVoltageThreshold()))
	cmd.Printf("  Over-voltage threshold: %s\n", bold("%d mV", conf.MaxVoltageThreshold()))
	cmd.Printf("  Overheat at: %s, cold at: %s\n", bold("%s", celsius(conf.TempHighThreshold())), bold("%s", celsius(conf.TempLowThreshold())))
	cmd.Printf("  Swelling protection: %s\n", bool2Text(conf.SwellingEnabled()))
	cmd.Printf("  Safety timer: %s (recharge %s)\n", conf.SafetyTimer(), conf.RechargeSafetyTimer())
	cmd.Printf("  Report abnormal events: %s\n", bool2Text(conf.ReportAbnormalEvents()))
	cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
}

func printCable(cmd *cobra.Command, slot string, c types.CableInfo) {
	if c.CableType == types.CableNone {
		cmd.Printf("  %s: %s\n", slot, "none")
		return
	}

	s := bold("%s", c.CableType)
	if p := c.AvailablePower(); p > 0 {
		s += fmt.Sprintf(" (%.1f W)", float64(p)/1000)
	}
	if !c.CableType.IsChargeable() {
		s += " " + color.YellowString("not chargeable")
	}
	cmd.Printf("  %s: %s\n", slot, s)
}

func statusText(s types.Status) string {
	switch s {
	case types.StatusCharging:
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	case types.StatusNotCharging:
		return color.New(color.Bold, color.FgRed).Sprint(s)
	case types.StatusFull:
		return color.New(color.Bold, color.FgCyan).Sprint(s)
	}
	return bold("%s", s)
}

func healthText(h types.Health) string {
	if h == types.HealthGood {
		return color.New(color.Bold, color.FgGreen).Sprint(h)
	}
	return color.New(color.Bold, color.FgRed).Sprint(h)
}

// celsius formats a 0.1 C reading.
func celsius(t int) string {
	return fmt.Sprintf("%.1f°C", float64(t)/10)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
