package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/chgd/pkg/events"
)

func NewEventsCommand() *cobra.Command {
	var (
		raw   bool
		names []string
	)

	cmd := &cobra.Command{
		Use:     "events",
		Short:   "Watch daemon events",
		GroupID: gAdvanced,
		Long: `Watch status, health, cable and abnormal events published by the daemon.

Press Ctrl-C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return apiClient.WatchEvents(ctx, func(ev events.Event) error {
				if raw {
					cmd.Printf("%s %s\n", ev.Name, ev.Data)
					return nil
				}
				line, err := formatEvent(ev)
				if err != nil {
					return err
				}
				cmd.Println(line)
				return nil
			}, names...)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print event payloads as JSON")
	cmd.Flags().StringSliceVarP(&names, "event", "e", nil, "Only watch the named events, e.g. battery.cable. May be repeated.")

	return cmd
}

func formatEvent(ev events.Event) (string, error) {
	name := color.New(color.Bold, color.FgCyan).Sprint(ev.Name)

	switch ev.Name {
	case events.StatusChanged, events.HealthChanged:
		p, err := events.DecodeAs[events.TransitionEvent](ev)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s -> %s", eventTime(p.Ts), name, p.From, bold("%s", p.To)), nil
	case events.CableChanged:
		p, err := events.DecodeAs[events.CableEvent](ev)
		if err != nil {
			return "", err
		}
		action := "detached"
		if p.Attached {
			action = "attached"
		}
		s := fmt.Sprintf("%s %s %s %s", eventTime(p.Ts), name, bold("%s", p.Cable), action)
		if p.Power > 0 {
			s += fmt.Sprintf(" (%.1f W)", float64(p.Power)/1000)
		}
		return s, nil
	case events.Abnormal:
		p, err := events.DecodeAs[events.AbnormalEvent](ev)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", eventTime(p.Ts), name, color.New(color.Bold, color.FgRed).Sprint(p.Tag)), nil
	case events.SessionStarted:
		p, err := events.DecodeAs[events.SessionEvent](ev)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", eventTime(p.Ts), name, p.ID), nil
	}

	return fmt.Sprintf("%s %s", name, ev.Data), nil
}

func eventTime(ts int64) string {
	return time.Unix(ts, 0).Format(time.TimeOnly)
}
