package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ruteri/keybox-sentinel/api/clients"
	"github.com/ruteri/keybox-sentinel/cmd/flags"
	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/urfave/cli/v2"
)

var flagTimeout = &cli.DurationFlag{
	Name:    "timeout",
	Value:   3 * time.Minute,
	Usage:   "request timeout; a manual check may wait for a running one",
	EnvVars: []string{"KEYBOX_CLIENT_TIMEOUT"},
}

var flagNoWait = &cli.BoolFlag{
	Name:  "no-wait",
	Usage: "fail instead of waiting when a check is already running",
}

func newClient(cCtx *cli.Context) *clients.Client {
	return clients.NewClient(cCtx.String(flags.ServerAddrFlag.Name), cCtx.Duration(flagTimeout.Name))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := &cli.App{
		Name:  "keyboxctl",
		Usage: "Control a running keyboxd",
		Flags: []cli.Flag{
			flags.ServerAddrFlag,
			flagTimeout,
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show the last check result and the next scheduled check",
				Action: func(cCtx *cli.Context) error {
					status, err := newClient(cCtx).Status(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "check",
				Usage: "run a check now",
				Flags: []cli.Flag{flagNoWait},
				Action: func(cCtx *cli.Context) error {
					result, err := newClient(cCtx).Check(cCtx.Context, !cCtx.Bool(flagNoWait.Name))
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:  "enable",
				Usage: "enable automatic checks",
				Action: func(cCtx *cli.Context) error {
					s, err := newClient(cCtx).SetEnabled(cCtx.Context, true)
					if err != nil {
						return err
					}
					return printJSON(s)
				},
			},
			{
				Name:  "disable",
				Usage: "disable automatic checks",
				Action: func(cCtx *cli.Context) error {
					s, err := newClient(cCtx).SetEnabled(cCtx.Context, false)
					if err != nil {
						return err
					}
					return printJSON(s)
				},
			},
			{
				Name:  "settings",
				Usage: "show or change the check schedule",
				Subcommands: []*cli.Command{
					{
						Name:  "get",
						Usage: "show the current settings",
						Action: func(cCtx *cli.Context) error {
							s, err := newClient(cCtx).Settings(cCtx.Context)
							if err != nil {
								return err
							}
							return printJSON(s)
						},
					},
					{
						Name:  "set",
						Usage: "change the schedule; unset flags keep their current value",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "healthy-interval", Usage: "interval after a healthy check, e.g. 60m"},
							&cli.StringFlag{Name: "revoked-interval", Usage: "interval after a revoked check, e.g. 5m"},
							&cli.StringFlag{Name: "network", Usage: "required network: any, unmetered, not_roaming or metered"},
							&cli.BoolFlag{Name: "require-charging", Usage: "only check while charging"},
							&cli.BoolFlag{Name: "require-idle", Usage: "only check while idle"},
							&cli.BoolFlag{Name: "require-battery-not-low", Usage: "only check while the battery is not low"},
						},
						Action: func(cCtx *cli.Context) error {
							client := newClient(cCtx)
							current, err := client.Settings(cCtx.Context)
							if err != nil {
								return err
							}

							schedule := current.Schedule
							if cCtx.IsSet("healthy-interval") {
								schedule.HealthyInterval = cCtx.String("healthy-interval")
							}
							if cCtx.IsSet("revoked-interval") {
								schedule.RevokedInterval = cCtx.String("revoked-interval")
							}
							if cCtx.IsSet("network") {
								schedule.Constraints.Network = interfaces.NetworkClass(cCtx.String("network"))
							}
							if cCtx.IsSet("require-charging") {
								schedule.Constraints.RequireCharging = cCtx.Bool("require-charging")
							}
							if cCtx.IsSet("require-idle") {
								schedule.Constraints.RequireIdle = cCtx.Bool("require-idle")
							}
							if cCtx.IsSet("require-battery-not-low") {
								schedule.Constraints.RequireBatteryNotLow = cCtx.Bool("require-battery-not-low")
							}

							if _, err := schedule.Config(); err != nil {
								return fmt.Errorf("invalid schedule: %w", err)
							}

							updated, err := client.UpdateSchedule(cCtx.Context, schedule)
							if err != nil {
								return err
							}
							return printJSON(updated)
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
