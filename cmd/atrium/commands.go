package main

import (
	"context"
	"fmt"

	"github.com/atrium-cms/atrium/cmd/atrium/cli"
	"github.com/atrium-cms/atrium/internal/app"
)

// runCommand dispatches maintenance subcommands. Without arguments the
// binary runs the HTTP server.
func runCommand(ctx context.Context, cfg *app.Config, args []string) error {
	switch args[0] {
	case "jobs:trigger":
		if len(args) < 2 {
			return fmt.Errorf("usage: jobs:trigger <task-type>")
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", args[1], info.ID, info.Queue)
		return nil
	case "jobs:stats":
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
