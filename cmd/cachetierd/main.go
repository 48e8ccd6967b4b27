package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cachetier "github.com/hostdash/cachetier"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "cachetierd",
		Short: "Resilient cache tier for the host dashboard",
		Long: "cachetierd owns the dashboard's Redis connection: typed cache facade,\n" +
			"bounded retries, keyspace janitor and store statistics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "path to the service config file")

	root.AddCommand(sweepCommand())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	service, err := cachetier.New(ctx, configPath)
	if err != nil {
		return err
	}

	if err := service.Start(); err != nil {
		return err
	}

	<-ctx.Done()

	return service.Stop()
}

// sweepCommand runs one janitor pass and exits, for operators who want to
// reclaim orphaned keys outside the schedule.
func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single keyspace sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			service, err := cachetier.New(ctx, configPath)
			if err != nil {
				return err
			}
			if err := service.Start(); err != nil {
				return err
			}
			defer func() { _ = service.Stop() }()

			result, err := service.Sweep(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("scanned %d keys, deleted %d orphans in %s\n",
				result.Scanned, result.Deleted, result.Duration)
			return nil
		},
	}
}
