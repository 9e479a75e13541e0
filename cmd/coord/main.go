package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"graphcomputer/bagel"
	"graphcomputer/database"
	_ "graphcomputer/programs"
	"graphcomputer/server"
	"graphcomputer/util"
)

func main() {
	var configPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:           "coord",
		Short:         "Serve the graph computer query API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			util.LoadEnv()
			config := server.CoordConfig{
				ClientAPIListenAddr:   ":9090",
				ExternalAPIListenAddr: ":8080",
				Storage:               "sqlite3://bagel.db",
			}
			if err := util.ReadConfig(configPath, &config); err != nil {
				return err
			}
			if err := util.SetupLogging(util.LogConfig{
				Name:    "coord",
				Dir:     config.LogDir,
				Verbose: config.Verbose || verbose,
			}); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			storage, err := database.Open(ctx, config.Storage)
			if err != nil {
				return err
			}
			if closer, ok := storage.(interface{ Close() error }); ok {
				defer closer.Close()
			}
			defer bagel.CloseContext()

			coord := server.NewCoord(storage)
			return coord.Start(ctx, config)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config/coord_config.json", "coord config file (json or yaml)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	err := cmd.Execute()
	util.CheckErr(err, "coord: %v\n", err)
}
