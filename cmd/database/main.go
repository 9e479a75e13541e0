package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"graphcomputer/bagel"
	"graphcomputer/database"
	"graphcomputer/util"
)

var (
	storageURL string
	verbose    bool
)

// withStorage opens the storage of --storage for the duration of fn.
func withStorage(ctx context.Context, fn func(bagel.Storage) error) error {
	storage, err := database.Open(ctx, storageURL)
	if err != nil {
		return err
	}
	switch closer := storage.(type) {
	case interface{ Close() error }:
		defer closer.Close()
	case interface{ Close(context.Context) error }:
		defer closer.Close(ctx)
	}
	return fn(storage)
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "load <PATH_TO_GRAPH.txt> <location>",
		Short:   "Parse a tab separated edge list and write it to a location",
		Example: "database load --storage sqlite3://bagel.db data/web.txt web",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := database.ParseEdgeListFile(args[0])
			if err != nil {
				return err
			}
			return withStorage(cmd.Context(), func(storage bagel.Storage) error {
				if err := storage.WriteGraph(cmd.Context(), args[1], g); err != nil {
					return err
				}
				log.Printf("load: wrote %d vertices to %v", g.Count(), args[1])
				return nil
			})
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the locations of the storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), func(storage bagel.Storage) error {
				lister, ok := storage.(database.Lister)
				if !ok {
					return errors.Errorf("%T can not list locations", storage)
				}
				locations, err := lister.Locations(cmd.Context())
				if err != nil {
					return err
				}
				for _, location := range locations {
					fmt.Println(location)
				}
				return nil
			})
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <location>",
		Short: "Print the adjacency list of a stored graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), func(storage bagel.Storage) error {
				g, err := storage.ReadGraph(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				adjacency := database.Adjacency(g)
				ids := make([]uint64, 0, len(adjacency))
				for id := range adjacency {
					ids = append(ids, id)
				}
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
				for _, id := range ids {
					fmt.Printf("%d\t%v\n", id, adjacency[id])
				}
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <location>",
		Short: "Delete a location with its graph and memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), func(storage bagel.Storage) error {
				return storage.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the DynamoDB table of the storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), func(storage bagel.Storage) error {
				dynamo, ok := storage.(*database.DynamoStorage)
				if !ok {
					log.Printf("init: %T creates its tables when opened", storage)
					return nil
				}
				return dynamo.CreateTable(cmd.Context())
			})
		},
	}
}

func newPartitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "partition <location> <numPartitions>",
		Short: "Precompute the partition field of a MongoDB graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return errors.Errorf("invalid number of partitions %q", args[1])
			}
			return withStorage(cmd.Context(), func(storage bagel.Storage) error {
				mongo, ok := storage.(*database.MongoStorage)
				if !ok {
					return errors.Errorf("%T partitions on read", storage)
				}
				return mongo.PartitionGraph(cmd.Context(), args[0], n)
			})
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "database",
		Short:         "Load and manage graphs in a storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.LoadEnv()
			return util.SetupLogging(util.LogConfig{Name: "database", Verbose: verbose})
		},
	}
	rootCmd.PersistentFlags().StringVar(&storageURL, "storage", util.Getenv("BAGEL_STORAGE", "sqlite3://bagel.db"), "storage url")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.AddCommand(
		newLoadCmd(),
		newListCmd(),
		newShowCmd(),
		newDeleteCmd(),
		newInitCmd(),
		newPartitionCmd(),
	)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Errorf("database: %v", err)
		os.Exit(1)
	}
}
