package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"graphcomputer/bagel"
	"graphcomputer/database"
	"graphcomputer/graph"
	"graphcomputer/programs"
	"graphcomputer/server"
	"graphcomputer/util"
)

type clientOpts struct {
	configPath string
	coordAddr  string
	input      string
	output     string
	workers    int
	timeout    time.Duration
	save       string
	verbose    bool
}

var opts clientOpts

func newClient() (*server.GraphClient, error) {
	config := server.ClientConfig{ClientId: "client", CoordAddr: "localhost:8080"}
	if _, err := os.Stat(opts.configPath); err == nil {
		if err := util.ReadConfig(opts.configPath, &config); err != nil {
			return nil, err
		}
	}
	if opts.coordAddr != "" {
		config.CoordAddr = opts.coordAddr
	}
	log.Printf("newClient: using coord at %v", config.CoordAddr)
	return server.NewClient(config), nil
}

func parseVertexId(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, errors.Errorf("provided vertex %q could not be converted to integer", arg)
	}
	return id, nil
}

// configure applies the shared flags to a query.
func configure(q bagel.Query) bagel.Query {
	if opts.input != "" {
		q.Config[bagel.INPUT_LOCATION] = opts.input
	}
	if opts.output != "" {
		q.Config[bagel.OUTPUT_LOCATION] = opts.output
	}
	if opts.workers > 0 {
		q.Config[bagel.WORKERS] = opts.workers
	}
	return q
}

func printJSON(value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// submitAndWait sends q to the coord and prints memoryKey of the result,
// narrowed to vertex when it is not nil.
func submitAndWait(q bagel.Query, memoryKey string, vertex *uint64) error {
	if opts.save != "" {
		log.Printf("submitAndWait: saving query to %v", opts.save)
		return util.WriteJSONConfig(opts.save, configure(q))
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	id, err := client.SendQuery(ctx, configure(q))
	if err != nil {
		return err
	}
	status, err := client.WaitForResult(ctx, id, 500*time.Millisecond, false)
	if err != nil {
		return err
	}
	if status.State != server.DONE {
		return errors.Errorf("query %v %s: %s", id, status.State, status.Error)
	}
	value, ok := status.Memory[memoryKey]
	if !ok {
		return errors.Errorf("query %v did not produce %s", id, memoryKey)
	}
	if vertex != nil {
		values, _ := value.(map[string]interface{})
		value, ok = values[strconv.FormatUint(*vertex, 10)]
		if !ok {
			return errors.Errorf("vertex %v has no %s", *vertex, memoryKey)
		}
	}
	log.Printf("submitAndWait: query %v finished in %vms", id, status.RuntimeMillis)
	return printJSON(value)
}

func newPageRankCmd() *cobra.Command {
	var iterations int
	cmd := &cobra.Command{
		Use:     "pagerank <vertexId>",
		Short:   "Compute page ranks and print the rank of one vertex",
		Example: "client pagerank 11",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseVertexId(args[0])
			if err != nil {
				return err
			}
			q := bagel.NewQuery("", programs.NewPageRank(iterations), programs.NewPropertyMapReduce(programs.RANK))
			return submitAndWait(q, programs.RANK, &id)
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 30, "maximum number of supersteps")
	return cmd
}

func newShortestPathCmd() *cobra.Command {
	var weightKey string
	cmd := &cobra.Command{
		Use:     "shortestpath <source> <destination>",
		Short:   "Compute the shortest path length between two vertices",
		Example: "client shortestpath 11 54",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := parseVertexId(args[0])
			if err != nil {
				return err
			}
			destination, err := parseVertexId(args[1])
			if err != nil {
				return err
			}
			program := programs.NewShortestPath(source, destination)
			program.WeightKey = weightKey
			return submitAndWait(bagel.NewQuery("", program), programs.DESTINATION_LENGTH, nil)
		},
	}
	cmd.Flags().StringVar(&weightKey, "weight", "", "edge property holding the edge weight")
	return cmd
}

func newReachabilityCmd() *cobra.Command {
	var hops int
	var direction string
	cmd := &cobra.Command{
		Use:   "reachability <source>",
		Short: "Print the hop distance of every vertex reachable from source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := parseVertexId(args[0])
			if err != nil {
				return err
			}
			d, err := graph.ParseDirection(direction)
			if err != nil {
				return err
			}
			q := bagel.NewQuery("",
				programs.NewReachability(source, hops, d),
				programs.NewPropertyMapReduce(programs.DISTANCE),
			)
			return submitAndWait(q, programs.DISTANCE, nil)
		},
	}
	cmd.Flags().IntVar(&hops, "hops", 3, "maximum number of hops")
	cmd.Flags().StringVar(&direction, "direction", "OUT", "edge direction: OUT, IN or BOTH")
	return cmd
}

func readQuery(path string) (bagel.Query, error) {
	var q bagel.Query
	if err := util.ReadConfig(path, &q); err != nil {
		return q, err
	}
	if q.Config == nil {
		q.Config = make(bagel.Configuration)
	}
	return configure(q), nil
}

func newSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <query.json>",
		Short: "Submit a query file and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := readQuery(args[0])
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			id, err := client.SendQuery(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var withGraph bool
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Print the state and the result of a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			status, err := client.QueryProgress(cmd.Context(), args[0], withGraph)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
	cmd.Flags().BoolVar(&withGraph, "graph", false, "include the result graph")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			return client.CancelQuery(cmd.Context(), args[0])
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the queries known to the coord",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			statuses, err := client.ListQueries(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range statuses {
				fmt.Printf("%s\t%s\t%s\t%s\n", s.Id, s.State, s.ClientId, s.Submitted.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// newRunCmd runs a query file in this process against a storage, without a
// coord.
func newRunCmd() *cobra.Command {
	var storageURL string
	cmd := &cobra.Command{
		Use:   "run <query.json>",
		Short: "Run a query file locally against a storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := readQuery(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			storage, err := database.Open(ctx, storageURL)
			if err != nil {
				return err
			}
			if closer, ok := storage.(interface{ Close() error }); ok {
				defer closer.Close()
			}
			defer bagel.CloseContext()

			gc, err := bagel.FromQuery(q, nil, storage)
			if err != nil {
				return err
			}
			result, err := gc.Run(ctx)
			if err != nil {
				return err
			}
			memory := make(map[string]interface{})
			for _, key := range result.Memory.Keys() {
				memory[key], _ = result.Memory.Get(key)
			}
			log.Printf("run: finished after %d iterations in %vms", result.Memory.Iteration(), result.RuntimeMillis())
			return printJSON(memory)
		},
	}
	cmd.Flags().StringVar(&storageURL, "storage", "sqlite3://bagel.db", "storage url")
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "client",
		Short:         "Submit graph queries to the coord",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.LoadEnv()
			return util.SetupLogging(util.LogConfig{Name: "client", Verbose: opts.verbose})
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "config/client_config.json", "client config file")
	flags.StringVar(&opts.coordAddr, "coord", "", "coord address, overrides the config file")
	flags.StringVar(&opts.input, "input", "", "input location of the graph")
	flags.StringVar(&opts.output, "output", "", "output location for the computed graph")
	flags.IntVar(&opts.workers, "workers", 0, "number of workers")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "how long to wait for a result")
	flags.StringVar(&opts.save, "save", "", "write the query to this file instead of submitting it")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(
		newPageRankCmd(),
		newShortestPathCmd(),
		newReachabilityCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newListCmd(),
		newRunCmd(),
	)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Errorf("client: %v", err)
		os.Exit(1)
	}
}
