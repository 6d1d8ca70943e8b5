package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/octofang/internal/config"
	"github.com/Sumatoshi-tech/octofang/internal/queue"
	"github.com/Sumatoshi-tech/octofang/internal/severity"
)

// defaultPeekLimit is how many items peek shows without an explicit -n.
const defaultPeekLimit = 10

// NewQueueCommand builds the queue inspection command group.
func NewQueueCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the anomaly queue",
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	cmd.AddCommand(newQueueStatsCommand(&configPath))
	cmd.AddCommand(newQueuePeekCommand(&configPath))
	cmd.AddCommand(newQueueDeadLettersCommand(&configPath))
	cmd.AddCommand(newQueueCleanupCommand(&configPath))

	return cmd
}

// openQueue loads config and builds the queue over a live Redis connection.
func openQueue(cmd *cobra.Command, configPath string) (*queue.Queue, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}

	opts := make([]queue.Option, 0, len(cfg.Queue.Capacities()))
	for band, capacity := range cfg.Queue.Capacities() {
		opts = append(opts, queue.WithCapacity(band, capacity))
	}

	return queue.New(st, nil, opts...), nil
}

func newQueueStatsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-band queue fill statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := openQueue(cmd, *configPath)
			if err != nil {
				return err
			}

			stats, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}

			renderStats(stats)

			return nil
		},
	}
}

func renderStats(stats *queue.Stats) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Band", "Size", "Capacity", "Utilization", "Oldest", "Newest"})

	for _, band := range stats.Bands {
		tw.AppendRow(table.Row{
			bandLabel(band.Band),
			humanize.Comma(band.Size),
			humanize.Comma(band.Capacity),
			fmt.Sprintf("%.1f%%", band.Utilization*100),
			ageLabel(band.Oldest),
			ageLabel(band.Newest),
		})
	}

	tw.AppendFooter(table.Row{"dead letters", humanize.Comma(stats.DeadLetters)})
	tw.Render()

	if stats.Warning {
		color.Yellow("warning: at least one band is above 90%% utilization")
	}
}

func bandLabel(band severity.Band) string {
	switch band {
	case severity.BandCritical:
		return color.RedString(string(band))
	case severity.BandHigh:
		return color.YellowString(string(band))
	default:
		return string(band)
	}
}

func ageLabel(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return humanize.Time(*t)
}

func newQueuePeekCommand(configPath *string) *cobra.Command {
	var (
		bandName string
		limit    int64
	)

	var asYAML bool

	cmd := &cobra.Command{
		Use:   "peek",
		Short: "Show the highest-priority queued anomalies without removing them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			band := severity.Band(bandName)
			if !band.Valid() {
				return fmt.Errorf("unknown band %q", bandName)
			}

			q, err := openQueue(cmd, *configPath)
			if err != nil {
				return err
			}

			items, err := q.Peek(cmd.Context(), band, limit)
			if err != nil {
				return err
			}

			if asYAML {
				return writeItemsYAML(items)
			}

			renderItems(items)

			return nil
		},
	}

	cmd.Flags().StringVarP(&bandName, "band", "b", string(severity.BandCritical), "severity band")
	cmd.Flags().Int64VarP(&limit, "limit", "n", defaultPeekLimit, "max items to show")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "emit items as YAML instead of a table")

	return cmd
}

func newQueueDeadLettersCommand(configPath *string) *cobra.Command {
	var (
		limit  int64
		asYAML bool
	)

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Show anomalies that exhausted their requeue attempts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := openQueue(cmd, *configPath)
			if err != nil {
				return err
			}

			items, err := q.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asYAML {
				return writeItemsYAML(items)
			}

			renderItems(items)

			return nil
		},
	}

	cmd.Flags().Int64VarP(&limit, "limit", "n", defaultPeekLimit, "max items to show")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "emit items as YAML instead of a table")

	return cmd
}

// writeItemsYAML dumps items in a machine-readable form for piping into
// triage tooling.
func writeItemsYAML(items []*queue.Item) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer func() { _ = enc.Close() }()

	err := enc.Encode(items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	return nil
}

func renderItems(items []*queue.Item) {
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "queue empty")

		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Band", "Score", "Actor", "Repo", "Event", "Enqueued", "Attempts"})

	for _, item := range items {
		tw.AppendRow(table.Row{
			bandLabel(item.Band),
			fmt.Sprintf("%.3f", item.Event.FinalScore),
			item.Event.Actor,
			item.Event.Repo,
			item.Event.EventType,
			humanize.Time(item.EnqueuedAt),
			item.Attempts,
		})
	}

	tw.Render()
}

func newQueueCleanupCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove queued anomalies that outlived their band TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := openQueue(cmd, *configPath)
			if err != nil {
				return err
			}

			removed, err := q.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "removed %s expired items\n", humanize.Comma(removed))

			return nil
		},
	}
}
