package commands

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"lumen-pipeline/internal/app"
	"lumen-pipeline/internal/shape"
	"lumen-pipeline/pkg/logging/logging"
)

// summary is what generate prints unless --full is set.
type summary struct {
	Pipeline         shape.Tier        `json:"pipeline"`
	TemplateType     string            `json:"template_type"`
	Points           int               `json:"points"`
	PartNames        []string          `json:"part_names"`
	PartCounts       map[string]int    `json:"part_counts"`
	BoundingBox      shape.BoundingBox `json:"bounding_box"`
	Cached           bool              `json:"cached"`
	GenerationTimeMS float64           `json:"generation_time_ms"`
}

func summarize(r *shape.Result) summary {
	counts := make(map[string]int, len(r.PartNames))
	for _, id := range r.PartIDs {
		name := "unknown"
		if int(id) < len(r.PartNames) {
			name = r.PartNames[id]
		}
		counts[name]++
	}
	return summary{
		Pipeline:         r.Pipeline,
		TemplateType:     r.TemplateType,
		Points:           len(r.Positions),
		PartNames:        r.PartNames,
		PartCounts:       counts,
		BoundingBox:      r.BoundingBox,
		Cached:           r.Cached,
		GenerationTimeMS: r.GenerationTimeMS,
	}
}

func (c *CLI) newGenerateCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "generate <text>",
		Short: "Generate one point cloud and print it as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return errors.New("text must not be empty")
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			logger := c.newLogger(c.logLevel)
			defer func() { _ = logger.Sync() }()

			ctx := logging.WithLogger(cmd.Context(), logger)
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

			res, err := a.Orchestrator.Generate(ctx, text)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if full {
				return enc.Encode(res)
			}
			return enc.Encode(summarize(res))
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Print the full result including encoded positions")
	return cmd
}
