package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agenthands/fusion/internal/core"
	"github.com/agenthands/fusion/internal/core/fusion"
	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/core/similarity"
)

var similarityCmd = &cobra.Command{
	Use:   "similarity NAME_A NAME_B",
	Short: "Score two entity names through the similarity pipeline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, _ := cmd.Flags().GetString("type")
		return withEngine(cmd, func(ctx context.Context, e *core.Engine) error {
			res, err := e.Pipeline.ComputeSimilarity(ctx, similarity.Input{
				NameA:      args[0],
				NameB:      args[1],
				EntityType: entityType,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe FILE",
	Short: "Collapse near-duplicate entities in a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := readEntities(args[0])
		if err != nil {
			return err
		}
		var threshold *float64
		if cmd.Flags().Changed("threshold") {
			t, _ := cmd.Flags().GetFloat64("threshold")
			threshold = &t
		}
		return withEngine(cmd, func(ctx context.Context, e *core.Engine) error {
			out, err := e.DeduplicateEntities(ctx, entities, threshold)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

var relationsCmd = &cobra.Command{
	Use:   "relations FILE",
	Short: "Collapse relations sharing type, source and target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		relations, err := readRelations(args[0])
		if err != nil {
			return err
		}
		mergeProps, _ := cmd.Flags().GetBool("merge-properties")
		pairsOnly, _ := cmd.Flags().GetBool("pairs")
		return withEngine(cmd, func(ctx context.Context, e *core.Engine) error {
			if pairsOnly {
				pairs := e.FindDuplicateRelations(relations)
				if pairs == nil {
					pairs = []model.RelationPair{}
				}
				return printJSON(cmd.OutOrStdout(), pairs)
			}
			return printJSON(cmd.OutOrStdout(), e.DeduplicateRelations(relations, mergeProps))
		})
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge FILE",
	Short: "Merge entities into one, recording conflicting property values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := readEntities(args[0])
		if err != nil {
			return err
		}
		merged, err := fusion.ResolvePropertyConflicts(entities)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), merged)
	},
}

var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Merge near-duplicate entities stored from different documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, _ := cmd.Flags().GetStringSlice("type")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return withEngine(cmd, func(ctx context.Context, e *core.Engine) error {
			if err := e.BuildIndices(ctx); err != nil {
				return err
			}
			stats, err := e.Fusion.FuseCrossDocumentEntities(ctx, types, fusion.FuseOptions{DryRun: dryRun})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var provenanceCmd = &cobra.Command{
	Use:   "provenance ID",
	Short: "List the source documents recorded on a stored entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *core.Engine) error {
			sources, err := e.Fusion.TrackEntityProvenance(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"entity_id": args[0], "sources": sources})
		})
	},
}

func init() {
	similarityCmd.Flags().String("type", "", "entity type selecting per-type thresholds")
	dedupeCmd.Flags().Float64("threshold", 0, "override the configured similarity threshold")
	relationsCmd.Flags().Bool("merge-properties", false, "union properties of merged relations")
	relationsCmd.Flags().Bool("pairs", false, "list duplicate pairs instead of deduplicating")
	fuseCmd.Flags().StringSlice("type", nil, "entity type to fuse (repeatable); all types when omitted")
	fuseCmd.Flags().Bool("dry-run", false, "compute clusters without writing")

	rootCmd.AddCommand(similarityCmd, dedupeCmd, relationsCmd, mergeCmd, fuseCmd, provenanceCmd)
}
