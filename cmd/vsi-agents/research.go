package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zoernert/vsi-sub004/config"
	srv "github.com/zoernert/vsi-sub004/internal/server"
)

func researchCMD() *cobra.Command {
	var cfgPath string
	var query string
	var collections []string
	var embeddedDir string
	var useExternal bool
	var timeout time.Duration

	var research = &cobra.Command{
		Use:   "research [query]",
		Short: "Run one discovery-plus-analysis pass and print the digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				query = strings.Join(args, " ")
			}
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("a query is required (positional or --query)")
			}

			cfg := config.LoadConfig(cfgPath)
			if embeddedDir != "" {
				cfg.Collections.BaseURL = ""
				cfg.Collections.EmbeddedDir = embeddedDir
			}
			if len(collections) > 0 {
				cfg.Agents.Discovery.Collections = collections
			}
			if useExternal {
				cfg.External.Enabled = true
				cfg.Agents.Discovery.EnableExternal = true
				cfg.Agents.Analysis.EnableExternal = true
			}

			pipeline, cleanup, err := srv.BuildPipeline(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			result, err := pipeline.Run(ctx, query)
			if err != nil {
				return err
			}

			fmt.Printf("Run %s: %q\n", result.RunID, result.Query)
			fmt.Printf("Discovered %d sources (%d external), curated %d, average quality %.2f\n",
				result.Discovery.TotalDiscovered, result.Discovery.ExternalCount,
				len(result.Discovery.Curated), result.Discovery.AverageQuality)
			fmt.Printf("Analyzed %d sources (%d external) in %s\n\n",
				result.Analysis.SourcesAnalyzed+result.Analysis.ExternalAnalyzed,
				result.Analysis.ExternalAnalyzed, result.Duration.Round(time.Millisecond))

			if len(result.Analysis.Themes) > 0 {
				fmt.Println("Themes:")
				for _, theme := range result.Analysis.Themes {
					fmt.Printf("  %-16s %d sources, score %.2f\n",
						theme.Category, theme.Occurrences, theme.OverallScore)
				}
				fmt.Println()
			}
			if len(result.Analysis.Insights) > 0 {
				fmt.Println("Insights:")
				for i, insight := range result.Analysis.Insights {
					if i >= 5 {
						break
					}
					fmt.Printf("  [%.2f] (%s) %s\n", insight.Score, insight.Priority, insight.Content)
				}
			}
			return nil
		},
	}
	research.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	research.Flags().StringVarP(&query, "query", "q", "", "research query")
	research.Flags().StringSliceVar(&collections, "collections", nil, "collection ids to search")
	research.Flags().StringVar(&embeddedDir, "embedded", "", "load collections from a local directory instead of the platform API")
	research.Flags().BoolVar(&useExternal, "external", false, "augment with external web search and browsing")
	research.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall run timeout")

	return research
}
