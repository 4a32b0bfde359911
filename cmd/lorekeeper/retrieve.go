package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/lorekeeper/internal/retrieval"
)

func newRetrieveCmd() *cobra.Command {
	var (
		limit     int
		threshold float64
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve <namespace> <query>",
		Short: "Search a namespace the way a chat turn would",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				matches := c.retriever.Retrieve(ctx, args[1], args[0], limit, threshold)
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(matches)
				}
				return printMatches(cmd.OutOrStdout(), matches)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of matches")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0.7, "minimum relevance score")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print matches as JSON")
	return cmd
}

func printMatches(w io.Writer, matches []retrieval.KnowledgeMatch) error {
	if len(matches) == 0 {
		_, err := fmt.Fprintln(w, "no matches")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tSOURCE\tID\tCONTENT")
	for _, m := range matches {
		fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\n", m.RelevanceScore, m.SourceName, m.StableID, truncate(m.Content, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
