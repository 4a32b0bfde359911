package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCollectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Manage tenant knowledge collections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure <namespace>",
		Short: "Create the collection if absent and verify its dimension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				cc := c.collections.Config()
				if err := c.collections.EnsureCollection(ctx, args[0], cc.Dimension, cc.Metric); err != nil {
					return err
				}
				if err := c.collections.CheckCollection(ctx, args[0], cc.Dimension); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "collection %s ready (dimension %d, %s)\n", args[0], cc.Dimension, cc.Metric)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <namespace>",
		Short: "Check the collection exists with the configured dimension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				ok, err := c.collections.VerifyCollection(ctx, args[0], c.collections.Config().Dimension)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("collection %s does not exist", args[0])
				}
				info, err := c.collections.Info(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drop <namespace>",
		Short: "Delete the collection and every vector in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				if err := c.collections.DropCollection(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "collection %s dropped\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

// withCore loads the knowledge layer, runs fn under commandTimeout and
// releases everything afterwards.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, c *core) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	c, err := loadCore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(context.Background()) }()
	return fn(ctx, c)
}
