package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petal-labs/sequential/catalog"
	"github.com/petal-labs/sequential/store"
)

// NewGenCmd creates the "gen" subcommand.
func NewGenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Print values of an ad-hoc sequence",
		Long: `Print values of a sequence defined entirely by flags. Nothing is persisted.

Values are printed one per line; generation stops early if the sequence
reaches its end or the maximum of its kind.`,
		Args: cobra.NoArgs,
		RunE: runGen,
	}

	cmd.Flags().String("kind", "uint64", "Integer kind (uint8, uint16, uint32, uint64, uint, uintptr, uint128)")
	cmd.Flags().String("start", "", "First value (default 0)")
	cmd.Flags().String("after", "", "Start just past this value (exclusive with --start)")
	cmd.Flags().String("end", "", "Inclusive last value (default: kind maximum)")
	cmd.Flags().String("increment", "1", "Step between values")
	cmd.Flags().IntP("count", "n", 10, fmt.Sprintf("Number of values to print (max %d)", catalog.DefaultMaxBatch))
	cmd.Flags().Bool("json", false, "Print the allocation as JSON")

	return cmd
}

func runGen(cmd *cobra.Command, _ []string) error {
	kind, _ := cmd.Flags().GetString("kind")
	start, _ := cmd.Flags().GetString("start")
	after, _ := cmd.Flags().GetString("after")
	end, _ := cmd.Flags().GetString("end")
	increment, _ := cmd.Flags().GetString("increment")
	count, _ := cmd.Flags().GetInt("count")
	asJSON, _ := cmd.Flags().GetBool("json")

	c, err := catalog.New(catalog.Config{
		Store:  store.NewMemStore(),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	ctx := cmd.Context()
	const name = "gen"
	if _, err := c.Create(ctx, catalog.Definition{
		Name:      name,
		Kind:      kind,
		Start:     start,
		After:     after,
		End:       end,
		Increment: increment,
	}); err != nil {
		return exitError(exitValidation, "%v", err)
	}

	alloc, err := c.Next(ctx, name, count)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalid) {
			return exitError(exitValidation, "%v", err)
		}
		return exitError(exitRuntime, "%v", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(alloc); err != nil {
			return exitError(exitRuntime, "writing output: %v", err)
		}
		return nil
	}
	for _, v := range alloc.Values {
		fmt.Fprintln(out, v)
	}
	return nil
}
