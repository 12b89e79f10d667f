package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/people-lookup/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Run one search and print the unified profiles as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initLookup(cmd.Context(), "search")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.Search(cmd.Context(), args[0])
		if err != nil {
			var all *search.AllBackendsFailedError
			if errors.As(err, &all) {
				for _, f := range all.Failures {
					zap.L().Error("backend failed",
						zap.String("backend", string(f.Backend)),
						zap.String("kind", string(f.Kind)),
						zap.String("message", f.Message),
					)
				}
			}
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}
