package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"hookrouter/internal/rules"
	"hookrouter/internal/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate <rules file>...",
	Short: "Check rule files",
	Long:  "Parse and validate YAML or JSON rule files the way the file rule store loads them.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			loaded, err := rules.LoadFile(path)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				continue
			}
			printf(cmd, "%s: %d rules (%d enabled)\n", path, len(loaded), countEnabled(loaded))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files invalid", failed, len(args))
		}
		return nil
	},
}

func countEnabled(rs []*types.RoutingRule) int {
	n := 0
	for _, r := range rs {
		if r.Enabled {
			n++
		}
	}
	return n
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
