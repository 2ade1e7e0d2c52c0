package cli

import (
	"fmt"
	"io"

	"depsync/internal/patterns"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var patternsListQuiet bool
var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List version pattern matchers",
	Long: `List the matchers that find version pins in manifests and CI workflows.

Matchers are applied during scans (see "depsync scan --help") and can be
narrowed with --matchers.

Examples:
  # List all available matchers
  depsync patterns list
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available matchers",
	Long: `List all matchers registered in this build, sorted by ID.

Examples:
  depsync patterns list

Output:
  A vertical list of matchers:
    ----------------------------------------
    MATCHER: {ID} ({KIND})
    ----------------------------------------
    {TITLE}
    {DESCRIPTION}
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, m := range patterns.List() {
			if patternsListQuiet {
				fmt.Fprintln(cmd.OutOrStdout(), m.ID())
			} else {
				printMatcher(cmd.OutOrStdout(), m)
			}
		}
		return nil
	},
}

var patternsShowCmd = &cobra.Command{
	Use:   "show [matcher-id]",
	Short: "Show details of a specific matcher",
	Long: `Show details of a specific matcher by its ID.

Examples:
  depsync patterns show cargo
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := patterns.Resolve(args[0])
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return fmt.Errorf("matcher not found: %s", args[0])
		}
		printMatcher(cmd.OutOrStdout(), list[0])
		return nil
	},
}

func printMatcher(w io.Writer, m patterns.Matcher) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "MATCHER: %s (%s)\n", m.ID(), m.Kind())
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, m.Title())
	fmt.Fprintln(w, m.Description())
	fmt.Fprintln(w)
}

func init() {
	rootCmd.AddCommand(patternsCmd)
	patternsCmd.AddCommand(patternsListCmd)
	patternsListCmd.Flags().BoolVarP(&patternsListQuiet, "quiet", "q", false, "Only print matcher IDs")
	patternsCmd.AddCommand(patternsShowCmd)
}
