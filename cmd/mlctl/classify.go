package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/micrologger/internal/threshold"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <kind> <value>...",
	Short: "Check results against the out-of-spec limits",
	Long: `Classify one or more results of an analyte without a server.

Kinds: entero, tmc30, yeastsMolds, bacillus. Values use the same rules as
the log sheet: comma or dot decimals; qualifiers such as "<10" are not
numeric and never flagged.

Examples:
  mlctl classify entero 0 1 "0,5"
  mlctl classify yeastsMolds 40 41`,
	Args: cobra.MinimumNArgs(2),
	RunE: runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	kind, ok := threshold.ParseKind(args[0])
	if !ok {
		names := make([]string, 0, 4)
		for _, k := range threshold.Kinds() {
			names = append(names, string(k))
		}
		return fmt.Errorf("unknown kind %q (want one of %s)", args[0], strings.Join(names, ", "))
	}

	if r, ok := threshold.RuleFor(kind); ok {
		cmd.Printf("%s: out of spec when %s\n", kind, r)
	} else {
		cmd.Printf("%s: informational, never flagged\n", kind)
	}

	flagged := 0
	for _, v := range args[1:] {
		verdict := "ok"
		switch {
		case threshold.IsOutOfSpecString(kind, v):
			verdict = "OUT OF SPEC"
			flagged++
		case !numeric(v):
			verdict = "ok (not numeric)"
		}
		cmd.Printf("  %-12s %s\n", v, verdict)
	}
	if flagged > 0 {
		cmd.Printf("%d of %d value(s) out of spec\n", flagged, len(args)-1)
	}
	return nil
}

func numeric(v string) bool {
	_, ok := threshold.ParseDecimal(v)
	return ok
}
