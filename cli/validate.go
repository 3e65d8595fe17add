package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samaelod/devsim/rules"
	"github.com/samaelod/devsim/types"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool           `json:"valid"`
	Rules       int            `json:"rules"`
	WaitToStart bool           `json:"wait_to_start"`
	Kinds       map[string]int `json:"kinds,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "validate <rules>",
		Short: "Check a rule document without serving it",
		Long: `Parse a YAML or Lua rule document, apply defaults and check every
pattern and number. Payload files are not looked up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", format, ValidFormats))
			}
			return runValidate(cmd, format, args[0])
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format (json|text)")
	return cmd
}

func runValidate(cmd *cobra.Command, format, path string) error {
	formatter := &OutputFormatter{Format: format, Writer: cmd.OutOrStdout()}

	rs, err := rules.Load(path)
	if err != nil {
		_ = formatter.Error(err.Error(), ValidationResult{Valid: false})
		// Invalid documents are validation failures (exit code 1).
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	kinds := make(map[string]int)
	for _, r := range rs.Rules {
		kinds[r.Kind().String()]++
	}
	result := ValidationResult{Valid: true, Rules: len(rs.Rules), WaitToStart: rs.WaitToStart, Kinds: kinds}
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ %s: %d rule(s) valid\n", path, result.Rules)
	for _, k := range []types.Kind{types.KindSingle, types.KindFinite, types.KindContinuous, types.KindRequestResponse} {
		if n := kinds[k.String()]; n > 0 {
			fmt.Fprintf(formatter.Writer, "  %-16s %d\n", k.String(), n)
		}
	}
	return nil
}
