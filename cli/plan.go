package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samaelod/devsim/engine"
	"github.com/samaelod/devsim/resolver"
	"github.com/samaelod/devsim/rules"
	"github.com/samaelod/devsim/types"
)

// PlanReport is the JSON form of a resolved rule document.
type PlanReport struct {
	Rules       string      `json:"rules"`
	WaitToStart bool        `json:"wait_to_start"`
	Entries     []PlanRule  `json:"entries"`
	Groups      []PlanGroup `json:"groups"`
}

type PlanRule struct {
	Index     int      `json:"index"`
	Pattern   string   `json:"pattern"`
	Kind      string   `json:"kind"`
	Trigger   string   `json:"trigger"`
	Behaviour string   `json:"behaviour"`
	DelayMs   int      `json:"delay_ms"`
	Repeat    int      `json:"repeat"`
	WaitCount int      `json:"wait_count"`
	Files     []string `json:"files"`
}

type PlanGroup struct {
	Trigger    int `json:"trigger"`
	Bursts     int `json:"bursts"`
	Rotations  int `json:"rotation_sets"`
	Responders int `json:"responder_sets"`
}

type planOptions struct {
	dir    string
	format string
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &planOptions{}

	cmd := &cobra.Command{
		Use:   "plan <rules>",
		Short: "Show how a rule document resolves and when each rule fires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.format, ValidFormats))
			}
			return runPlan(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "payload directory (default: the rule file's directory)")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format (json|text)")
	return cmd
}

func runPlan(cmd *cobra.Command, rootOpts *RootOptions, opts *planOptions, rulesPath string) error {
	formatter := &OutputFormatter{Format: opts.format, Writer: cmd.OutOrStdout()}

	rs, err := rules.Load(rulesPath)
	if err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid rule document", err)
	}

	dir := opts.dir
	if dir == "" {
		dir = filepath.Dir(rulesPath)
	}
	log, buf := rootOpts.logger(cmd.ErrOrStderr(), true)
	defer buf.Close()

	report := buildPlanReport(filepath.Base(rulesPath), rs, engine.BuildPlan(rs, resolver.NewDir(dir), log))
	if formatter.JSON() {
		return formatter.Success(report)
	}
	return writePlanText(formatter.Writer, report)
}

func buildPlanReport(name string, rs types.RuleSet, plan *engine.Plan) PlanReport {
	report := PlanReport{Rules: name, WaitToStart: rs.WaitToStart}
	for _, rr := range plan.Rules {
		files := rr.Files
		if files == nil {
			files = []string{}
		}
		report.Entries = append(report.Entries, PlanRule{
			Index:     rr.Index,
			Pattern:   rr.Rule.Pattern,
			Kind:      rr.Rule.Kind().String(),
			Trigger:   rr.Rule.Trigger(),
			Behaviour: rr.Rule.Describe(),
			DelayMs:   rr.Rule.DelayMs,
			Repeat:    rr.Rule.Repeat,
			WaitCount: rr.Rule.WaitCount,
			Files:     files,
		})
	}
	for _, g := range plan.Groups() {
		report.Groups = append(report.Groups, PlanGroup{
			Trigger:    g.Trigger,
			Bursts:     len(g.Bursts),
			Rotations:  len(g.Rotations),
			Responders: len(g.Responders),
		})
	}
	return report
}

func writePlanText(w io.Writer, report PlanReport) error {
	ew := &errWriter{w: w}

	ew.printf("Rules: %s\n", report.Rules)
	ew.printf("Wait to start: %t\n", report.WaitToStart)

	for _, r := range report.Entries {
		files := strings.Join(r.Files, ", ")
		if files == "" {
			files = "(none)"
		}
		ew.printf("\n[%d] %s\n", r.Index, r.Pattern)
		ew.printf("  Trigger:   %s\n", r.Trigger)
		ew.printf("  Behaviour: %s\n", r.Behaviour)
		ew.printf("  Delay:     %d ms\n", r.DelayMs)
		ew.printf("  Files:     %s\n", files)
	}

	ew.printf("\nGroups:\n")
	for _, g := range report.Groups {
		ew.printf("  %s: %d burst(s), %d rotation set(s), %d responder set(s)\n",
			types.Rule{WaitCount: g.Trigger}.Trigger(), g.Bursts, g.Rotations, g.Responders)
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
