package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samaelod/devsim/lua"
	"github.com/samaelod/devsim/pcapreader"
	"github.com/samaelod/devsim/rules"
	"github.com/samaelod/devsim/types"
)

type importOptions struct {
	devicePort int
	out        string
	prefix     string
	format     string
	rulesOut   string
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import <capture>",
		Short: "Turn a pcap or pcapng capture into payload files and a rule document",
		Long: `Extract the device payloads of the first TCP conversation in <capture>
into numbered payload files and write a rule document that replays them
after the same number of peer messages.

Without --out, payloads go to <recent_dir>/<capture name>. Without
--rules-out, the rule document is written next to them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.devicePort, "device-port", 0, "TCP port of the device (default: the side that accepted the connection)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "payload output directory")
	cmd.Flags().StringVar(&opts.prefix, "prefix", pcapreader.DefaultPrefix, "payload file name prefix")
	cmd.Flags().StringVar(&opts.format, "format", "lua", "rule document format (lua|yaml)")
	cmd.Flags().StringVar(&opts.rulesOut, "rules-out", "", "rule document path")
	return cmd
}

func runImport(cmd *cobra.Command, rootOpts *RootOptions, opts *importOptions, path string) error {
	if opts.format != "lua" && opts.format != "yaml" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be lua or yaml", opts.format))
	}

	c, err := pcapreader.ReadCapture(path, opts.devicePort)
	if err != nil {
		return WrapExitError(ExitCommandError, "read capture", err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outDir := opts.out
	if outDir == "" {
		outDir = filepath.Join(rootOpts.Settings().RecentDir, base)
	}

	rs, files, err := pcapreader.Import(c, outDir, opts.prefix)
	if err != nil {
		return WrapExitError(ExitFailure, "import capture", err)
	}

	rulesPath, err := writeRules(rs, opts, outDir, path)
	if err != nil {
		return WrapExitError(ExitFailure, "write rule document", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Imported %d payload(s) from %s\n", len(files), filepath.Base(path))
	fmt.Fprintf(w, "  device:   %s\n", c.Device)
	fmt.Fprintf(w, "  peer:     %s\n", c.Peer)
	fmt.Fprintf(w, "  payloads: %s\n", outDir)
	fmt.Fprintf(w, "  rules:    %s\n", rulesPath)
	return nil
}

func writeRules(rs types.RuleSet, opts *importOptions, outDir, capturePath string) (string, error) {
	if opts.rulesOut == "" {
		if opts.format == "lua" {
			return lua.SaveToDir(rs, outDir, capturePath)
		}
		base := strings.TrimSuffix(filepath.Base(capturePath), filepath.Ext(capturePath))
		opts.rulesOut = filepath.Join(outDir, base+".yaml")
	}

	if dir := filepath.Dir(opts.rulesOut); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}
	f, err := os.Create(opts.rulesOut)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if opts.format == "lua" {
		err = lua.WriteRuleSet(f, rs)
	} else {
		err = rules.WriteYAML(f, rs)
	}
	if err != nil {
		return "", err
	}
	return opts.rulesOut, f.Close()
}
