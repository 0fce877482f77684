package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orizon-lang/capsafe/internal/proof"
	"github.com/orizon-lang/capsafe/internal/script"
)

type summaryOptions struct {
	checkOptions
	Save string
}

func newSummaryCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &summaryOptions{}

	cmd := &cobra.Command{
		Use:   "summary <trace.yaml|ledger.json>",
		Short: "Summarize the proved obligations of a unit",
		Long: `Summarize proof notes per function.

A trace is checked first and its notes are attributed to the functions it
declares. A saved ledger has no declarations, so every note is listed as
unattributed. With --save, the ledger of a checked trace is written out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := *rootOpts.config
			if err := opts.apply(cmd, &config); err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid options", Err: err}
			}

			var (
				ledger *proof.Ledger
				decls  []proof.Decl
			)
			path := args[0]
			if filepath.Ext(path) == ".json" {
				l, err := loadLedger(path)
				if err != nil {
					return &ExitError{Code: ExitCommandError, Message: "load ledger", Err: err}
				}
				ledger = l
			} else {
				s, err := script.LoadFile(path)
				if err != nil {
					return &ExitError{Code: ExitCommandError, Message: "load trace", Err: err}
				}
				report, err := script.Check(cmd.Context(), s, config.Checker())
				if err != nil {
					return &ExitError{Code: ExitCommandError, Message: "check trace", Err: err}
				}
				ledger, decls = report.Proofs, report.Decls
			}

			if opts.Save != "" {
				if err := saveLedger(opts.Save, ledger); err != nil {
					return &ExitError{Code: ExitCommandError, Message: "save ledger", Err: err}
				}
				rootOpts.logger.Info("ledger saved", "path", opts.Save, "notes", ledger.Len())
			}

			summary := ledger.Summarize(decls)
			if rootOpts.Format == "json" {
				return writeSummaryJSON(cmd.OutOrStdout(), ledger, summary)
			}
			return writeSummaryText(cmd.OutOrStdout(), ledger, summary)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&opts.Save, "save", "o", "", "write the proof ledger to this file")

	return cmd
}

func loadLedger(path string) (*proof.Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return proof.Load(f)
}

func saveLedger(path string, l *proof.Ledger) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := l.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatCounts(c proof.Counts) string {
	parts := make([]string, 0, len(c))
	for _, k := range c.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c[k]))
	}
	return strings.Join(parts, " ")
}

func writeSummaryText(w io.Writer, l *proof.Ledger, s proof.Summary) error {
	fmt.Fprintf(w, "unit %s: %d proved\n", l.Unit, s.Total)
	for _, d := range s.Decls {
		fmt.Fprintf(w, "  %s (%s): %d", d.Name, d.Span, d.Total)
		if d.Total > 0 {
			fmt.Fprintf(w, " [%s]", formatCounts(d.ByKind))
		}
		fmt.Fprintln(w)
	}
	if s.Unattributed.Total > 0 {
		fmt.Fprintf(w, "  unattributed: %d [%s]\n", s.Unattributed.Total, formatCounts(s.Unattributed.ByKind))
	}
	if s.Total > 0 {
		fmt.Fprintf(w, "by plugin: %s\n", formatCounts(s.ByPlugin))
	}
	return nil
}

type jsonDeclSummary struct {
	Name     string       `json:"name"`
	Span     string       `json:"span,omitempty"`
	Total    int          `json:"total"`
	ByKind   proof.Counts `json:"by_kind"`
	ByPlugin proof.Counts `json:"by_plugin"`
}

type jsonSummary struct {
	RunID        string            `json:"run_id"`
	Unit         string            `json:"unit"`
	Total        int               `json:"total"`
	Decls        []jsonDeclSummary `json:"decls"`
	Unattributed jsonDeclSummary   `json:"unattributed"`
	ByKind       proof.Counts      `json:"by_kind"`
	ByPlugin     proof.Counts      `json:"by_plugin"`
}

func declJSON(d proof.DeclSummary) jsonDeclSummary {
	return jsonDeclSummary{
		Name:     d.Name,
		Span:     spanText(d.Span),
		Total:    d.Total,
		ByKind:   d.ByKind,
		ByPlugin: d.ByPlugin,
	}
}

func writeSummaryJSON(w io.Writer, l *proof.Ledger, s proof.Summary) error {
	out := jsonSummary{
		RunID:        l.RunID,
		Unit:         l.Unit,
		Total:        s.Total,
		Decls:        make([]jsonDeclSummary, 0, len(s.Decls)),
		Unattributed: declJSON(s.Unattributed),
		ByKind:       s.ByKind,
		ByPlugin:     s.ByPlugin,
	}
	for _, d := range s.Decls {
		out.Decls = append(out.Decls, declJSON(d))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
