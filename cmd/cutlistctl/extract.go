package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/export"
	"github.com/joseph-ayodele/cutlist-extractor/internal/extraction"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ingest"
	"github.com/joseph-ayodele/cutlist-extractor/internal/pipeline"
)

type extractFlags struct {
	xlsx            string
	material        string
	thickness       string
	expand          bool
	mergeIncomplete bool
	includeHidden   bool
}

// outcome is one file's line in the JSON report.
type outcome struct {
	Path   string           `json:"path"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  *outcomeError    `json:"error,omitempty"`
}

type outcomeError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Remediation []string `json:"remediation,omitempty"`
}

func newExtractCmd(g *globals) *cobra.Command {
	f := &extractFlags{}
	cmd := &cobra.Command{
		Use:   "extract <file|dir>...",
		Short: "Extract parts from files and print the results as JSON",
		Long: "Runs the full extraction chain on each file (directories are walked) and prints\n" +
			"a JSON report. Pages that share a project code are merged into one session.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, g, f, args)
		},
	}
	cmd.Flags().StringVar(&f.xlsx, "xlsx", "", "also write the extracted parts to this XLSX file")
	cmd.Flags().StringVar(&f.material, "material", "", "default material id for parts without one")
	cmd.Flags().StringVar(&f.thickness, "thickness", "", "default thickness in mm for parts without one")
	cmd.Flags().BoolVar(&f.expand, "expand", false, "retry truncated model output once with a larger budget")
	cmd.Flags().BoolVar(&f.mergeIncomplete, "merge-incomplete", false, "merge sessions still missing pages at the end of the run")
	cmd.Flags().BoolVar(&f.includeHidden, "include-hidden", false, "do not skip hidden files and directories")
	return cmd
}

func runExtract(cmd *cobra.Command, g *globals, f *extractFlags, args []string) error {
	thickness, err := parseThickness(f.thickness)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := g.build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	var outcomes []outcome
	handle := func(ctx context.Context, path string, data []byte) error {
		res, err := a.Processor.Process(ctx, extraction.Request{
			OrgID:              g.org,
			UserID:             g.user,
			Filename:           filepath.Base(path),
			Data:               data,
			DefaultMaterialID:  f.material,
			DefaultThicknessMm: thickness,
			ExpandOnTruncation: f.expand,
		})
		outcomes = append(outcomes, newOutcome(path, res, err))
		return err
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return common.NewAppError(common.CodeValidation, fmt.Sprintf("cannot read %s", arg), err)
		}
		if info.IsDir() {
			if _, _, err := ingest.ProcessDirectory(ctx, arg, !f.includeHidden, handle); err != nil {
				return err
			}
			continue
		}
		ingest.ProcessPath(ctx, arg, handle)
	}

	if f.mergeIncomplete {
		mergePending(ctx, a.Merger, outcomes)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	var report any = outcomes
	if len(outcomes) == 1 {
		report = outcomes[0]
	}
	if err := enc.Encode(report); err != nil {
		return err
	}

	if f.xlsx != "" {
		parts, info := collectParts(outcomes)
		b, err := export.PartsXLSX("cutlist", parts, info)
		if err != nil {
			return err
		}
		if err := os.WriteFile(f.xlsx, b, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d parts to %s\n", len(parts), f.xlsx)
	}

	for _, o := range outcomes {
		if o.Error != nil {
			return fmt.Errorf("%d of %d files failed", failures(outcomes), len(outcomes))
		}
	}
	return nil
}

func newOutcome(path string, res *pipeline.Result, err error) outcome {
	o := outcome{Path: path, Result: res}
	if err != nil {
		o.Error = &outcomeError{Code: common.ErrorCode(err), Message: err.Error()}
		if ae, ok := common.AsAppError(err); ok {
			o.Error.Message, o.Error.Remediation = ae.Message, ae.Remediation
		}
	}
	return o
}

type merger interface {
	MergeSession(ctx context.Context, id string) (*entity.MergeResult, error)
}

// mergePending merges sessions that never saw all their pages and attaches
// the result to the last outcome of each.
func mergePending(ctx context.Context, m merger, outcomes []outcome) {
	last := map[string]int{}
	for i, o := range outcomes {
		if o.Result != nil && o.Result.Session != nil && o.Result.Session.IsMultiPage {
			last[o.Result.Session.SessionID] = i
		}
	}
	for id, i := range last {
		if outcomes[i].Result.Merged != nil {
			continue
		}
		merged, err := m.MergeSession(ctx, id)
		if err != nil {
			continue
		}
		outcomes[i].Result.Merged = merged
		outcomes[i].Result.AutoAccept = merged.AutoAccept
		outcomes[i].Result.ReviewReasons = merged.ReviewReasons
	}
}

// collectParts picks the rows for the workbook: a merged session
// contributes its merged parts once, pages of an unmerged multi-page
// session contribute nothing, and single documents contribute their own.
func collectParts(outcomes []outcome) ([]entity.ExtractedPart, map[string]string) {
	var parts []entity.ExtractedPart
	var files, strategies []string
	seen := map[string]bool{}
	pending := 0
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		r := o.Result
		switch {
		case r.Merged != nil:
			if seen[r.Merged.SessionID] {
				continue
			}
			seen[r.Merged.SessionID] = true
			parts = append(parts, r.Merged.Parts...)
		case r.Session != nil && r.Session.IsMultiPage:
			pending++
			continue
		default:
			parts = append(parts, r.Candidate.Parts...)
		}
		files = append(files, filepath.Base(o.Path))
		strategies = append(strategies, string(r.Candidate.Strategy))
	}
	info := map[string]string{
		"File":     strings.Join(files, ", "),
		"Strategy": strings.Join(dedupe(strategies), ", "),
	}
	if pending > 0 {
		info["Missing pages"] = fmt.Sprintf("%d pages belong to sessions that were not merged", pending)
	}
	return parts, info
}

func parseThickness(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	t, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || t < 0 {
		return 0, common.NewAppError(common.CodeValidation, "--thickness must be a non-negative number", common.ErrValidation)
	}
	return t, nil
}

func failures(outcomes []outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Error != nil {
			n++
		}
	}
	return n
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
