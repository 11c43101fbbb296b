package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ocr"
	"github.com/joseph-ayodele/cutlist-extractor/internal/template"
)

func newTemplatesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect template descriptor files",
	}
	cmd.AddCommand(newTemplatesCheckCmd(), newTemplatesDetectCmd(g))
	return cmd
}

func newTemplatesCheckCmd() *cobra.Command {
	var showPrompt bool
	cmd := &cobra.Command{
		Use:   "check <templates.yaml>",
		Short: "Validate a template file and list its descriptors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := template.LoadFile(args[0])
			if err != nil {
				return err
			}
			for _, d := range store.Descriptors() {
				printf(cmd, "%s\t%s\tv%d\t%d columns\t%d shortcodes\t%s\n",
					d.OrgID, d.ID, d.Version, len(d.Columns), len(d.Shortcodes), d.Name)
				if showPrompt {
					printf(cmd, "%s\n\n", template.BuildDeterministicPrompt(&d))
				}
			}
			printf(cmd, "ok: %d descriptors\n", store.Count())
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPrompt, "prompt", false, "print the extraction prompt built for each descriptor")
	return cmd
}

// detect runs only template detection on one file; PDFs are detected from
// their text layer, images from their QR code or marker text.
func newTemplatesDetectCmd(g *globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Report which template a file was produced from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := common.LoadConfig()
			if file == "" {
				file = cfg.Templates.File
			}
			var store template.Store
			if file != "" {
				fs, err := template.LoadFile(file)
				if err != nil {
					return err
				}
				store = fs
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			local := ocr.NewExtractor(ocr.Config{
				Pdftotext:     cfg.Local.Pdftotext,
				Tesseract:     cfg.Local.Tesseract,
				TesseractLang: cfg.Local.TesseractLang,
				TessdataDir:   cfg.Local.TessdataDir,
				PSM:           6,
			}, nil)

			in := template.Input{OrgID: g.org, Filename: filepath.Base(args[0])}
			if strings.EqualFold(filepath.Ext(args[0]), ".pdf") {
				if text, err := local.ExtractText(cmd.Context(), data); err == nil {
					in.Text = text.Text
				}
			} else {
				in.Image = data
			}
			det := template.NewDetector(store, local, nil).Detect(cmd.Context(), in)
			printf(cmd, "status: %s\n", det.Match.Status)
			if det.Match.TemplateID != "" {
				printf(cmd, "template: %s v%d (from %s)\n", det.Match.TemplateID, det.Match.Version, det.Match.Source)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "template file (defaults to TEMPLATES_FILE)")
	return cmd
}
