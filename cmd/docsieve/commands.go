package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docsieve/internal/identify"
	"docsieve/internal/pipeline"
	"docsieve/internal/progress"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

var (
	extractFile    string
	extractQuery   string
	extractDomain  string
	extractFormats []string
	extractTimeout time.Duration
	showProgress   bool
	noPreprocess   bool
	withMetadata   bool
)

// extractCmd runs a full extraction over a document.
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract structured fields from a document",
	Example: `  docsieve extract -f record.txt -q "patient name and diagnoses"
  docsieve extract -f contract.txt -d legal -o structured -o flat_text`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractFile == "" {
			return fmt.Errorf("a document file is required (-f)")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := buildPipeline(cfg)
		if err != nil {
			return err
		}

		formats := extractFormats
		if len(formats) == 0 {
			formats = cfg.Extraction.DefaultOutputFormats
		}

		opts := pipeline.Options{
			Query:             extractQuery,
			Domain:            extractDomain,
			OutputFormats:     formats,
			ChunkSize:         cfg.Extraction.ChunkSize,
			ChunkOverlap:      cfg.Extraction.ChunkOverlap,
			MaxConcurrency:    cfg.Extraction.MaxConcurrency,
			RequestTimeout:    cfg.GetRequestTimeout(),
			Deadline:          cfg.GetExtractionDeadline(),
			DedupThreshold:    cfg.Extraction.DedupThreshold,
			DisablePreprocess: noPreprocess,
			IncludeMetadata:   withMetadata,
		}
		if extractTimeout > 0 {
			opts.Deadline = extractTimeout
		}

		var sink progress.Sink = progress.NullSink{}
		if showProgress {
			sink = progress.SinkFunc(func(ev progress.Event) {
				fmt.Fprintf(os.Stderr, "%s\n",
					dimStyle.Render(fmt.Sprintf("[%3d%%] %-18s %s", ev.Percent, ev.Phase, ev.Message)))
			})
		}

		ctx, cancel := signalContext()
		defer cancel()

		result, err := p.Extract(ctx, pipeline.FileSource{Path: extractFile}, opts, sink)
		if err != nil {
			return err
		}
		logger.Debug("extraction finished",
			zap.String("extraction_id", result.ExtractionID),
			zap.String("domain", result.Domain),
			zap.Int("chunks", result.Chunks),
			zap.Int("jobs", result.Jobs),
			zap.Duration("elapsed", result.Elapsed))

		printResult(result)
		return nil
	},
}

// domainsCmd lists the registered domain catalog.
var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "List registered domains, sub-domains and fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := buildRegistry(cfg)
		if err != nil {
			return err
		}

		for _, d := range registry.List() {
			fmt.Println(titleStyle.Render(d.Name) + dimStyle.Render(" - "+d.Description))
			for _, sd := range d.SubDomains {
				fmt.Printf("  %s\n", labelStyle.Render(sd.Name))
				for _, f := range sd.Fields {
					markers := ""
					if f.Required {
						markers += " [required]"
					}
					if f.Unique {
						markers += " [unique]"
					}
					fmt.Printf("    - %s (%s)%s\n", f.Name, f.Type, dimStyle.Render(markers))
				}
			}
			fmt.Println()
		}
		return nil
	},
}

// queryCmd previews the extraction plan for a query without running the
// extraction.
var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Show the extraction plan a query would select",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := buildRegistry(cfg)
		if err != nil {
			return err
		}

		query := strings.Join(args, " ")
		plan := identify.New(registry).Identify(query, identify.Options{})
		if plan.Empty() {
			fmt.Println(dimStyle.Render("No domain matched; extraction would fall back to 'general'."))
			return nil
		}

		fmt.Println(labelStyle.Render("Domain:      ") + plan.Domain)
		fmt.Println(labelStyle.Render("Sub-domains: ") + strings.Join(plan.SubDomains, ", "))
		if len(plan.Fields) > 0 {
			fmt.Println(labelStyle.Render("Fields:"))
			for _, f := range plan.Fields {
				fmt.Printf("  - %s %s\n", f, dimStyle.Render(fmt.Sprintf("(%.2f)", plan.FieldConfidences[f])))
			}
		}
		for _, c := range plan.Candidates {
			fmt.Println(dimStyle.Render(fmt.Sprintf("candidate %s: confidence=%.2f overlap=%.2f", c.Name, c.Confidence, c.Overlap)))
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "", "document file to extract from")
	extractCmd.Flags().StringVarP(&extractQuery, "query", "q", "", "what to extract, in natural language")
	extractCmd.Flags().StringVarP(&extractDomain, "domain", "d", "", "pin the extraction to a registered domain")
	extractCmd.Flags().StringArrayVarP(&extractFormats, "output", "o", nil, "output format: structured, flat_text, tagged_markup (repeatable)")
	extractCmd.Flags().DurationVar(&extractTimeout, "timeout", 0, "overall extraction deadline (overrides config)")
	extractCmd.Flags().BoolVar(&showProgress, "progress", false, "print progress events to stderr")
	extractCmd.Flags().BoolVar(&noPreprocess, "no-preprocess", false, "skip the LLM query-analysis pass")
	extractCmd.Flags().BoolVar(&withMetadata, "metadata", false, "include the _metadata block in output")
}

func printResult(result *pipeline.Result) {
	fmt.Println(successStyle.Render(fmt.Sprintf("Extraction %s complete in %v", result.ExtractionID, result.Elapsed.Round(time.Millisecond))))
	fmt.Println(dimStyle.Render(fmt.Sprintf("domain=%s chunks=%d jobs=%d", result.Domain, result.Chunks, result.Jobs)))
	fmt.Println()

	if result.Output.Structured != nil {
		data, err := json.MarshalIndent(result.Output.Structured, "", "  ")
		if err == nil {
			fmt.Println(titleStyle.Render("Structured"))
			fmt.Println(string(data))
			fmt.Println()
		}
	}
	if result.Output.FlatText != "" {
		fmt.Println(titleStyle.Render("Flat Text"))
		fmt.Println(result.Output.FlatText)
	}
	if result.Output.TaggedMarkup != "" {
		fmt.Println(titleStyle.Render("Tagged Markup"))
		fmt.Println(result.Output.TaggedMarkup)
	}
}
