package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"devguard/internal/auth"
	"devguard/internal/chat"
	"devguard/internal/config"
	"devguard/internal/registry"
	"devguard/internal/toolkit"
	"devguard/internal/tools/codereview"
	"devguard/internal/tools/compliance"
)

var licenseExport string

var licenseCmd = &cobra.Command{
	Use:   "license-check <file>",
	Short: "Check the licenses of a project's dependencies",
	Long: `Reads requirements.txt, a Python file's imports, a Java file's imports or a
Maven pom.xml, looks up every dependency's license on PyPI / Maven Central and
rates the legal risk of using it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := cliApp()
		if err != nil {
			return err
		}
		_, err = a.run(cmd.Context(), cmd.OutOrStdout(), toolkit.ToolLicense, args[0], registry.Options{Export: licenseExport})
		return err
	},
}

var complianceFormat string

var complianceCmd = &cobra.Command{
	Use:   "compliance-check <path>",
	Short: "Check Python and Java files against the internal coding guidelines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch complianceFormat {
		case compliance.FormatJSON, compliance.FormatSummary, compliance.FormatMarkdown:
		default:
			return fmt.Errorf("unknown format %q (json, summary or markdown)", complianceFormat)
		}
		a, err := cliApp()
		if err != nil {
			return err
		}
		_, err = a.run(cmd.Context(), cmd.OutOrStdout(), toolkit.ToolCompliance, args[0], registry.Options{Format: complianceFormat})
		return err
	},
}

var (
	sustainabilityPath    string
	sustainabilityRuleset string
	sustainabilityReport  string
)

var sustainabilityCmd = &cobra.Command{
	Use:   "sustainability-check",
	Short: "Score Java code for energy and resource efficiency with PMD",
	Long: `Runs PMD over --path and weights the violations into a sustainability score.
Pass --report to score an existing PMD XML report instead of running PMD, and
--verbose for the per-rule and per-file breakdowns.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console := setupConsole()
		cfg := config.Load()
		setupLogging(cfg, console)
		if sustainabilityRuleset != "" {
			cfg.PMD.Ruleset = sustainabilityRuleset
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}

		target := sustainabilityPath
		if sustainabilityReport != "" {
			target = sustainabilityReport
		}
		format := compliance.FormatSummary
		if verbose {
			format = compliance.FormatMarkdown
		}
		_, err = a.run(cmd.Context(), cmd.OutOrStdout(), toolkit.ToolSustainability, target, registry.Options{Format: format})
		return err
	},
}

var (
	reviewJSON     bool
	reviewMarkdown bool
)

var codeReviewCmd = &cobra.Command{
	Use:   "code-review <path>",
	Short: "Run every file check over a file or directory",
	Long: `Runs the license and guideline checks on every supported file under path.
With --json or --md the review is saved under the reports directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := codereview.FormatText
		switch {
		case reviewJSON && reviewMarkdown:
			return fmt.Errorf("--json and --md are mutually exclusive")
		case reviewJSON:
			format = codereview.FormatJSON
		case reviewMarkdown:
			format = codereview.FormatMarkdown
		}

		a, err := cliApp()
		if err != nil {
			return err
		}
		res, err := a.registry.Run(cmd.Context(), toolkit.ToolCodeReview, args[0], registry.Options{Format: format})
		if err != nil {
			return err
		}
		review, ok := res.Data.(*codereview.Review)
		if format == codereview.FormatText || !ok {
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		}
		path, err := review.Save(a.cfg.ReportsDir, format)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "📝 Code review saved to %s\n", path)
		return nil
	},
}

var researchCmd = &cobra.Command{
	Use:   "research <topic>",
	Short: "Write a sourced research report on a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := cliApp()
		if err != nil {
			return err
		}
		topic := strings.Join(args, " ")
		_, err = a.run(cmd.Context(), cmd.OutOrStdout(), toolkit.ToolResearch, "", registry.Options{Topic: topic})
		return err
	},
}

var (
	docsFile string
	docsLang string
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Generate documentation stubs for a source file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := cliApp()
		if err != nil {
			return err
		}
		_, err = a.run(cmd.Context(), cmd.OutOrStdout(), toolkit.ToolDocs, docsFile, registry.Options{Language: docsLang})
		return err
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <request>",
	Short: "Route a free-text request to a tool and run it",
	Long: `Answers a request the way the dashboard assistant does, e.g.

  devguard ask "check licenses in pom.xml"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := cliApp()
		if err != nil {
			return err
		}
		assistant := chat.New(a.registry, a.router, a.cfg.AllowedFileDir, nil)
		session, err := assistant.HandleMessage(cmd.Context(), "cli", strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, msg := range session.History[1:] {
			fmt.Fprintln(out, msg.Content)
			if msg.Result != nil {
				fmt.Fprintln(out)
				fmt.Fprintln(out, msg.Result.Text)
			}
		}
		return nil
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := cliApp()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tINPUT\tDESCRIPTION")
		for _, t := range a.registry.List() {
			input := t.Input
			if input == "" {
				input = registry.InputFile
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.DisplayName, input, t.Description)
		}
		return w.Flush()
	},
}

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg, setupConsole())
		if !cfg.Auth.Enable {
			fmt.Fprintln(cmd.ErrOrStderr(), "⚠️  AUTH_ENABLE is off, the server accepts requests without a token")
		}
		token, err := auth.NewService(cfg.Auth).IssueToken(tokenSubject)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	licenseCmd.Flags().StringVar(&licenseExport, "export", "", "Also write the report to this .xlsx file")

	complianceCmd.Flags().StringVarP(&complianceFormat, "format", "f", compliance.FormatSummary, "Output format: json, summary or markdown")

	sustainabilityCmd.Flags().StringVar(&sustainabilityPath, "path", ".", "Java source file or directory")
	sustainabilityCmd.Flags().StringVar(&sustainabilityRuleset, "ruleset", "", "PMD ruleset (default from PMD_RULESET)")
	sustainabilityCmd.Flags().StringVar(&sustainabilityReport, "report", "", "Score an existing PMD XML report")

	codeReviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "Save the review as JSON")
	codeReviewCmd.Flags().BoolVar(&reviewMarkdown, "md", false, "Save the review as markdown")

	docsCmd.Flags().StringVar(&docsFile, "file", "", "Source file to document")
	docsCmd.Flags().StringVar(&docsLang, "lang", "", "Language (default from the file extension)")
	docsCmd.MarkFlagRequired("file")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "Token subject")
}
