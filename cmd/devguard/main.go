package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"devguard/internal/config"
)

// Version is set at compile time
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "devguard",
	Short: "Developer assistant for license, compliance and sustainability checks",
	Long: `DevGuard runs developer-facing analysis tools on project files:

  license-check        - license and risk report for requirements.txt / pom.xml / imports
  compliance-check     - internal coding guideline checks for Python and Java
  sustainability-check - PMD based sustainability score
  code-review          - every file check over a directory
  research             - sourced research report on a topic
  docs                 - documentation stubs for a source file

Run "devguard serve" for the chat assistant and web dashboard.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			if verbose {
				log.Println("⚠️  No .env file found or failed to load, using environment variables only")
			}
		}
	},
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show progress logs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(licenseCmd)
	rootCmd.AddCommand(complianceCmd)
	rootCmd.AddCommand(sustainabilityCmd)
	rootCmd.AddCommand(codeReviewCmd)
	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "devguard %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// setupLogging sends the standard logger to console, the rotating log file
// when one is configured, and any extra writers
func setupLogging(cfg *config.Config, console io.Writer, extra ...io.Writer) *lumberjack.Logger {
	writers := []io.Writer{console}
	var logFile *lumberjack.Logger
	if cfg.LogFile != "" {
		logFile = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    15, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		writers = append(writers, logFile)
	}
	writers = append(writers, extra...)
	log.SetOutput(io.MultiWriter(writers...))
	return logFile
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
