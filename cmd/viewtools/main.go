package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "viewtools",
	Short: "viewtools - template toolbox server",
	Long: `viewtools renders HTML templates through a two-pass screen/layout
pipeline. Templates reach request, session and application scoped tools
configured in a toolbox file, and an optional data model exposed as the
"db" tool.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve templates over HTTP",
	Long: `Starts the HTTP server. Every path not claimed by the metrics endpoint
is rendered through the layout pipeline; a path ending in "/" renders the
directory's index template.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var renderCmd = &cobra.Command{
	Use:   "render [template]",
	Short: "Render one template to stdout",
	Long: `Renders a template through the same pipeline the server uses, layout and
error template included, and writes the page to stdout.

Example:
  viewtools render books/list.html --param page=2 --param layout=Wide.html`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration, toolbox and data model",
	Long: `Loads the configuration, classifies every toolbox entry and, when a data
model is configured, opens it and lists its entities and attributes.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

var renderParams map[string]string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "viewtools.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	renderCmd.Flags().StringToStringVarP(&renderParams, "param", "p", nil, "Request parameter (repeatable)")

	rootCmd.AddCommand(serveCmd, renderCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
