package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	showHidden  bool
	keepDeleted bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "audioanchor",
	Short: "Keep an audio catalog in step with the filesystem",
	Long: `audioanchor mirrors registered directories of audio files into a
SQLite catalog of albums and tracks. Albums and tracks are created, re-ordered
and removed to match what is on disk; listening progress is never lost.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.toml", "Path to the TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&showHidden, "show-hidden", false, "Include dot-prefixed folders and files (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&keepDeleted, "keep-deleted", false, "Keep catalog entries whose files are gone (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
