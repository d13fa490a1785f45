// Package cmd implements the enginectl operator CLI, a thin HTTP client
// for a running process engine.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var baseURL string

var rootCmd = &cobra.Command{
	Use:   "enginectl",
	Short: "Operate a running process engine over its HTTP API",
}

func Execute() error {
	rootCmd.PersistentFlags().StringVar(&baseURL, "addr", envOr("ENGINE_ADDR", "http://localhost:8080"), "base URL of the engine API")

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
