// Command encodingctl inspects and repairs the stored face encoding sets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/face-attendance/internal/config"
	"github.com/example/face-attendance/internal/encodingstore"
)

var backendOverride string

var rootCmd = &cobra.Command{
	Use:   "encodingctl",
	Short: "Inspect and maintain stored face encoding sets",
	Long: `encodingctl reads the same configuration as the attendance service
(environment, .env and ATTENDANCE_CONFIG) and operates on its encoding store.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendOverride, "backend", "", "Override ENCODING_BACKEND (disk or s3)")
	rootCmd.AddCommand(listCmd, showCmd, sweepCmd, tokenCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	if backendOverride != "" {
		cfg.Encodings.Backend = backendOverride
	}
	return cfg, nil
}

func openStore() (encodingstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := encodingstore.Open(cfg.Encodings)
	if err != nil {
		return nil, fmt.Errorf("failed to open encoding store: %w", err)
	}
	return store, nil
}
