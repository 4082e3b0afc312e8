package cmd

import (
	"fmt"
	"os"

	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/spf13/cobra"
)

// ValidateConfigCmd represents the validate-config command
var ValidateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate an application descriptor",
	Long:  `This command loads an application descriptor file, applies defaults, and reports whether it describes a runnable worker pool.`,
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("app-config")
		quiet, _ := cmd.Flags().GetBool("quiet")

		cfg, err := config.LoadAppConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid descriptor %s: %v\n", path, err)
			os.Exit(1)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid descriptor %s: %v\n", path, err)
			os.Exit(1)
		}

		if !quiet {
			fmt.Printf("descriptor %s is valid\n", path)
			fmt.Printf("  app:                  %s\n", cfg.Name)
			fmt.Printf("  process:              %s %s\n", cfg.ProcessPath, cfg.Arguments)
			fmt.Printf("  processes per app:    %d\n", cfg.ProcessesPerApp)
			fmt.Printf("  rapid fails per min:  %d\n", cfg.RapidFailsPerMinute)
			fmt.Printf("  startup time limit:   %s\n", cfg.StartupTimeLimit())
			fmt.Printf("  shutdown time limit:  %s\n", cfg.ShutdownTimeLimit())
		}
	},
}

func init() {
	ValidateConfigCmd.Flags().StringP("app-config", "a", "app.toml", "Application descriptor file to validate")
	ValidateConfigCmd.Flags().BoolP("quiet", "q", false, "Suppress descriptor details, only report validity")
}
