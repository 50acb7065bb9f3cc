package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chatpilot/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize chatpilot configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the chatbot and generates a chatpilot.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.RunWizard(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("\nConfiguration saved to %s (model %s).\n", cfgFile, cfg.LLM.Model)
		fmt.Println("Run `chatpilot serve` to start the chatbot.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
