package cmd

import "github.com/spf13/cobra"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chatpilot",
	Short: "AI-powered WhatsApp chatbot for Wassenger",
	Long: `Chatpilot answers WhatsApp conversations received through Wassenger
webhooks using an OpenAI-compatible model. It can call business tools,
look up a knowledge base, transcribe voice notes and hand chats over to
human team members when customers ask for it.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "chatpilot.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
