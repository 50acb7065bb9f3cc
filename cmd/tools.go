package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chatpilot/internal/bot"
	"github.com/ziadkadry99/chatpilot/internal/config"
	"github.com/ziadkadry99/chatpilot/internal/logging"
	mcpserver "github.com/ziadkadry99/chatpilot/internal/mcp"
	"github.com/ziadkadry99/chatpilot/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Serve the chatbot tools over MCP",
	Long: `Starts a Model Context Protocol (MCP) server on stdio exposing the same
tools the chatbot offers to the model, plus knowledge base search.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Tools do not need platform credentials, so the config is not validated.
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		log := logging.Component(newLogger(cfg), "tools")

		registry := bot.NewToolRegistry()
		if err := tools.Register(registry, time.Now); err != nil {
			return err
		}

		var kb mcpserver.Knowledge
		if store, err := loadKnowledge(cfg, log); err != nil {
			log.WithError(err).Warn("knowledge base unavailable")
		} else if store != nil {
			kb = store
		}

		srv, err := mcpserver.NewServer(registry, kb)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "chatpilot MCP server started on stdio (tools=%d)\n", registry.Len())
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
