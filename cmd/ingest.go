package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chatpilot/internal/knowledge"
	"github.com/ziadkadry99/chatpilot/internal/progress"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Build the knowledge base from local documents",
	Long: `Reads the markdown and text files under dir (default: current directory),
splits them into chunks, embeds them and saves the collection to the
configured knowledge directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := newKnowledgeStore(cfg)
		if err != nil {
			return err
		}

		start := time.Now()
		n, err := knowledge.Ingest(cmd.Context(), store, root, cfg.Knowledge.Include, progress.NewReporter("Ingesting"))
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", root, err)
		}
		if err := store.Save(cfg.Knowledge.Dir); err != nil {
			return err
		}

		fmt.Printf("Ingested %d chunks into %s in %s.\n", n, cfg.Knowledge.Dir, time.Since(start).Round(time.Millisecond))
		if !cfg.Knowledge.Enabled {
			fmt.Println("Set knowledge.enabled: true in the config to use it in replies.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
