package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/okonma/rendercache/internal/config"
	"github.com/okonma/rendercache/internal/logging"
	"github.com/okonma/rendercache/internal/token"
)

var listFormat string

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l", "ls"},
	Short:   "List cached tokens and their status",
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table, json)")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := token.NewStore(cfg.Render.CacheDir, cfg.Render.Format, logging.Nop())
	if err != nil {
		return err
	}
	tokens := store.All()

	if listFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(tokens)
	}

	if len(tokens) == 0 {
		fmt.Println("No tokens in cache.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tSTATUS\tUPDATED\tERROR")
	for _, t := range tokens {
		errMsg := t.Error
		if len(errMsg) > 48 {
			errMsg = errMsg[:45] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.TokenID, t.Status, t.UpdatedAt.Format("2006-01-02 15:04:05"), errMsg)
	}
	return w.Flush()
}
