package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/theirongolddev/ynabmon/internal/cli"
	"github.com/theirongolddev/ynabmon/internal/config"

	"github.com/spf13/cobra"
)

var budgetsCmd = &cobra.Command{
	Use:   "budgets",
	Short: "List the budgets the access token can see",
	RunE:  runBudgets,
}

func init() {
	rootCmd.AddCommand(budgetsCmd)
}

func runBudgets(_ *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(configPath())
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("%w; set YNAB_API_TOKEN or run `ynabmon setup`", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	budgets, err := client.ListBudgets(ctx)
	if err != nil {
		return explainRefreshError(err)
	}
	if len(budgets) == 0 {
		fmt.Println("\n  No budgets found for this token.")
		return nil
	}

	rows := make([][]string, 0, len(budgets))
	for _, b := range budgets {
		marker := ""
		if b.ID == cfg.YNAB.BudgetID {
			marker = "*"
		}
		rows = append(rows, []string{b.Name, b.ID, b.CurrencyFormat.ISOCode, marker})
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Budgets",
		Headers: []string{"Name", "ID", "Currency", "Active"},
		Rows:    rows,
	}))
	return nil
}
