package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/theirongolddev/ynabmon/internal/cli"
	"github.com/theirongolddev/ynabmon/internal/model"
	"github.com/theirongolddev/ynabmon/internal/pipeline"
	"github.com/theirongolddev/ynabmon/internal/ynab"

	"github.com/spf13/cobra"
)

var flagStatusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Refresh once and show the current budget month",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagStatusJSON, "json", false, "Print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	coord, err := newCoordinator(cfg, nil, logger)
	if err != nil {
		return err
	}

	if !flagQuiet && !flagStatusJSON {
		fmt.Fprintf(os.Stderr, "  Fetching budget %s...\n", cfg.YNAB.BudgetID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := coord.Refresh(ctx)
	if err != nil {
		return explainRefreshError(err)
	}

	if flagStatusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	printSnapshot(snap, cfg.YNAB.BudgetName)
	return nil
}

func explainRefreshError(err error) error {
	switch {
	case errors.Is(err, ynab.ErrUnauthorized):
		return errors.New("YNAB rejected the access token; create a new one under Account Settings > Developer Settings")
	case errors.Is(err, ynab.ErrRateLimited):
		return errors.New("rate limited by YNAB; try again in a few minutes")
	case errors.Is(err, ynab.ErrNotFound):
		return errors.New("budget not found; run `ynabmon budgets` to list the budgets this token can see")
	case errors.Is(err, pipeline.ErrNoCurrentMonth):
		return fmt.Errorf("%w (is the budget in use this month?)", err)
	}
	return err
}

func printSnapshot(snap *model.Snapshot, name string) {
	if name == "" {
		name = snap.BudgetName
	}
	cur, digits := snap.CurrencyCode, snap.CurrencyDigits

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("%s  %s", name, cli.FormatMonth(snap.Month))))
	fmt.Println()

	fmt.Print(cli.RenderKeyValues([][2]string{
		{"To be budgeted", cli.FormatAmount(snap.ToBeBudgeted, cur, digits)},
		{"Total balance", cli.FormatAmount(snap.TotalBalance, cur, digits)},
		{"Budgeted", cli.FormatAmount(snap.BudgetedThisMonth, cur, digits)},
		{"Activity", cli.FormatAmount(snap.ActivityThisMonth, cur, digits)},
		{"Age of money", cli.FormatAge(snap.AgeOfMoney)},
		{"Overspent", cli.FormatNumber(int64(snap.OverspentCategories))},
		{"Need approval", cli.FormatNumber(int64(snap.NeedApproval))},
		{"Uncleared", cli.FormatNumber(int64(snap.UnclearedTransactions))},
	}))
	fmt.Println()

	if len(snap.Accounts) > 0 {
		rows := make([][]string, 0, len(snap.Accounts)+2)
		for _, id := range sortedByName(snap.Accounts, func(a model.Account) string { return a.Name }) {
			a := snap.Accounts[id]
			rows = append(rows, []string{a.Name, cli.FormatAmount(a.Balance, cur, digits)})
		}
		rows = append(rows, cli.Separator,
			[]string{"Total", cli.FormatAmount(pipeline.SumBalances(snap.Accounts), cur, digits)})

		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "Accounts",
			Headers: []string{"Account", "Balance"},
			Rows:    rows,
		}))
		fmt.Println()
	}

	if len(snap.Categories) > 0 {
		rows := make([][]string, 0, len(snap.Categories))
		for _, id := range sortedByName(snap.Categories, func(c model.Category) string { return c.Name }) {
			c := snap.Categories[id]
			rows = append(rows, []string{
				c.Name,
				cli.FormatAmount(c.Budgeted, cur, digits),
				cli.FormatAmount(c.Balance, cur, digits),
			})
		}

		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "Categories",
			Headers: []string{"Category", "Budgeted", "Available"},
			Rows:    rows,
		}))
		fmt.Println()
	}

	fmt.Println(cli.MutedStyle.Render("  Fetched " + snap.FetchedAt.Local().Format("Jan 2 15:04:05")))
}

// sortedByName returns map keys ordered by display name, then id.
func sortedByName[V any](m map[string]V, name func(V) string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ni, nj := name(m[ids[i]]), name(m[ids[j]])
		if ni != nj {
			return ni < nj
		}
		return ids[i] < ids[j]
	})
	return ids
}
