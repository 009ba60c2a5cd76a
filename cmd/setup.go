package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/ynabmon/internal/config"
	"github.com/theirongolddev/ynabmon/internal/model"
	"github.com/theirongolddev/ynabmon/internal/pipeline"
	"github.com/theirongolddev/ynabmon/internal/tui/theme"
	"github.com/theirongolddev/ynabmon/internal/ynab"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	path := configPath()
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("  Welcome to ynabmon!")
	fmt.Println()

	// 1. Access token
	token := cfg.YNAB.APIToken
	tokenTitle := "YNAB personal access token"
	if token != "" {
		tokenTitle += " (current: " + maskAPIKey(token) + ")"
	}
	err = huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(tokenTitle).
			Description("Account Settings > Developer Settings > New Token").
			EchoMode(huh.EchoModePassword).
			Value(&token).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("a token is required")
				}
				return nil
			}),
	)).Run()
	if err != nil {
		return setupAborted(err)
	}
	cfg.YNAB.APIToken = strings.TrimSpace(token)

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// 2. Budget
	budgets, err := client.ListBudgets(ctx)
	if err != nil {
		return explainRefreshError(err)
	}
	if len(budgets) == 0 {
		return errors.New("this token has no budgets")
	}

	budgetID := cfg.YNAB.BudgetID
	if budgetID == "" {
		budgetID = budgets[0].ID
	}
	err = huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Budget").
			Options(budgetOptions(budgets)...).
			Value(&budgetID),
	)).Run()
	if err != nil {
		return setupAborted(err)
	}
	cfg.YNAB.BudgetID = budgetID
	for _, b := range budgets {
		if b.ID == budgetID {
			cfg.YNAB.BudgetName = b.Name
		}
	}

	// 3. Sensors
	detail, err := client.GetBudget(ctx, budgetID)
	if err != nil {
		return explainRefreshError(err)
	}
	today, err := budgetToday(cfg, time.Now())
	if err != nil {
		return err
	}
	snap, err := pipeline.Reduce(detail, model.Selection{
		BudgetID:      budgetID,
		AccountsAll:   true,
		CategoriesAll: true,
	}, today)
	if err != nil {
		return explainRefreshError(err)
	}

	sensors := cfg.Sensors
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Track every account?").
				Description("New accounts are picked up the next time ynabmon starts.").
				Value(&sensors.AccountsAll),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Accounts").
				Options(accountOptions(snap.Accounts, sensors.Accounts)...).
				Value(&sensors.Accounts),
		).WithHideFunc(func() bool { return sensors.AccountsAll }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Track every category?").
				Value(&sensors.CategoriesAll),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Categories").
				Options(categoryOptions(snap.Categories, sensors.Categories)...).
				Value(&sensors.Categories),
		).WithHideFunc(func() bool { return sensors.CategoriesAll }),
	).Run()
	if err != nil {
		return setupAborted(err)
	}
	cfg.Sensors = sensors

	// 4. Theme
	themeName := cfg.Appearance.Theme
	themeOpts := make([]huh.Option[string], 0, len(theme.All))
	for _, name := range theme.Names() {
		themeOpts = append(themeOpts, huh.NewOption(name, name))
	}
	err = huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Color theme").
			Options(themeOpts...).
			Value(&themeName),
	)).Run()
	if err != nil {
		return setupAborted(err)
	}
	cfg.Appearance.Theme = themeName

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveFile(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", path)
	fmt.Println("  Run `ynabmon status` to check the budget, or `ynabmon daemon` to start polling.")
	fmt.Println()
	return nil
}

// budgetToday returns now in the configured time zone, the same calendar the
// daemon uses to pick the current month.
func budgetToday(cfg config.Config, now time.Time) (time.Time, error) {
	loc, err := cfg.Location()
	if err != nil {
		return now, err
	}
	if loc != nil {
		now = now.In(loc)
	}
	return now, nil
}

func setupAborted(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errors.New("setup canceled, nothing saved")
	}
	return err
}

func budgetOptions(budgets []ynab.BudgetSummary) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(budgets))
	for _, b := range budgets {
		label := b.Name
		if code := b.CurrencyFormat.ISOCode; code != "" {
			label += " (" + code + ")"
		}
		opts = append(opts, huh.NewOption(label, b.ID))
	}
	return opts
}

func accountOptions(accounts map[string]model.Account, selected []string) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(accounts))
	for _, id := range sortedByName(accounts, func(a model.Account) string { return a.Name }) {
		opts = append(opts, huh.NewOption(accounts[id].Name, id).Selected(containsID(selected, id)))
	}
	return opts
}

func categoryOptions(categories map[string]model.Category, selected []string) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(categories))
	for _, id := range sortedByName(categories, func(c model.Category) string { return c.Name }) {
		opts = append(opts, huh.NewOption(categories[id].Name, id).Selected(containsID(selected, id)))
	}
	return opts
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func maskAPIKey(key string) string {
	if len(key) > 16 {
		return key[:8] + "..." + key[len(key)-4:]
	}
	if len(key) > 4 {
		return key[:4] + "..."
	}
	return "****"
}
