package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/aerochat/shopsync/internal/content"
	"github.com/aerochat/shopsync/internal/shops"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const defaultRunsLimit = 10

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
)

func newSyncCommand() *cobra.Command {
	var (
		kindFlag string
		initial  bool
	)
	cmd := &cobra.Command{
		Use:   "sync [shop-domain]",
		Short: "Run synchronization passes once",
		Long: `Run synchronization passes once and print a summary.

Without a shop domain every active shop is synchronized, the same round the
scheduler runs. With --initial the once-per-shop initial sync is performed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, app, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer app.Close()   //nolint:errcheck

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if initial {
					return fmt.Errorf("--initial requires a shop domain")
				}
				summary, err := app.scheduler.RunOnce(ctx)
				if err != nil {
					return err
				}
				printer := okColor
				if summary.Failures > 0 {
					printer = failColor
				}
				printer.Fprintf(out, "%d shops, %d passes, %d failures\n", summary.Shops, summary.Passes, summary.Failures)
				return nil
			}

			shopDomain, err := shops.NormalizeShopDomain(args[0])
			if err != nil {
				return err
			}

			if initial {
				result, err := app.engine.InitialSync(ctx, shopDomain)
				if err != nil {
					return err
				}
				if result.Skipped {
					warnColor.Fprintf(out, "%s: initial sync already completed\n", shopDomain)
					return nil
				}
				for _, passResult := range result.Results {
					printResult(cmd, passResult)
				}
				for _, warning := range result.Warnings {
					warnColor.Fprintf(out, "  warning: %s\n", warning)
				}
				return nil
			}

			kinds, err := kindsFromFlag(kindFlag)
			if err != nil {
				return err
			}
			failed := 0
			for _, kind := range kinds {
				result, err := app.engine.Sync(ctx, shopDomain, kind)
				if err != nil {
					failed++
					failColor.Fprintf(out, "%s %s: %v\n", shopDomain, kind, err)
					continue
				}
				printResult(cmd, result)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d passes failed", failed, len(kinds))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "all", "Kind to synchronize (pages, articles, all)")
	cmd.Flags().BoolVar(&initial, "initial", false, "Run the once-per-shop initial sync")
	return cmd
}

func newRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <shop-domain>",
		Short: "List recent synchronization runs for a shop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, app, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer app.Close()   //nolint:errcheck

			shopDomain, err := shops.NormalizeShopDomain(args[0])
			if err != nil {
				return err
			}
			runs, err := app.runs.Recent(cmd.Context(), shopDomain, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, run := range runs {
				printer := okColor
				switch {
				case run.ErrorMessage != "":
					printer = failColor
				case run.Truncated:
					printer = warnColor
				}
				printer.Fprintf(out, "%s %-8s saved=%d deleted=%d started=%s",
					run.RunID, run.Kind, run.Saved, run.Deleted, run.StartedAt.UTC().Format(time.RFC3339))
				if run.ErrorMessage != "" {
					printer.Fprintf(out, " error=%q", run.ErrorMessage)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultRunsLimit, "Number of runs to show")
	return cmd
}

func newRegisterShopCommand() *cobra.Command {
	var registration shops.Registration
	cmd := &cobra.Command{
		Use:   "register-shop <shop-domain>",
		Short: "Register or update an installed shop and its Admin API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, app, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer app.Close()   //nolint:errcheck

			registration.ShopDomain = args[0]
			shop, err := app.shops.Register(cmd.Context(), registration)
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "registered %s (status %s)\n", shop.ShopDomain, shop.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&registration.AccessToken, "access-token", "", "Admin API access token")
	cmd.Flags().StringVar(&registration.ShopID, "shop-id", "", "Shopify shop id")
	cmd.Flags().StringVar(&registration.ShopName, "shop-name", "", "Shop display name")
	cmd.Flags().StringVar(&registration.Email, "email", "", "Shop owner email")
	cmd.Flags().StringVar(&registration.CompanyID, "company-id", "", "Chat service company id")
	return cmd
}

func newDeactivateShopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate-shop <shop-domain>",
		Short: "Stop scheduled synchronization for a shop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, app, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer app.Close()   //nolint:errcheck

			shopDomain, err := shops.NormalizeShopDomain(args[0])
			if err != nil {
				return err
			}
			if err := app.shops.Deactivate(cmd.Context(), shopDomain); err != nil {
				return err
			}
			warnColor.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", shopDomain)
			return nil
		},
	}
}

func kindsFromFlag(raw string) ([]content.Kind, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "all") || strings.TrimSpace(raw) == "" {
		return content.Kinds(), nil
	}
	kind, err := content.ParseKind(raw)
	if err != nil {
		return nil, err
	}
	return []content.Kind{kind}, nil
}

func printResult(cmd *cobra.Command, result content.SyncResult) {
	out := cmd.OutOrStdout()
	printer := okColor
	if result.Truncated {
		printer = warnColor
	}
	printer.Fprintf(out, "%s %-8s saved=%d deleted=%d total=%d\n",
		result.ShopDomain, result.Kind, result.Saved, result.Deleted, result.TotalCount)
	for _, warning := range result.Warnings {
		warnColor.Fprintf(out, "  warning: %s\n", warning)
	}
}
