package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	cl "gilded/internal/cli"
	"gilded/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

type target struct {
	apiBase string
	token   string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	t := &target{apiBase: cfg.APIBaseURL, token: cfg.AdminToken}
	if p, err := cl.LoadProfile(); err == nil {
		if _, set := os.LookupEnv("GILDCTL_API_BASE_URL"); !set && p.APIBaseURL != "" {
			t.apiBase = p.APIBaseURL
		}
		if t.token == "" {
			t.token = p.AdminToken
		}
	}

	root := &cobra.Command{
		Use:          "gildctl",
		Short:        "Operator CLI for the gilded gold ledger bot",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupOutput()
		},
	}
	root.PersistentFlags().StringVar(&t.apiBase, "api", t.apiBase, "admin API base URL")

	root.AddCommand(
		newLoginCmd(t),
		newLogoutCmd(),
		newAccountsCmd(t),
		newAccountCmd(t),
		newLogCmd(t),
		newMarketCmd(t),
		newPlansCmd(t),
		newSessionCmd(t),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

func newClient(t *target) (*cl.Client, error) {
	if strings.TrimSpace(t.token) == "" {
		return nil, errors.New("no admin token: run `gildctl login` or set GILDED_ADMIN_TOKEN")
	}
	return cl.NewClient(strings.TrimSpace(t.apiBase), t.token), nil
}

func newLoginCmd(t *target) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the admin API address and token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				var err error
				token, err = promptSecret("Admin token")
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			client := cl.NewClient(t.apiBase, token)
			if _, err := client.Plans(ctx); err != nil {
				return fmt.Errorf("verify token: %w", err)
			}
			if err := cl.SaveProfile(cl.Profile{APIBaseURL: client.BaseURL, AdminToken: client.Token}); err != nil {
				return err
			}
			printSuccess("Logged in to " + client.BaseURL + ".")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "admin token (prompted when omitted)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved admin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearProfile(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newAccountsCmd(t *target) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List every player account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(t)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			accounts, err := client.Accounts(ctx)
			if err != nil {
				return err
			}
			renderAccounts(accounts)
			return nil
		},
	}
}

func newAccountCmd(t *target) *cobra.Command {
	return &cobra.Command{
		Use:   "account <player-id>",
		Short: "Show one player's balance, subscriptions and inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(t)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			acct, err := client.Account(ctx, args[0])
			if err != nil {
				return err
			}
			renderAccount(acct)
			return nil
		},
	}
}

func newLogCmd(t *target) *cobra.Command {
	var player string
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the transaction log, newest last",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(t)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			entries, err := client.Log(ctx, player, limit)
			if err != nil {
				return err
			}
			renderLog(entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "only entries for this player id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}

func newMarketCmd(t *target) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show the current black market offering",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(t)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			offering, err := client.Market(ctx)
			if err != nil {
				return err
			}
			renderMarket(offering)
			return nil
		},
	}
}

func newPlansCmd(t *target) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "Show subscription plans and their per-session price",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(t)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			plans, err := client.Plans(ctx)
			if err != nil {
				return err
			}
			renderPlans(plans)
			return nil
		},
	}
}

func newSessionCmd(t *target) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session lifecycle",
	}
	var key string
	start := &cobra.Command{
		Use:   "start",
		Short: "Bill subscriptions, apply interest and rotate the market",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(t)
			if err != nil {
				return err
			}
			if key == "" {
				key = uuid.NewString()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			report, err := client.StartSession(ctx, key)
			if err != nil {
				var apiErr *cl.APIError
				if !errors.As(err, &apiErr) || apiErr.Status >= 500 {
					printWarn("Retry with --key " + key + " to avoid billing twice.")
				}
				return err
			}
			renderSessionReport(report)
			return nil
		},
	}
	start.Flags().StringVar(&key, "key", "", "idempotency key; reuse it to retry safely")
	cmd.AddCommand(start)
	return cmd
}
