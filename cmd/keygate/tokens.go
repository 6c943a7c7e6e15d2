package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/keygate/internal/auth"
	"github.com/dukerupert/keygate/internal/client"
	"github.com/dukerupert/keygate/internal/email"
	"github.com/dukerupert/keygate/internal/entitlement"
	"github.com/dukerupert/keygate/internal/model"
)

func newIssueCommand() *cobra.Command {
	var (
		plan      string
		emailHint string
		count     int
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue activation tokens directly against the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := env(ctx)
			if err != nil {
				return err
			}
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			var mailer *email.Client
			if emailHint != "" && cfg.EmailEnabled() {
				mailer = email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
			}

			issuer := entitlement.NewIssuer(b.Tokens, nil)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for i := 0; i < count; i++ {
				issued, err := issuer.Issue(ctx, model.Plan(plan), emailHint)
				if err != nil {
					return err
				}
				if mailer != nil {
					if err := mailer.SendToken(ctx, emailHint, issued.Token, issued.Plan, issued.ExpiresAt); err != nil {
						logger.Warn("email token", "error", err)
					}
				}
				if err := enc.Encode(issued); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&plan, "plan", "", "Plan to grant: short, long or unlimited")
	cmd.Flags().StringVar(&emailHint, "email", "", "Recipient email stored with the token")
	cmd.Flags().IntVar(&count, "count", 1, "Number of tokens to issue")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and revoke stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newTokensListCommand())
	cmd.AddCommand(newTokensRevokeCommand())
	return cmd
}

func newTokensListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every token, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, err := env(ctx)
			if err != nil {
				return err
			}
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			tokens, err := b.Tokens.List(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(tokens)
			}
			return writeTokenTable(cmd.OutOrStdout(), tokens, time.Now().UTC())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newTokensRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a token by record id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := env(ctx)
			if err != nil {
				return err
			}
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			t, err := b.Tokens.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("token %s not found", args[0])
			}
			revoked, err := b.Tokens.Revoke(ctx, args[0])
			if err != nil {
				return err
			}
			if revoked {
				logger.Info("token revoked", "token_id", args[0])
			} else {
				logger.Info("token already revoked", "token_id", args[0])
			}
			return nil
		},
	}
}

func tokenState(t model.Token, now time.Time) string {
	switch {
	case !t.Valid:
		return "revoked"
	case !t.Claimed():
		return "unclaimed"
	case t.ExpiredAt(now):
		return "expired"
	default:
		return "active"
	}
}

func writeTokenTable(w io.Writer, tokens []model.Token, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOKEN\tPLAN\tSTATE\tOWNER\tEXPIRES")
	for _, t := range tokens {
		owner := "-"
		if t.OwnerID != nil {
			owner = fmt.Sprint(*t.OwnerID)
		}
		expires := "never"
		if t.ExpiresAt != nil {
			expires = t.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Token, t.Plan, tokenState(t, now), owner, expires)
	}
	return tw.Flush()
}

func newAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage login accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newAccountCreateCommand())
	return cmd
}

func newAccountCreateCommand() *cobra.Command {
	var (
		name     string
		addr     string
		password string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account, optionally with the admin role",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := env(ctx)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("KEYGATE_ACCOUNT_PASSWORD")
			}
			if len(password) < auth.MinPasswordLength {
				return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
			}
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			role := model.RoleMember
			if admin {
				role = model.RoleAdmin
			}
			acct, err := b.Accounts.Create(ctx, name, strings.ToLower(strings.TrimSpace(addr)), hash, role)
			if err != nil {
				return err
			}
			logger.Info("account created", "account_id", acct.ID, "role", acct.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&addr, "email", "", "Login email")
	cmd.Flags().StringVar(&password, "password", "", "Password (or KEYGATE_ACCOUNT_PASSWORD)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newCheckCommand() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "check <token>",
		Short: "Ask a running server whether a token can still be activated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := client.New(url).Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !v.Valid {
				fmt.Fprintln(out, "invalid or already used")
				return nil
			}
			expires := "never expires"
			if v.ExpiresAt != nil {
				expires = "expires " + v.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(out, "claimable: plan %s, %s\n", v.Plan, expires)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8090", "Base URL of the keygate server")
	return cmd
}
