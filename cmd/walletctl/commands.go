package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/walletd/walletd/internal/client"
	"github.com/walletd/walletd/internal/logging"
	"github.com/walletd/walletd/internal/session"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := httpClient().Health(cmd.Context())
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(h)
			}
			fmt.Printf("%s (stage %s, engine running: %t)\n", h.Status, h.LoadStage, h.EngineRunning)
			return nil
		},
	}
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := httpClient().State(cmd.Context())
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(snap)
			}
			printSummary(snap)
			return nil
		},
	}
}

func printSummary(snap *session.Snapshot) {
	fmt.Printf("Stage:     %s\n", snap.LoadStage)
	fmt.Printf("Engine:    %t", snap.EngineRunning)
	if snap.Network != "" {
		fmt.Printf(" (%s)", snap.Network)
	}
	fmt.Println()
	if snap.BootError != nil {
		fmt.Printf("Error:     %s: %s (recovery: %s)\n", snap.BootError.Kind, snap.BootError.Message, snap.BootError.Recovery)
	}
	if snap.NeedsPassword {
		fmt.Println("Password:  required")
	}
	if snap.Balance != nil {
		fmt.Printf("Balance:   %d sats\n", snap.Balance.Total())
	}
	fmt.Printf("Price:     %g %s\n", snap.Price, snap.Fiat.Value)
	fmt.Printf("Sync:      %s", snap.SyncHealth)
	if snap.LastSyncAt != nil {
		fmt.Printf(" (last %s)", snap.LastSyncAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Printf("Entitled:  %t\n", snap.Entitled)
}

func setupCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Boot the wallet engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := httpClient().Setup(cmd.Context(), password)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(snap)
			}
			printSummary(snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Wallet password")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync tick now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ran, err := httpClient().Sync(cmd.Context())
			if err != nil {
				return err
			}
			if !ran {
				fmt.Println("Skipped: no engine running or a tick is in flight")
				return nil
			}
			fmt.Println("Synced")
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Stop the engine and wipe all wallet data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete without --yes")
			}
			if _, err := httpClient().DeleteWallet(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Wallet deleted. Restart walletd to create a new one.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List labels and contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := httpClient().Tags(cmd.Context())
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(tags)
			}
			for _, t := range tags {
				fmt.Printf("%-10s %-8s %s\n", t.ID, t.Kind, t.Name)
			}
			return nil
		},
	}
}

func priceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price <currency>",
		Short: "Show the bitcoin price in a currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := httpClient().Price(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%g %s\n", price, strings.ToUpper(args[0]))
			return nil
		},
	}
}

func fiatCmd() *cobra.Command {
	var symbol string
	var digits int
	cmd := &cobra.Command{
		Use:   "fiat <code>",
		Short: "Set the display currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := strings.ToUpper(args[0])
			cur := session.Currency{Value: code, Label: code, HasSymbol: symbol, MaxFractionalDigits: digits}
			return httpClient().SaveFiat(cmd.Context(), cur)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "Currency symbol")
	cmd.Flags().IntVar(&digits, "digits", 2, "Maximum fractional digits")
	return cmd
}

func npubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "npub <id>",
		Short: "Store the public identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return httpClient().SavePublicID(cmd.Context(), args[0])
		},
	}
}

func invoiceDisplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "invoice-display <unified|lightning|onchain>",
		Short:     "Set the preferred receive format",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"unified", "lightning", "onchain"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := session.ParseInvoiceKind(args[0])
			if err != nil {
				return err
			}
			return httpClient().SetInvoiceDisplay(cmd.Context(), kind)
		},
	}
}

func backedUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backed-up",
		Short: "Record that the seed was backed up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return httpClient().SetBackedUp(cmd.Context())
		},
	}
}

func betaWarnedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "beta-warned",
		Short: "Acknowledge the beta warning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return httpClient().SetBetaWarned(cmd.Context())
		},
	}
}

func subscriptionCmd() *cobra.Command {
	var justPaid bool
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Check the subscription status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := httpClient().CheckSubscription(cmd.Context(), justPaid)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(sub)
			}
			if sub.ExpiresAt == nil {
				fmt.Println("No subscription")
				return nil
			}
			fmt.Printf("Entitled: %t (expires %s)\n", sub.Entitled, sub.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&justPaid, "just-paid", false, "A payment was just made")
	return cmd
}

func scanCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "scan [payment string]",
		Short: "Parse an address, invoice, LNURL or link",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := httpClient()
			if clear {
				return c.ClearScan(cmd.Context())
			}
			if len(args) == 0 {
				return fmt.Errorf("a payment string is required")
			}
			parsed, err := c.Incoming(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if parsed == nil {
				fmt.Println("Nothing to pay")
				return nil
			}
			return printJSON(parsed)
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the last scan result")
	return cmd
}

func activityCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "List recent activity, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := httpClient().Activity(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(items)
			}
			for _, it := range items {
				when := time.Unix(it.Time, 0).Format("2006-01-02 15:04")
				labels := make([]string, 0, len(it.Labels))
				for _, l := range it.Labels {
					labels = append(labels, l.Name)
				}
				switch {
				case it.OnChain != nil:
					fmt.Printf("%s  onchain    %-12s +%d -%d  %s\n", when, it.OnChain.Txid, it.OnChain.Received, it.OnChain.Sent, strings.Join(labels, ","))
				case it.Invoice != nil:
					amount := "?"
					if it.Invoice.AmountSats != nil {
						amount = strconv.FormatUint(*it.Invoice.AmountSats, 10)
					}
					fmt.Printf("%s  lightning  %-12s %s  %s\n", when, it.Invoice.PaymentHash, amount, strings.Join(labels, ","))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum items, 0 for all")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the snapshot stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ws, err := client.NewWSClient(wsURL(), flagToken, logging.Discard())
			if err != nil {
				return err
			}
			err = ws.Watch(ctx, func(ev client.Event) bool {
				switch {
				case ev.Navigate != nil:
					fmt.Printf("navigate: %s\n", ev.Navigate.Path)
				case ev.Snapshot != nil && flagJSON:
					_ = printJSON(ev.Snapshot.State)
				case ev.Snapshot != nil:
					s := ev.Snapshot.State
					fmt.Printf("[%s] stage=%s engine=%t syncing=%t health=%s price=%g %s\n",
						time.Now().Format("15:04:05"), s.LoadStage, s.EngineRunning, s.IsSyncing, s.SyncHealth, s.Price, s.Fiat.Value)
				}
				return true
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
