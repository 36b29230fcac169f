package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MJE43/zkpoh/internal/ledger"
	"github.com/MJE43/zkpoh/internal/store"
)

func ledgerCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Operate the compute ledger",
	}
	cmd.AddCommand(ledgerStatusCmd(g))
	cmd.AddCommand(ledgerCreateCmd(g))
	cmd.AddCommand(ledgerDepositCmd(g))
	cmd.AddCommand(ledgerSetKeyCmd(g))
	cmd.AddCommand(ledgerOpsCmd(g))
	return cmd
}

func gatewayFromFlags(g *globals) (*ledger.Gateway, error) {
	cfg, log, err := g.load()
	if err != nil {
		return nil, err
	}
	if cfg.Ledger.BrokerURL == "" {
		return nil, errors.New("ledger.broker_url is not configured")
	}
	return newGateway(cfg, nil, log)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ledgerStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the operator address and ledger balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := gatewayFromFlags(g)
			if err != nil {
				return err
			}
			st, err := gw.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func ledgerCreateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the ledger with the minimum balance if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := gatewayFromFlags(g)
			if err != nil {
				return err
			}
			res, err := gw.CreateLedgerIfMissing(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
}

func ledgerDepositCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit AMOUNT",
		Short: "Deposit funds into the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := ledger.ParseAmount(args[0])
			if err != nil {
				return err
			}
			gw, err := gatewayFromFlags(g)
			if err != nil {
				return err
			}
			res, err := gw.DepositFund(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
}

func ledgerSetKeyCmd(g *globals) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store the operator private key in the OS keyring",
		Long: `Store the operator's hex private key in the OS keyring, or in the
fallback file when no keyring is available. The key is read from --key or
from the first line of stdin. PRIVATE_KEY in the environment still takes
precedence at runtime.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			if key == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				key = strings.TrimSpace(line)
			}
			signer, err := ledger.NewSigner(key)
			if err != nil {
				return err
			}
			ks := ledger.NewKeyringStore(cfg.Ledger.KeyringService, cfg.Ledger.FallbackPath)
			if err := ks.SetPrivateKey(cfg.Ledger.Account, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored key for %s (%s)\n", cfg.Ledger.Account, signer.Address())
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Hex private key")
	return cmd
}

func ledgerOpsCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List ledger operations recorded by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			ops, err := st.ListLedgerOps(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tOP\tAMOUNT\tOK\tMESSAGE")
			for _, op := range ops {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n",
					op.CreatedAt.Local().Format("2006-01-02 15:04:05"), op.Op, op.Amount, op.OK, op.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	return cmd
}
