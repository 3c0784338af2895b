package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "petmarket/internal/cli"

	"github.com/spf13/cobra"
)

func main() {
	apiBase := envOr("PETMARKET_API", "http://localhost:8080")
	group := envOr("PETMARKET_GROUP", "default")
	entity := os.Getenv("PETMARKET_ID")

	root := &cobra.Command{
		Use:          "pmctl",
		Short:        "Pet market economy client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")
	root.PersistentFlags().StringVar(&group, "group", group, "group id")
	root.PersistentFlags().StringVar(&entity, "id", entity, "entity id")

	root.AddCommand(
		newAccountCmd(&apiBase, &group, &entity),
		newBankCmd(&apiBase, &group, &entity),
		newLoanCmd(&apiBase, &group, &entity),
		newTransferCmd(&apiBase, &group, &entity),
		newMarketCmd(&apiBase),
		newBuyCmd(&apiBase, &group, &entity),
		newSellCmd(&apiBase, &group, &entity),
		newPortfolioCmd(&apiBase, &group, &entity),
		newInvestCmd(&apiBase, &group, &entity),
		newPetsCmd(&apiBase, &group, &entity),
		newRansomCmd(&apiBase, &group, &entity),
		newTopCmd(&apiBase, &group),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimSpace(*apiBase))
}

func requireEntity(entity *string) error {
	if strings.TrimSpace(*entity) == "" {
		return fmt.Errorf("entity id required: pass --id or set PETMARKET_ID")
	}
	return nil
}

func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func parseAmount(arg string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", arg)
	}
	return v, nil
}

func newAccountCmd(apiBase, group, entity *string) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show your account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Account(ctx, *group, *entity)
			if err != nil {
				return err
			}
			return renderAccount(out)
		},
	}
}

func newBankCmd(apiBase, group, entity *string) *cobra.Command {
	bank := &cobra.Command{
		Use:   "bank",
		Short: "Savings bank commands",
	}
	bank.AddCommand(&cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit coins into the bank",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bankOp(cmd, apiBase, group, entity, args[0], newClient(apiBase).Deposit)
		},
	})
	bank.AddCommand(&cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Withdraw coins from the bank",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bankOp(cmd, apiBase, group, entity, args[0], newClient(apiBase).Withdraw)
		},
	})
	bank.AddCommand(&cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the bank level",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).UpgradeBank(ctx, *group, *entity)
			if err != nil {
				return err
			}
			return renderBank(out)
		},
	})
	bank.AddCommand(&cobra.Command{
		Use:   "interest",
		Short: "Collect pending savings interest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).CollectInterest(ctx, *group, *entity)
			if err != nil {
				return err
			}
			return renderBank(out)
		},
	})
	return bank
}

type amountCall func(context.Context, string, string, int64) (map[string]any, error)

func bankOp(cmd *cobra.Command, apiBase, group, entity *string, arg string, call amountCall) error {
	if err := requireEntity(entity); err != nil {
		return err
	}
	amount, err := parseAmount(arg)
	if err != nil {
		return err
	}
	ctx, cancel := cmdContext(cmd)
	defer cancel()
	out, err := call(ctx, *group, *entity, amount)
	if err != nil {
		return err
	}
	return renderBank(out)
}

func newLoanCmd(apiBase, group, entity *string) *cobra.Command {
	loan := &cobra.Command{
		Use:   "loan",
		Short: "Loan commands",
	}
	loan.AddCommand(&cobra.Command{
		Use:   "take <amount>",
		Short: "Borrow coins against your credit limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bankishOp(cmd, apiBase, group, entity, args[0], newClient(apiBase).TakeLoan, renderLoan)
		},
	})
	loan.AddCommand(&cobra.Command{
		Use:   "repay [amount]",
		Short: "Repay the loan (omit amount to repay everything)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := "0"
			if len(args) == 1 {
				arg = args[0]
			}
			return bankishOp(cmd, apiBase, group, entity, arg, newClient(apiBase).Repay, renderLoan)
		},
	})
	return loan
}

func bankishOp(cmd *cobra.Command, apiBase, group, entity *string, arg string, call amountCall, render func(map[string]any) error) error {
	if err := requireEntity(entity); err != nil {
		return err
	}
	amount, err := parseAmount(arg)
	if err != nil {
		return err
	}
	ctx, cancel := cmdContext(cmd)
	defer cancel()
	out, err := call(ctx, *group, *entity, amount)
	if err != nil {
		return err
	}
	return render(out)
}

func newTransferCmd(apiBase, group, entity *string) *cobra.Command {
	transfer := &cobra.Command{
		Use:   "transfer <to> <amount>",
		Short: "Send coins to another entity (fee applies)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Transfer(ctx, *group, *entity, args[0], amount)
			if err != nil {
				return err
			}
			return renderTransfer(out)
		},
	}
	transfer.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Show recent transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).TransferHistory(ctx, *group, *entity)
			if err != nil {
				return err
			}
			return renderTransferHistory(out)
		},
	})
	return transfer
}

func newMarketCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "market [code]",
		Short: "Show the financial market",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			client := newClient(apiBase)
			if len(args) == 1 {
				out, err := client.Instrument(ctx, args[0])
				if err != nil {
					return err
				}
				return renderInstrument(out)
			}
			out, err := client.Market(ctx)
			if err != nil {
				return err
			}
			return renderMarket(out)
		},
	}
}

func newBuyCmd(apiBase, group, entity *string) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <code> <amount>",
		Short: "Buy a market instrument with coins",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Buy(ctx, *group, *entity, args[0], amount)
			if err != nil {
				return err
			}
			return renderTrade(out)
		},
	}
}

func newSellCmd(apiBase, group, entity *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sell <code> <amount|all>",
		Short: "Sell holdings at the current price",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			all := strings.EqualFold(args[1], "all")
			var value int64
			if !all {
				var err error
				value, err = parseAmount(args[1])
				if err != nil {
					return err
				}
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Sell(ctx, *group, *entity, args[0], value, all)
			if err != nil {
				return err
			}
			return renderTrade(out)
		},
	}
}

func newPortfolioCmd(apiBase, group, entity *string) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show your holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Portfolio(ctx, *group, *entity)
			if err != nil {
				return err
			}
			return renderPortfolio(out)
		},
	}
}

func newInvestCmd(apiBase, group, entity *string) *cobra.Command {
	invest := &cobra.Command{
		Use:   "invest",
		Short: "Managed investment commands",
	}
	invest.AddCommand(&cobra.Command{
		Use:   "open <amount>",
		Short: "Open a managed investment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bankishOp(cmd, apiBase, group, entity, args[0], newClient(apiBase).InvestOpen, renderInvestment)
		},
	})
	invest.AddCommand(&cobra.Command{
		Use:   "addon <amount>",
		Short: "Add funds to the open investment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bankishOp(cmd, apiBase, group, entity, args[0], newClient(apiBase).InvestAddon, renderInvestment)
		},
	})
	invest.AddCommand(&cobra.Command{
		Use:   "close",
		Short: "Close the open investment and collect its value",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).InvestClose(ctx, *group, *entity)
			if err != nil {
				return err
			}
			return renderInvestment(out)
		},
	})
	return invest
}

func newPetsCmd(apiBase, group, entity *string) *cobra.Command {
	pets := &cobra.Command{
		Use:   "pets",
		Short: "Pet relation commands",
	}
	pets.AddCommand(&cobra.Command{
		Use:   "buy <target>",
		Short: "Purchase another entity as a pet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).PurchasePet(ctx, *group, *entity, args[0])
			if err != nil {
				return err
			}
			return renderPet(out)
		},
	})
	pets.AddCommand(&cobra.Command{
		Use:   "release <target>",
		Short: "Release a pet (30% of its value refunded)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).ReleasePet(ctx, *group, *entity, args[0])
			if err != nil {
				return err
			}
			return renderPet(out)
		},
	})
	return pets
}

func newRansomCmd(apiBase, group, entity *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ransom",
		Short: "Buy your own freedom from your master",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireEntity(entity); err != nil {
				return err
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Ransom(ctx, *group, *entity)
			if err != nil {
				return err
			}
			return renderPet(out)
		},
	}
}

func newTopCmd(apiBase, group *string) *cobra.Command {
	var kind string
	var limit int
	top := &cobra.Command{
		Use:   "top",
		Short: "Group leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Rankings(ctx, *group, kind, limit)
			if err != nil {
				return err
			}
			return renderRankings(out, kind)
		},
	}
	top.Flags().StringVar(&kind, "by", "networth", "ranking kind: coins, value, networth")
	top.Flags().IntVar(&limit, "limit", 10, "number of rows")
	return top
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}
	admin.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Force a market tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if _, err := newClient(apiBase).MarketTick(ctx); err != nil {
				return err
			}
			printSuccess("Market updated.")
			return nil
		},
	})
	admin.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Force a synchronous ledger snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if _, err := newClient(apiBase).Flush(ctx); err != nil {
				return err
			}
			printSuccess("Ledger flushed.")
			return nil
		},
	})
	return admin
}
