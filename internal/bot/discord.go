// Package bot exposes the economy as Discord chat commands. One Discord
// guild maps to one ledger group, so economies never leak across servers.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"petmarket/internal/config"
	"petmarket/internal/ledger"
	"petmarket/internal/market"

	"github.com/bwmarrin/discordgo"
)

const prefix = "!"

type Bot struct {
	cfg     config.Config
	log     *slog.Logger
	svc     *ledger.Service
	session *discordgo.Session
}

func New(cfg config.Config, logger *slog.Logger, svc *ledger.Service) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	b := &Bot{cfg: cfg, log: logger, svc: svc, session: session}
	session.AddHandler(b.onMessage)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	return b, nil
}

// Run opens the gateway connection and blocks until the context ends.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	b.log.Info("discord bot connected")
	<-ctx.Done()
	err := b.session.Close()
	b.log.Info("discord bot disconnected")
	return err
}

func (b *Bot) groupID(guildID string) string {
	return b.cfg.DiscordGroup + ":" + guildID
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || !strings.HasPrefix(m.Content, prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	group := b.groupID(m.GuildID)
	entity := m.Author.ID

	reply := b.dispatch(group, entity, cmd, args, m)
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		b.log.Error("discord send failed", "channel", m.ChannelID, "err", err)
	}
}

func (b *Bot) dispatch(group, entity, cmd string, args []string, m *discordgo.MessageCreate) string {
	switch cmd {
	case "account", "me":
		return b.accountReply(group, entity)
	case "deposit":
		return amountCmd(args, func(n int64) (string, error) {
			st, err := b.svc.Deposit(group, entity, n)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Deposited %d. Bank %d/%d, coins %d.", n, st.Bank, st.BankLimit, st.Coins), nil
		})
	case "withdraw":
		return amountCmd(args, func(n int64) (string, error) {
			st, err := b.svc.Withdraw(group, entity, n)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Withdrew %d. Bank %d, coins %d.", n, st.Bank, st.Coins), nil
		})
	case "upgrade":
		st, err := b.svc.UpgradeBank(group, entity)
		if err != nil {
			return errReply(err)
		}
		return fmt.Sprintf("Bank upgraded to level %d for %d. New limit %d.", st.BankLevel, st.Cost, st.BankLimit)
	case "interest":
		st, err := b.svc.CollectInterest(group, entity)
		if err != nil {
			return errReply(err)
		}
		return fmt.Sprintf("Interest collected: %d. Coins %d.", st.Interest, st.Coins)
	case "loan":
		return amountCmd(args, func(n int64) (string, error) {
			st, err := b.svc.TakeLoan(group, entity, n)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Loan granted: %d. Outstanding %d, coins %d.", st.Granted, st.LoanAmount, st.Coins), nil
		})
	case "repay":
		var n int64
		if len(args) > 0 {
			v, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return "Usage: !repay [amount]"
			}
			n = v
		}
		st, err := b.svc.Repay(group, entity, n)
		if err != nil {
			return errReply(err)
		}
		return fmt.Sprintf("Repaid %d. Outstanding %d, coins %d.", st.Repaid, st.LoanAmount, st.Coins)
	case "transfer", "pay":
		target := mentionTarget(args, m)
		if target == "" || len(args) < 2 {
			return "Usage: !transfer @user amount"
		}
		n, err := strconv.ParseInt(args[len(args)-1], 10, 64)
		if err != nil {
			return "Usage: !transfer @user amount"
		}
		out, err := b.svc.Transfer(group, entity, target, n)
		if err != nil {
			return errReply(err)
		}
		reply := fmt.Sprintf("Sent %d to <@%s> (fee %d).", out.Amount, out.To, out.Fee)
		if out.DebtRecorded {
			reply += " You are indebted: this transfer is on record and may be reclaimed."
		}
		return reply
	case "market":
		if len(args) > 0 {
			_, inst, ok := b.svc.Market().Get(args[0])
			if !ok {
				return "Unknown instrument."
			}
			return market.Describe(inst)
		}
		var sb strings.Builder
		sb.WriteString("**Financial Market**\n")
		for _, inst := range b.svc.Market().List() {
			sb.WriteString(market.Describe(inst))
			sb.WriteByte('\n')
		}
		return sb.String()
	case "buy":
		if len(args) < 2 {
			return "Usage: !buy CODE amount"
		}
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "Usage: !buy CODE amount"
		}
		out, err := b.svc.BuyInstrument(group, entity, args[0], n)
		if err != nil {
			return errReply(err)
		}
		reply := fmt.Sprintf("Bought %.4f shares of %s (%s) at %.4f. Coins %d.", out.Shares, out.Name, out.Code, out.Price, out.Coins)
		if out.LegacyRefund > 0 {
			reply = fmt.Sprintf("Old investments cashed out for %d. ", out.LegacyRefund) + reply
		}
		return reply
	case "sell":
		if len(args) < 2 {
			return "Usage: !sell CODE amount|all"
		}
		var n int64
		if !strings.EqualFold(args[1], "all") {
			v, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return "Usage: !sell CODE amount|all"
			}
			n = v
		}
		out, err := b.svc.SellInstrument(group, entity, args[0], n)
		if err != nil {
			return errReply(err)
		}
		return fmt.Sprintf("Sold %s for %d (P/L %+.2f). Coins %d.", out.Name, out.Proceeds, out.Profit, out.Coins)
	case "portfolio":
		lines, err := b.svc.Portfolio(group, entity)
		if err != nil {
			return errReply(err)
		}
		if len(lines) == 0 {
			return "No holdings. Try !market and !buy."
		}
		var sb strings.Builder
		sb.WriteString("**Portfolio**\n")
		for _, h := range lines {
			fmt.Fprintf(&sb, "%s %s: %.4f shares, avg %.4f, now %.4f, P/L %+.2f\n",
				h.Code, h.Name, h.Shares, h.AvgPrice, h.Price, h.Profit)
		}
		return sb.String()
	case "invest":
		return amountCmd(args, func(n int64) (string, error) {
			st, err := b.svc.OpenInvestment(group, entity, n)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Investment opened with %d. Coins %d.", st.Amount, st.Coins), nil
		})
	case "addon":
		return amountCmd(args, func(n int64) (string, error) {
			st, err := b.svc.AddOnInvestment(group, entity, n)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Added %d. Total in %d, value %d.", n, st.Amount+st.AddonAmount, st.CurrentValue), nil
		})
	case "close":
		st, err := b.svc.CloseInvestment(group, entity)
		if err != nil {
			return errReply(err)
		}
		return fmt.Sprintf("Investment closed for %d (P/L %+d). Coins %d.", st.Payout, st.Profit, st.Coins)
	case "pet":
		target := mentionTarget(args, m)
		if target == "" {
			return "Usage: !pet @user"
		}
		out, err := b.svc.PurchasePet(group, entity, target)
		if err != nil {
			return errReply(err)
		}
		return fmt.Sprintf("Purchased <@%s> as a pet for %d (their value rose by %d).", target, out.Cost, out.ValueIncrease)
	case "release":
		target := mentionTarget(args, m)
		if target == "" {
			return "Usage: !release @user"
		}
		out, err := b.svc.ReleasePet(group, entity, target)
		if err != nil {
			return errReply(err)
		}
		return fmt.Sprintf("Released <@%s>, refunded %d.", target, out.Refund)
	case "ransom":
		out, err := b.svc.Ransom(group, entity)
		if err != nil {
			return errReply(err)
		}
		return fmt.Sprintf("Paid %d to <@%s>. You are free, protected for 24h.", out.Cost, out.Master)
	case "top":
		kind := "networth"
		if len(args) > 0 {
			kind = strings.ToLower(args[0])
		}
		rows := b.svc.Rankings(group, kind, 10)
		if len(rows) == 0 {
			return "Nobody here yet."
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "**Leaderboard (%s)**\n", kind)
		for i, row := range rows {
			fmt.Fprintf(&sb, "%d. <@%s> - %d\n", i+1, row.Entity, row.Score)
		}
		return sb.String()
	}
	return ""
}

func (b *Bot) accountReply(group, entity string) string {
	acc, updates := b.svc.GetAccount(group, entity)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Coins %d | Bank %d (lvl %d) | Value %d", acc.Coins, acc.Bank, acc.BankLevel, acc.Value)
	if acc.LoanAmount > 0 {
		fmt.Fprintf(&sb, " | Debt %d", acc.LoanAmount)
		if acc.LoanInterestFrozen {
			sb.WriteString(" (frozen)")
		}
	}
	if acc.Master != "" {
		fmt.Fprintf(&sb, " | Master <@%s>", acc.Master)
	}
	if acc.LastNote != "" {
		sb.WriteString("\n> " + acc.LastNote)
	}
	for _, u := range updates {
		sb.WriteString("\n" + u)
	}
	return sb.String()
}

func amountCmd(args []string, run func(int64) (string, error)) string {
	if len(args) < 1 {
		return "Amount required."
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Amount must be a whole number."
	}
	out, err := run(n)
	if err != nil {
		return errReply(err)
	}
	return out
}

// mentionTarget prefers an explicit mention, falling back to a raw id in the
// first argument.
func mentionTarget(args []string, m *discordgo.MessageCreate) string {
	if len(m.Mentions) > 0 {
		return m.Mentions[0].ID
	}
	if len(args) > 0 {
		id := strings.Trim(args[0], "<@!>")
		if id != "" && id != args[0] {
			return id
		}
		if _, err := strconv.ParseUint(args[0], 10, 64); err == nil {
			return args[0]
		}
	}
	return ""
}

func errReply(err error) string {
	return "❌ " + err.Error()
}
