package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"gilded/internal/economy"
	"gilded/internal/metrics"
)

const (
	DefaultPrefix = "!"
	historyLimit  = 5
)

// Message is a chat message as seen by the router, independent of transport.
type Message struct {
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
	FromBot    bool
}

type Reply struct {
	ChannelID string
	Content   string
}

type Options struct {
	Prefix string
	// MarketChannelID receives rotation announcements. Empty means the
	// channel the command came from.
	MarketChannelID string
	// BankChannelID receives the session balance report.
	BankChannelID string
	Throttle      *Throttle
}

type Router struct {
	bank     *economy.Bank
	opts     Options
	log      *slog.Logger
	commands map[string]command
}

type command struct {
	usage     string
	moderator bool
	run       func(ctx context.Context, c *call) error
}

// call carries one command invocation and the replies it produced.
type call struct {
	msg     Message
	name    string
	args    []string
	account economy.Account
	out     []Reply
}

func (c *call) say(format string, a ...any) {
	c.out = append(c.out, Reply{ChannelID: c.msg.ChannelID, Content: fmt.Sprintf(format, a...)})
}

func NewRouter(bank *economy.Bank, opts Options, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	r := &Router{bank: bank, opts: opts, log: logger}
	r.commands = map[string]command{
		"balance":       {usage: "balance", run: r.balance},
		"subscriptions": {usage: "subscriptions", run: r.subscriptions},
		"inventory":     {usage: "inventory", run: r.inventory},
		"blackmarket":   {usage: "blackmarket", run: r.blackmarket},
		"buy":           {usage: "buy <item name>", run: r.buy},
		"history":       {usage: "history", run: r.history},
		"plans":         {usage: "plans", run: r.plans},
		"help":          {usage: "help", run: r.help},
		"newsession":    {usage: "newsession", moderator: true, run: r.newSession},
		"subscribe":     {usage: "subscribe <@player> <plan>", moderator: true, run: r.subscribe},
		"unsubscribe":   {usage: "unsubscribe <@player> <plan>", moderator: true, run: r.unsubscribe},
		"grant":         {usage: "grant <@player> <amount> [reason]", moderator: true, run: r.grant},
		"fine":          {usage: "fine <@player> <amount> [reason]", moderator: true, run: r.fine},
	}
	return r
}

// Handle runs one message through the command table and returns what the
// bot should post. Messages that are not commands produce nothing.
func (r *Router) Handle(ctx context.Context, msg Message) []Reply {
	if msg.FromBot || !strings.HasPrefix(msg.Content, r.opts.Prefix) {
		return nil
	}
	fields := strings.Fields(strings.TrimPrefix(msg.Content, r.opts.Prefix))
	if len(fields) == 0 {
		return nil
	}
	c := &call{msg: msg, name: strings.ToLower(fields[0]), args: fields[1:]}

	if r.opts.Throttle != nil {
		if ok, notify := r.opts.Throttle.Allow(msg.AuthorID); !ok {
			metrics.ObserveThrottled()
			if notify {
				c.say("%s, slow down! Try again in a moment.", msg.AuthorName)
			}
			return c.out
		}
	}

	acct, created, err := r.bank.Touch(ctx, msg.AuthorID, msg.AuthorName)
	if err != nil {
		r.log.Error("touch account failed", "player_id", msg.AuthorID, "err", err)
		c.say("%s", describeError(err))
		return c.out
	}
	c.account = acct
	if created {
		c.say("Account created for %s with %d gold.", acct.DisplayName, acct.Balance)
	}

	cmd, ok := r.commands[c.name]
	if !ok {
		return c.out
	}
	started := time.Now()
	replied := len(c.out)
	if cmd.moderator && !r.bank.IsAuthorizer(msg.AuthorID) {
		err = fmt.Errorf("%w: %s", economy.ErrUnauthorized, c.name)
	} else {
		err = cmd.run(ctx, c)
	}
	metrics.ObserveCommand(c.name, started, err)
	if err != nil {
		r.log.Info("command rejected", "command", c.name, "player_id", msg.AuthorID, "err", err)
		if len(c.out) > replied {
			return c.out
		}
		if errors.Is(err, economy.ErrUnauthorized) {
			c.say("Only the DM can use %s%s.", r.opts.Prefix, c.name)
		} else if errors.Is(err, errUsage) {
			c.say("Usage: %s%s", r.opts.Prefix, cmd.usage)
		} else {
			c.say("%s", describeError(err))
		}
	}
	return c.out
}

var errUsage = errors.New("usage")

func (r *Router) balance(_ context.Context, c *call) error {
	c.say("%s, your balance is %d gold.", c.account.DisplayName, c.account.Balance)
	return nil
}

func (r *Router) subscriptions(_ context.Context, c *call) error {
	if len(c.account.Subscriptions) == 0 {
		c.say("You have no active subscriptions.")
		return nil
	}
	c.say("Your active subscriptions: %s", strings.Join(c.account.Subscriptions, ", "))
	return nil
}

func (r *Router) inventory(_ context.Context, c *call) error {
	if len(c.account.Inventory) == 0 {
		c.say("Your inventory is empty.")
		return nil
	}
	c.say("👜 **%s's Inventory**: %s", c.account.DisplayName, strings.Join(c.account.Inventory, ", "))
	return nil
}

func (r *Router) blackmarket(_ context.Context, c *call) error {
	offering := r.bank.Offering()
	if len(offering) == 0 {
		c.say("The black market is empty. Check back later!")
		return nil
	}
	c.say("📜 **Current Black Market Items** 📜\n%s", formatItems(offering))
	return nil
}

func (r *Router) buy(ctx context.Context, c *call) error {
	if len(c.args) == 0 {
		return errUsage
	}
	name := strings.Join(c.args, " ")
	p, err := r.bank.Buy(ctx, c.msg.AuthorID, name)
	switch {
	case errors.Is(err, economy.ErrInsufficientFunds):
		for _, item := range r.bank.Offering() {
			if strings.EqualFold(item.Name, name) {
				c.say("You don't have enough gold to buy **%s**. It costs %d gold.", item.Name, item.Cost)
				return err
			}
		}
		return err
	case err != nil:
		return err
	}
	metrics.ObservePurchase(p.Item)
	c.say("%s successfully purchased **%s** for %d gold! Remaining balance: %d gold.",
		c.account.DisplayName, p.Item.Name, p.Item.Cost, p.Balance)
	return nil
}

func (r *Router) history(_ context.Context, c *call) error {
	entries := r.bank.History(c.msg.AuthorID, historyLimit)
	if len(entries) == 0 {
		c.say("No transactions yet.")
		return nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("`%s` %+d gold → %d | %s",
			e.Timestamp.UTC().Format("2006-01-02 15:04"), e.Delta, e.Balance, e.Description))
	}
	c.say("📒 **Recent transactions for %s** 📒\n%s", c.account.DisplayName, strings.Join(lines, "\n"))
	return nil
}

func (r *Router) plans(_ context.Context, c *call) error {
	prices := r.bank.Prices()
	lines := make([]string, 0, len(prices))
	for _, name := range prices.Names() {
		lines = append(lines, fmt.Sprintf("**%s** - %d gold per session", name, prices[name]))
	}
	c.say("🧾 **Subscription Plans** 🧾\n%s", strings.Join(lines, "\n"))
	return nil
}

func (r *Router) help(_ context.Context, c *call) error {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	isDM := r.bank.IsAuthorizer(c.msg.AuthorID)
	var lines []string
	for _, name := range names {
		cmd := r.commands[name]
		if cmd.moderator && !isDM {
			continue
		}
		lines = append(lines, r.opts.Prefix+cmd.usage)
	}
	c.say("Commands:\n%s", strings.Join(lines, "\n"))
	return nil
}

func (r *Router) newSession(ctx context.Context, c *call) error {
	report, err := r.bank.StartSession(ctx, c.msg.AuthorID)
	metrics.ObserveSession(err)
	if err != nil {
		return err
	}
	c.out = append(c.out, r.SessionAnnouncements(report, c.msg.ChannelID)...)
	return nil
}

// SessionAnnouncements formats the posts that follow a session run: the new
// offering, the balance report and the session notice. Channels left unset in
// Options fall back to originChannelID, which may itself be empty.
func (r *Router) SessionAnnouncements(report economy.SessionReport, originChannelID string) []Reply {
	channel := func(id string) string {
		if id == "" {
			return originChannelID
		}
		return id
	}
	lines := make([]string, 0, len(report.Balances))
	for _, b := range report.Balances {
		lines = append(lines, fmt.Sprintf("%s: %d gold", b.DisplayName, b.Balance))
	}
	return []Reply{
		{ChannelID: channel(r.opts.MarketChannelID), Content: "📜 **New Black Market Items Available!** 📜\n" + formatItems(report.Offering)},
		{ChannelID: channel(r.opts.BankChannelID), Content: "💰 **Player Balances at Session Start** 💰\n" + strings.Join(lines, "\n")},
		{ChannelID: channel(r.opts.MarketChannelID), Content: "A new session has started! Subscriptions charged, and black market refreshed."},
	}
}

func (r *Router) subscribe(ctx context.Context, c *call) error {
	playerID, plan, err := playerAndRest(c.args)
	if err != nil {
		return err
	}
	name, err := r.bank.Subscribe(ctx, c.msg.AuthorID, playerID, plan)
	if err != nil {
		return err
	}
	c.say("%s is now subscribed to %s.", r.displayName(playerID), name)
	return nil
}

func (r *Router) unsubscribe(ctx context.Context, c *call) error {
	playerID, plan, err := playerAndRest(c.args)
	if err != nil {
		return err
	}
	name, err := r.bank.Unsubscribe(ctx, c.msg.AuthorID, playerID, plan)
	if err != nil {
		return err
	}
	c.say("%s is no longer subscribed to %s.", r.displayName(playerID), name)
	return nil
}

func (r *Router) grant(ctx context.Context, c *call) error {
	playerID, amount, reason, err := playerAmountReason(c.args)
	if err != nil {
		return err
	}
	balance, err := r.bank.Grant(ctx, c.msg.AuthorID, playerID, amount, reason)
	if err != nil {
		return err
	}
	c.say("Granted %d gold to %s. New balance: %d gold.", amount, r.displayName(playerID), balance)
	return nil
}

func (r *Router) fine(ctx context.Context, c *call) error {
	playerID, amount, reason, err := playerAmountReason(c.args)
	if err != nil {
		return err
	}
	balance, err := r.bank.Fine(ctx, c.msg.AuthorID, playerID, amount, reason)
	if err != nil {
		return err
	}
	c.say("Fined %s %d gold. New balance: %d gold.", r.displayName(playerID), amount, balance)
	return nil
}

func (r *Router) displayName(playerID string) string {
	acct, err := r.bank.Account(playerID)
	if err != nil || acct.DisplayName == "" {
		return playerID
	}
	return acct.DisplayName
}

func formatItems(items []economy.MarketItem) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("**%s** - %s | Cost: %d gold", item.Name, item.Description, item.Cost))
	}
	return strings.Join(lines, "\n")
}

// ParseMention accepts <@id>, <@!id> or a bare id.
func ParseMention(arg string) (string, error) {
	id := strings.TrimSpace(arg)
	if strings.HasPrefix(id, "<@") && strings.HasSuffix(id, ">") {
		id = strings.TrimPrefix(strings.TrimSuffix(id[2:], ">"), "!")
	}
	if err := economy.ValidatePlayerID(id); err != nil {
		return "", err
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", economy.ErrInvalidPlayer, arg)
		}
	}
	return id, nil
}

func playerAndRest(args []string) (string, string, error) {
	if len(args) < 2 {
		return "", "", errUsage
	}
	playerID, err := ParseMention(args[0])
	if err != nil {
		return "", "", err
	}
	return playerID, strings.Join(args[1:], " "), nil
}

func playerAmountReason(args []string) (string, int64, string, error) {
	if len(args) < 2 {
		return "", 0, "", errUsage
	}
	playerID, err := ParseMention(args[0])
	if err != nil {
		return "", 0, "", err
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return "", 0, "", fmt.Errorf("%w: %q", economy.ErrInvalidAmount, args[1])
	}
	return playerID, amount, strings.Join(args[2:], " "), nil
}

func describeError(err error) string {
	var sessionErr *economy.SessionError
	switch {
	case errors.As(err, &sessionErr):
		return fmt.Sprintf("Session aborted while processing <@%s>: %v. No balances were changed.", sessionErr.PlayerID, sessionErr.Err)
	case errors.Is(err, economy.ErrPersistenceWriteFailed):
		return "The bank's books could not be saved, so nothing was changed. Try again shortly."
	case errors.Is(err, economy.ErrAccountNotFound):
		return "That player doesn't have an account yet."
	case errors.Is(err, economy.ErrUnknownSubscriptionPlan):
		return "That subscription plan doesn't exist. See !plans."
	case errors.Is(err, economy.ErrNotSubscribed):
		return "That player isn't subscribed to that plan."
	case errors.Is(err, economy.ErrInvalidAmount):
		return "The amount must be a positive whole number of gold."
	case errors.Is(err, economy.ErrInvalidPlayer):
		return "Mention a player like @name."
	case errors.Is(err, economy.ErrItemNotOffered):
		return "That item isn't available in the black market right now."
	case errors.Is(err, economy.ErrInsufficientFunds):
		return "You don't have enough gold for that."
	default:
		return "Something went wrong with the bank. Please try again."
	}
}
