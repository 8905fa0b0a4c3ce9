package economy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ledger owns every player account and the append-only transaction log.
// It is not safe for concurrent use; Bank serialises access to it.
type Ledger struct {
	accounts    map[string]*Account
	order       []string
	log         []LogEntry
	prices      PriceTable
	interestBps int64
	now         func() time.Time
	newID       func() string
}

type LedgerOption func(*Ledger)

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithInterestBps(bps int64) LedgerOption {
	return func(l *Ledger) {
		if bps >= 0 {
			l.interestBps = bps
		}
	}
}

func WithEntryIDs(newID func() string) LedgerOption {
	return func(l *Ledger) {
		if newID != nil {
			l.newID = newID
		}
	}
}

func NewLedger(prices PriceTable, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		accounts:    make(map[string]*Account),
		prices:      prices,
		interestBps: DefaultInterestBps,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// clone returns a working copy. Log entries are immutable, so the copy shares
// the backing array but is capped so appends never write into it.
func (l *Ledger) clone() *Ledger {
	c := *l
	c.accounts = make(map[string]*Account, len(l.accounts))
	for id, a := range l.accounts {
		cp := a.clone()
		c.accounts[id] = &cp
	}
	c.order = l.order[:len(l.order):len(l.order)]
	c.log = l.log[:len(l.log):len(l.log)]
	return &c
}

func (l *Ledger) restore(accounts []Account, log []LogEntry) error {
	l.accounts = make(map[string]*Account, len(accounts))
	l.order = make([]string, 0, len(accounts))
	for _, a := range accounts {
		if err := ValidatePlayerID(a.PlayerID); err != nil {
			return err
		}
		if _, dup := l.accounts[a.PlayerID]; dup {
			return fmt.Errorf("duplicate account %q in snapshot", a.PlayerID)
		}
		cp := a.clone()
		l.accounts[a.PlayerID] = &cp
		l.order = append(l.order, a.PlayerID)
	}
	l.log = append([]LogEntry(nil), log...)
	return nil
}

func (l *Ledger) account(playerID string) (*Account, error) {
	playerID = strings.TrimSpace(playerID)
	a, ok := l.accounts[playerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
	}
	return a, nil
}

func (l *Ledger) apply(a *Account, kind EntryKind, delta int64, description string) LogEntry {
	a.Balance += delta
	entry := LogEntry{
		ID:          l.newID(),
		PlayerID:    a.PlayerID,
		Player:      a.DisplayName,
		Kind:        kind,
		Delta:       delta,
		Balance:     a.Balance,
		Description: description,
		Timestamp:   l.now().UTC(),
	}
	l.log = append(l.log, entry)
	return entry
}

// GetOrCreate returns the player's account, creating it with the starting
// balance on first contact. A changed display name is refreshed in place.
func (l *Ledger) GetOrCreate(playerID, displayName string) (Account, bool, error) {
	playerID = strings.TrimSpace(playerID)
	if err := ValidatePlayerID(playerID); err != nil {
		return Account{}, false, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = playerID
	}
	if a, ok := l.accounts[playerID]; ok {
		a.DisplayName = displayName
		return a.clone(), false, nil
	}
	a := &Account{
		PlayerID:      playerID,
		DisplayName:   displayName,
		Balance:       StartingBalance,
		Subscriptions: []string{},
		Inventory:     []string{},
		CreatedAt:     l.now().UTC(),
	}
	l.accounts[playerID] = a
	l.order = append(l.order, playerID)
	return a.clone(), true, nil
}

// Charge debits amount unconditionally; the balance may go negative.
func (l *Ledger) Charge(playerID string, amount int64, description string) (int64, error) {
	if description == "" {
		description = fmt.Sprintf("Charged %d gold.", amount)
	}
	return l.charge(playerID, KindCharge, amount, description)
}

func (l *Ledger) charge(playerID string, kind EntryKind, amount int64, description string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: charge must be >= 0, got %d", ErrInvalidAmount, amount)
	}
	a, err := l.account(playerID)
	if err != nil {
		return 0, err
	}
	entry := l.apply(a, kind, -amount, description)
	return entry.Balance, nil
}

func (l *Ledger) Credit(playerID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: grant must be > 0, got %d", ErrInvalidAmount, amount)
	}
	a, err := l.account(playerID)
	if err != nil {
		return 0, err
	}
	if description == "" {
		description = fmt.Sprintf("Granted %d gold.", amount)
	}
	entry := l.apply(a, KindGrant, amount, description)
	return entry.Balance, nil
}

// ApplyInterest grows a debt by the configured rate. Accounts that are not in
// debt, or whose interest rounds to zero, are left alone and logged nothing.
func (l *Ledger) ApplyInterest(playerID string) (int64, error) {
	a, err := l.account(playerID)
	if err != nil {
		return 0, err
	}
	interest := InterestOn(a.Balance, l.interestBps)
	if interest == 0 {
		return 0, nil
	}
	l.apply(a, KindInterest, interest, fmt.Sprintf("%s interest applied: %d gold.", formatBps(l.interestBps), interest))
	return interest, nil
}

// BillSubscriptions charges the summed plan prices as a single entry.
// Accounts without subscriptions are not billed.
func (l *Ledger) BillSubscriptions(playerID string) (int64, error) {
	a, err := l.account(playerID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, plan := range a.Subscriptions {
		cost, err := l.prices.Cost(plan)
		if err != nil {
			return 0, fmt.Errorf("bill %s: %w", playerID, err)
		}
		total += cost
	}
	if len(a.Subscriptions) == 0 {
		return 0, nil
	}
	if _, err := l.charge(playerID, KindSubscription, total, fmt.Sprintf("Charged %d gold for subscriptions.", total)); err != nil {
		return 0, err
	}
	return total, nil
}

// RecordPurchase is the only debit gated on affordability.
func (l *Ledger) RecordPurchase(playerID, itemName string, cost int64) (int64, error) {
	if cost < 0 {
		return 0, fmt.Errorf("%w: cost must be >= 0, got %d", ErrInvalidAmount, cost)
	}
	a, err := l.account(playerID)
	if err != nil {
		return 0, err
	}
	if a.Balance < cost {
		return a.Balance, fmt.Errorf("%w: %s costs %d gold, balance is %d", ErrInsufficientFunds, itemName, cost, a.Balance)
	}
	a.Inventory = append(a.Inventory, itemName)
	entry := l.apply(a, KindPurchase, -cost, fmt.Sprintf("Purchased %s for %d gold.", itemName, cost))
	return entry.Balance, nil
}

// Subscribe adds a priced plan to the account and returns its canonical name.
func (l *Ledger) Subscribe(playerID, plan string) (string, bool, error) {
	a, err := l.account(playerID)
	if err != nil {
		return "", false, err
	}
	name, ok := l.prices.Lookup(plan)
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownSubscriptionPlan, plan)
	}
	if a.hasSubscription(name) {
		return name, false, nil
	}
	a.Subscriptions = append(a.Subscriptions, name)
	return name, true, nil
}

// Unsubscribe also accepts plans missing from the price table so stale
// entries can be cleaned up.
func (l *Ledger) Unsubscribe(playerID, plan string) (string, error) {
	a, err := l.account(playerID)
	if err != nil {
		return "", err
	}
	plan = strings.TrimSpace(plan)
	for i, s := range a.Subscriptions {
		if strings.EqualFold(s, plan) {
			a.Subscriptions = append(a.Subscriptions[:i:i], a.Subscriptions[i+1:]...)
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotSubscribed, plan)
}

func (l *Ledger) Account(playerID string) (Account, error) {
	a, err := l.account(playerID)
	if err != nil {
		return Account{}, err
	}
	return a.clone(), nil
}

func (l *Ledger) Balance(playerID string) (int64, error) {
	a, err := l.account(playerID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

func (l *Ledger) Subscriptions(playerID string) ([]string, error) {
	a, err := l.account(playerID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), a.Subscriptions...), nil
}

func (l *Ledger) Inventory(playerID string) ([]string, error) {
	a, err := l.account(playerID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), a.Inventory...), nil
}

// Accounts lists accounts in creation order.
func (l *Ledger) Accounts() []Account {
	out := make([]Account, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.accounts[id].clone())
	}
	return out
}

// Entries returns up to limit of the most recent log entries, oldest first.
// An empty playerID matches every player; limit <= 0 means no limit.
func (l *Ledger) Entries(playerID string, limit int) []LogEntry {
	out := make([]LogEntry, 0)
	for i := len(l.log) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if playerID != "" && l.log[i].PlayerID != playerID {
			continue
		}
		out = append(out, l.log[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (l *Ledger) Reconcile() error {
	sums := make(map[string]int64, len(l.accounts))
	for _, e := range l.log {
		if _, ok := l.accounts[e.PlayerID]; !ok {
			return fmt.Errorf("%w: entry %s references unknown account %s", ErrLedgerDrift, e.ID, e.PlayerID)
		}
		sums[e.PlayerID] += e.Delta
	}
	for _, id := range l.order {
		a := l.accounts[id]
		if want := StartingBalance + sums[id]; a.Balance != want {
			return fmt.Errorf("%w: %s has balance %d, log implies %d", ErrLedgerDrift, id, a.Balance, want)
		}
	}
	return nil
}

func formatBps(bps int64) string {
	return strconv.FormatFloat(float64(bps)/100, 'f', -1, 64) + "%"
}
