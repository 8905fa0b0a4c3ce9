package economy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Snapshot is the complete durable state: accounts in creation order, the
// transaction log, and the names of the items currently offered.
type Snapshot struct {
	Accounts []Account  `json:"accounts"`
	Log      []LogEntry `json:"log"`
	Offering []string   `json:"offering"`
}

// Store persists snapshots. Save must be all-or-nothing.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

type Purchase struct {
	Item    MarketItem `json:"item"`
	Balance int64      `json:"balance"`
}

// Bank is the single writer in front of the ledger, the market and the
// session scheduler. Every mutation runs on working copies of both engines;
// the copies replace the live state only after the snapshot is saved.
type Bank struct {
	mu        sync.Mutex
	store     Store
	log       *slog.Logger
	ledger    *Ledger
	market    *Market
	scheduler *Scheduler
	onSaveErr func(error)
}

// Open loads the persisted snapshot into the given engines and verifies that
// every balance reconciles with the transaction log.
func Open(ctx context.Context, store Store, ledger *Ledger, market *Market, scheduler *Scheduler, logger *slog.Logger) (*Bank, error) {
	if logger == nil {
		logger = slog.Default()
	}
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := ledger.restore(snap.Accounts, snap.Log); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	if err := ledger.Reconcile(); err != nil {
		return nil, err
	}
	if dropped := market.restore(snap.Offering); len(dropped) > 0 {
		logger.Warn("offered items missing from catalog dropped", "items", dropped)
	}
	logger.Info("bank opened",
		"accounts", len(snap.Accounts),
		"log_entries", len(snap.Log),
		"offering", len(market.offering),
	)
	return &Bank{
		store:     store,
		log:       logger,
		ledger:    ledger,
		market:    market,
		scheduler: scheduler,
	}, nil
}

// mutate must be called with b.mu held. fn reports whether it changed
// anything worth persisting.
func (b *Bank) mutate(ctx context.Context, fn func(l *Ledger, m *Market) (bool, error)) error {
	l := b.ledger.clone()
	m := b.market.clone()
	changed, err := fn(l, m)
	if err != nil || !changed {
		b.market.rand.rollback()
		return err
	}
	if err := b.store.Save(ctx, snapshotOf(l, m)); err != nil {
		b.market.rand.rollback()
		b.log.Error("snapshot save failed", "err", err)
		if b.onSaveErr != nil {
			b.onSaveErr(err)
		}
		return fmt.Errorf("%w: %w", ErrPersistenceWriteFailed, err)
	}
	b.market.rand.commit()
	b.ledger, b.market = l, m
	return nil
}

// OnSaveFailure registers fn to be called whenever a snapshot save fails.
func (b *Bank) OnSaveFailure(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSaveErr = fn
}

func snapshotOf(l *Ledger, m *Market) Snapshot {
	return Snapshot{
		Accounts: l.Accounts(),
		Log:      append([]LogEntry(nil), l.log...),
		Offering: m.offeredNames(),
	}
}

// Touch fetches or lazily creates the caller's account. It persists only
// when the account is new or its display name changed.
func (b *Bank) Touch(ctx context.Context, playerID, displayName string) (Account, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out Account
	var created bool
	err := b.mutate(ctx, func(l *Ledger, _ *Market) (bool, error) {
		before, _ := l.Account(playerID)
		acct, isNew, err := l.GetOrCreate(playerID, displayName)
		if err != nil {
			return false, err
		}
		out, created = acct, isNew
		return isNew || before.DisplayName != acct.DisplayName, nil
	})
	if err != nil {
		return Account{}, false, err
	}
	if created {
		b.log.Info("account created", "player_id", out.PlayerID, "display_name", out.DisplayName)
	}
	return out, created, nil
}

// Buy validates the item against the current offering, then debits the player.
// A failed affordability check leaves both the market and the account untouched.
func (b *Bank) Buy(ctx context.Context, playerID, itemName string) (Purchase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out Purchase
	err := b.mutate(ctx, func(l *Ledger, m *Market) (bool, error) {
		item, err := m.Purchase(itemName)
		if err != nil {
			return false, err
		}
		balance, err := l.RecordPurchase(playerID, item.Name, item.Cost)
		if err != nil {
			return false, err
		}
		out = Purchase{Item: item, Balance: balance}
		return true, nil
	})
	if err != nil {
		return Purchase{}, err
	}
	b.log.Info("purchase recorded", "player_id", playerID, "item", out.Item.Name, "cost", out.Item.Cost, "balance", out.Balance)
	return out, nil
}

// StartSession runs the session batch on behalf of callerID. Any failure,
// including an unauthorized caller, leaves every account and the market as
// they were.
func (b *Bank) StartSession(ctx context.Context, callerID string) (SessionReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var report SessionReport
	err := b.mutate(ctx, func(l *Ledger, m *Market) (bool, error) {
		var err error
		report, err = b.scheduler.Run(callerID, l, m)
		return err == nil, err
	})
	if err != nil {
		b.log.Warn("session run rejected", "caller", callerID, "err", err)
		return SessionReport{}, err
	}
	b.log.Info("session run complete", "accounts", len(report.Balances), "offering", len(report.Offering))
	return report, nil
}

func (b *Bank) Grant(ctx context.Context, callerID, playerID string, amount int64, reason string) (int64, error) {
	return b.moderate(ctx, callerID, func(l *Ledger) (int64, error) {
		return l.Credit(playerID, amount, reason)
	})
}

func (b *Bank) Fine(ctx context.Context, callerID, playerID string, amount int64, reason string) (int64, error) {
	return b.moderate(ctx, callerID, func(l *Ledger) (int64, error) {
		return l.Charge(playerID, amount, reason)
	})
}

func (b *Bank) moderate(ctx context.Context, callerID string, fn func(l *Ledger) (int64, error)) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.scheduler.Authorize(callerID); err != nil {
		return 0, err
	}
	var balance int64
	err := b.mutate(ctx, func(l *Ledger, _ *Market) (bool, error) {
		var err error
		balance, err = fn(l)
		return err == nil, err
	})
	return balance, err
}

func (b *Bank) Subscribe(ctx context.Context, callerID, playerID, plan string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.scheduler.Authorize(callerID); err != nil {
		return "", err
	}
	var name string
	err := b.mutate(ctx, func(l *Ledger, _ *Market) (bool, error) {
		var added bool
		var err error
		name, added, err = l.Subscribe(playerID, plan)
		return added, err
	})
	return name, err
}

func (b *Bank) Unsubscribe(ctx context.Context, callerID, playerID, plan string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.scheduler.Authorize(callerID); err != nil {
		return "", err
	}
	var name string
	err := b.mutate(ctx, func(l *Ledger, _ *Market) (bool, error) {
		var err error
		name, err = l.Unsubscribe(playerID, plan)
		return err == nil, err
	})
	return name, err
}

func (b *Bank) IsAuthorizer(callerID string) bool {
	return b.scheduler.Authorize(callerID) == nil
}

func (b *Bank) AuthorizerID() string {
	return b.scheduler.AuthorizerID()
}

func (b *Bank) Account(playerID string) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Account(playerID)
}

func (b *Bank) Balance(playerID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Balance(playerID)
}

func (b *Bank) Subscriptions(playerID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Subscriptions(playerID)
}

func (b *Bank) Inventory(playerID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Inventory(playerID)
}

func (b *Bank) Accounts() []Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Accounts()
}

func (b *Bank) History(playerID string, limit int) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Entries(playerID, limit)
}

func (b *Bank) Offering() []MarketItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.market.Offering()
}

func (b *Bank) Prices() PriceTable {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(PriceTable, len(b.ledger.prices))
	for k, v := range b.ledger.prices {
		out[k] = v
	}
	return out
}
