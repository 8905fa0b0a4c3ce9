package economy

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	prices, err := NewPriceTable(DefaultPrices())
	if err != nil {
		t.Fatalf("price table: %v", err)
	}
	clock := time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)
	seq := 0
	return NewLedger(prices,
		WithClock(func() time.Time { return clock }),
		WithEntryIDs(func() string {
			seq++
			return fmt.Sprintf("entry-%d", seq)
		}),
	)
}

func mustCreate(t *testing.T, l *Ledger, id, name string) {
	t.Helper()
	if _, _, err := l.GetOrCreate(id, name); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func setBalance(t *testing.T, l *Ledger, id string, balance int64) {
	t.Helper()
	current, err := l.Balance(id)
	if err != nil {
		t.Fatal(err)
	}
	switch {
	case balance < current:
		if _, err := l.Charge(id, current-balance, "test setup"); err != nil {
			t.Fatal(err)
		}
	case balance > current:
		if _, err := l.Credit(id, balance-current, "test setup"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	acct, created, err := l.GetOrCreate("p1", "Grog")
	if err != nil {
		t.Fatal(err)
	}
	if !created || acct.Balance != StartingBalance {
		t.Fatalf("expected new account with %d gold, got created=%v balance=%d", StartingBalance, created, acct.Balance)
	}
	if _, _, err := l.Subscribe("p1", "WizFi"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordPurchase("p1", "Shadow Cloak", 50); err != nil {
		t.Fatal(err)
	}

	again, created, err := l.GetOrCreate("p1", "Grog the Mighty")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatalf("second call must not create")
	}
	if again.Balance != 50 || len(again.Subscriptions) != 1 || len(again.Inventory) != 1 {
		t.Fatalf("account reset on second call: %+v", again)
	}
	if again.DisplayName != "Grog the Mighty" {
		t.Fatalf("display name not refreshed: %q", again.DisplayName)
	}
	if len(l.Accounts()) != 1 {
		t.Fatalf("expected one account, got %d", len(l.Accounts()))
	}
}

func TestGetOrCreateRejectsBlankID(t *testing.T) {
	l := newTestLedger(t)
	if _, _, err := l.GetOrCreate(" ", "nobody"); !errors.Is(err, ErrInvalidPlayer) {
		t.Fatalf("expected ErrInvalidPlayer, got %v", err)
	}
}

func TestGetOrCreateTrimsPlayerID(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "42", "Grog")
	acct, created, err := l.GetOrCreate(" 42 ", "Grog")
	if err != nil || created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if acct.PlayerID != "42" || len(l.Accounts()) != 1 {
		t.Fatalf("padded id opened a second account: %+v", l.Accounts())
	}
	if balance, err := l.Balance("\t42"); err != nil || balance != StartingBalance {
		t.Fatalf("balance=%d err=%v", balance, err)
	}
}

func TestReadsRequireAccount(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.Balance("ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("balance: expected ErrAccountNotFound, got %v", err)
	}
	if _, err := l.Subscriptions("ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("subscriptions: expected ErrAccountNotFound, got %v", err)
	}
	if _, err := l.Inventory("ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("inventory: expected ErrAccountNotFound, got %v", err)
	}
}

func TestChargeAllowsDebt(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")
	balance, err := l.Charge("p1", 130, "tavern damages")
	if err != nil {
		t.Fatal(err)
	}
	if balance != -30 {
		t.Fatalf("got %d want -30", balance)
	}
	if _, err := l.Charge("p1", -5, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	entries := l.Entries("p1", 0)
	if len(entries) != 1 || entries[0].Delta != -130 || entries[0].Balance != -30 {
		t.Fatalf("unexpected log: %+v", entries)
	}
}

func TestApplyInterest(t *testing.T) {
	tests := []struct {
		name         string
		balance      int64
		wantBalance  int64
		wantEntries  int
		wantInterest int64
	}{
		{name: "debt_of_100", balance: -100, wantBalance: -105, wantEntries: 1, wantInterest: -5},
		{name: "small_debt_rounds_to_zero", balance: -3, wantBalance: -3, wantEntries: 0, wantInterest: 0},
		{name: "zero_balance", balance: 0, wantBalance: 0, wantEntries: 0, wantInterest: 0},
		{name: "positive_balance", balance: 100, wantBalance: 100, wantEntries: 0, wantInterest: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLedger(t)
			mustCreate(t, l, "p1", "Grog")
			setBalance(t, l, "p1", tc.balance)
			before := len(l.Entries("p1", 0))

			interest, err := l.ApplyInterest("p1")
			if err != nil {
				t.Fatal(err)
			}
			balance, _ := l.Balance("p1")
			if interest != tc.wantInterest || balance != tc.wantBalance {
				t.Fatalf("interest=%d balance=%d want interest=%d balance=%d", interest, balance, tc.wantInterest, tc.wantBalance)
			}
			if got := len(l.Entries("p1", 0)) - before; got != tc.wantEntries {
				t.Fatalf("got %d new entries want %d", got, tc.wantEntries)
			}
			if err := l.Reconcile(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestBillSubscriptions(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")
	for _, plan := range []string{"WizFi", "MagiMail"} {
		if _, _, err := l.Subscribe("p1", plan); err != nil {
			t.Fatal(err)
		}
	}

	total, err := l.BillSubscriptions("p1")
	if err != nil {
		t.Fatal(err)
	}
	balance, _ := l.Balance("p1")
	if total != 20 || balance != 80 {
		t.Fatalf("total=%d balance=%d want 20/80", total, balance)
	}
	entries := l.Entries("p1", 0)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(entries))
	}
	if entries[0].Kind != KindSubscription || !strings.Contains(entries[0].Description, "20 gold") {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestBillSubscriptionsUnknownPlan(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")
	l.accounts["p1"].Subscriptions = []string{"WizFi", "Netflix"}

	if _, err := l.BillSubscriptions("p1"); !errors.Is(err, ErrUnknownSubscriptionPlan) {
		t.Fatalf("expected ErrUnknownSubscriptionPlan, got %v", err)
	}
	balance, _ := l.Balance("p1")
	if balance != StartingBalance || len(l.Entries("", 0)) != 0 {
		t.Fatalf("unknown plan must not charge anything: balance=%d", balance)
	}
}

func TestBillSubscriptionsWithoutPlans(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")
	total, err := l.BillSubscriptions("p1")
	if err != nil || total != 0 {
		t.Fatalf("total=%d err=%v", total, err)
	}
	if len(l.Entries("p1", 0)) != 0 {
		t.Fatalf("no subscriptions should log nothing")
	}
}

func TestRecordPurchaseInsufficientFunds(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")
	setBalance(t, l, "p1", 10)
	entriesBefore := len(l.Entries("", 0))

	if _, err := l.RecordPurchase("p1", "Shadow Cloak", 50); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	acct, _ := l.Account("p1")
	if acct.Balance != 10 || len(acct.Inventory) != 0 || len(l.Entries("", 0)) != entriesBefore {
		t.Fatalf("rejected purchase changed state: %+v", acct)
	}
}

func TestRecordPurchaseSuccess(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")

	balance, err := l.RecordPurchase("p1", "Shadow Cloak", 50)
	if err != nil {
		t.Fatal(err)
	}
	acct, _ := l.Account("p1")
	if balance != 50 || acct.Balance != 50 {
		t.Fatalf("balance=%d want 50", balance)
	}
	if len(acct.Inventory) != 1 || acct.Inventory[0] != "Shadow Cloak" {
		t.Fatalf("inventory=%v", acct.Inventory)
	}
	entries := l.Entries("p1", 0)
	if len(entries) != 1 || entries[0].Kind != KindPurchase || entries[0].Delta != -50 {
		t.Fatalf("unexpected log %+v", entries)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")

	name, added, err := l.Subscribe("p1", "wizfi")
	if err != nil || !added || name != "WizFi" {
		t.Fatalf("name=%q added=%v err=%v", name, added, err)
	}
	if _, added, _ := l.Subscribe("p1", "WizFi"); added {
		t.Fatalf("duplicate subscription added")
	}
	if _, _, err := l.Subscribe("p1", "Netflix"); !errors.Is(err, ErrUnknownSubscriptionPlan) {
		t.Fatalf("expected ErrUnknownSubscriptionPlan, got %v", err)
	}
	if _, err := l.Unsubscribe("p1", "Bardify"); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
	if removed, err := l.Unsubscribe("p1", "WIZFI"); err != nil || removed != "WizFi" {
		t.Fatalf("removed=%q err=%v", removed, err)
	}
	subs, _ := l.Subscriptions("p1")
	if len(subs) != 0 {
		t.Fatalf("subscriptions=%v", subs)
	}
	if len(l.Entries("", 0)) != 0 {
		t.Fatalf("subscription changes must not log balance entries")
	}
}

func TestEntriesLimitAndFilter(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")
	mustCreate(t, l, "p2", "Vex")
	for i := int64(1); i <= 4; i++ {
		if _, err := l.Charge("p1", i, ""); err != nil {
			t.Fatal(err)
		}
		if _, err := l.Credit("p2", i, ""); err != nil {
			t.Fatal(err)
		}
	}
	got := l.Entries("p1", 2)
	if len(got) != 2 || got[0].Delta != -3 || got[1].Delta != -4 {
		t.Fatalf("unexpected entries %+v", got)
	}
	if all := l.Entries("", 0); len(all) != 8 {
		t.Fatalf("got %d entries want 8", len(all))
	}
}

func TestBalancesReconcileWithLog(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")
	mustCreate(t, l, "p2", "Vex")
	if _, _, err := l.Subscribe("p1", "Gnomazon"); err != nil {
		t.Fatal(err)
	}
	steps := []func() error{
		func() error { _, err := l.Charge("p2", 300, "bar tab"); return err },
		func() error { _, err := l.BillSubscriptions("p1"); return err },
		func() error { _, err := l.ApplyInterest("p2"); return err },
		func() error { _, err := l.RecordPurchase("p1", "Shadow Cloak", 50); return err },
		func() error { _, err := l.Credit("p2", 40, "loot"); return err },
		func() error { _, err := l.ApplyInterest("p2"); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if err := l.Reconcile(); err != nil {
			t.Fatalf("after step %d: %v", i, err)
		}
	}

	l.accounts["p2"].Balance += 7
	if err := l.Reconcile(); !errors.Is(err, ErrLedgerDrift) {
		t.Fatalf("expected ErrLedgerDrift, got %v", err)
	}
}

func TestCloneIsolatesMutations(t *testing.T) {
	l := newTestLedger(t)
	mustCreate(t, l, "p1", "Grog")

	work := l.clone()
	if _, err := work.RecordPurchase("p1", "Shadow Cloak", 50); err != nil {
		t.Fatal(err)
	}
	mustCreate(t, work, "p2", "Vex")

	acct, _ := l.Account("p1")
	if acct.Balance != StartingBalance || len(acct.Inventory) != 0 {
		t.Fatalf("original mutated through clone: %+v", acct)
	}
	if len(l.Entries("", 0)) != 0 || len(l.Accounts()) != 1 {
		t.Fatalf("original log or accounts mutated through clone")
	}
}
