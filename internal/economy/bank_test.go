package economy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeStore struct {
	snap    Snapshot
	saves   int
	saveErr error
}

func (s *fakeStore) Load(context.Context) (Snapshot, error) {
	return s.snap, nil
}

func (s *fakeStore) Save(_ context.Context, snap Snapshot) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.snap = snap
	return nil
}

func openTestBank(t *testing.T, store *fakeStore) *Bank {
	t.Helper()
	scheduler, err := NewScheduler(dmID)
	if err != nil {
		t.Fatal(err)
	}
	bank, err := Open(context.Background(), store, newTestLedger(t), newTestMarket(t, DefaultCatalog(), 11), scheduler, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open bank: %v", err)
	}
	return bank
}

func TestBankTouchPersistsOnlyOnChange(t *testing.T) {
	store := &fakeStore{}
	bank := openTestBank(t, store)
	ctx := context.Background()

	if _, created, err := bank.Touch(ctx, "p1", "Grog"); err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if _, created, err := bank.Touch(ctx, "p1", "Grog"); err != nil || created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if store.saves != 1 {
		t.Fatalf("got %d saves want 1", store.saves)
	}
	if _, _, err := bank.Touch(ctx, "p1", "Grog Strongjaw"); err != nil {
		t.Fatal(err)
	}
	if store.saves != 2 || store.snap.Accounts[0].DisplayName != "Grog Strongjaw" {
		t.Fatalf("rename not persisted: saves=%d snap=%+v", store.saves, store.snap.Accounts)
	}
}

func TestBankBuy(t *testing.T) {
	store := &fakeStore{snap: Snapshot{Offering: []string{"Shadow Cloak", "Phoenix Feather", "Arcane Lockpick"}}}
	bank := openTestBank(t, store)
	ctx := context.Background()
	if _, _, err := bank.Touch(ctx, "p1", "Grog"); err != nil {
		t.Fatal(err)
	}

	got, err := bank.Buy(ctx, "p1", "shadow cloak")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got.Item.Name != "Shadow Cloak" || got.Balance != 50 {
		t.Fatalf("unexpected purchase %+v", got)
	}
	if _, err := bank.Buy(ctx, "p1", "Phoenix Feather"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := bank.Buy(ctx, "p1", "Veto Coin of Fate"); !errors.Is(err, ErrItemNotOffered) {
		t.Fatalf("expected ErrItemNotOffered, got %v", err)
	}
	inv, _ := bank.Inventory("p1")
	if len(inv) != 1 || len(store.snap.Log) != 1 || store.snap.Accounts[0].Balance != 50 {
		t.Fatalf("unexpected state inv=%v snap=%+v", inv, store.snap)
	}
	if len(bank.Offering()) != 3 {
		t.Fatalf("purchases must not shrink the offering")
	}
}

func TestBankPersistenceFailureAbortsMutation(t *testing.T) {
	store := &fakeStore{snap: Snapshot{Offering: []string{"Shadow Cloak"}}}
	bank := openTestBank(t, store)
	ctx := context.Background()
	if _, _, err := bank.Touch(ctx, "p1", "Grog"); err != nil {
		t.Fatal(err)
	}

	store.saveErr = errors.New("disk full")
	if _, err := bank.Buy(ctx, "p1", "Shadow Cloak"); !errors.Is(err, ErrPersistenceWriteFailed) {
		t.Fatalf("expected ErrPersistenceWriteFailed, got %v", err)
	}
	acct, _ := bank.Account("p1")
	if acct.Balance != StartingBalance || len(acct.Inventory) != 0 || len(bank.History("", 0)) != 0 {
		t.Fatalf("failed write leaked into memory: %+v", acct)
	}
	if _, _, err := bank.Touch(ctx, "p2", "Vex"); !errors.Is(err, ErrPersistenceWriteFailed) {
		t.Fatalf("expected ErrPersistenceWriteFailed on create, got %v", err)
	}
	if _, err := bank.Account("p2"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("unpersisted account must not exist, got %v", err)
	}
}

func TestBankStartSessionAllOrNothing(t *testing.T) {
	store := &fakeStore{snap: Snapshot{
		Accounts: []Account{
			{PlayerID: "p1", DisplayName: "Grog", Balance: 100, Subscriptions: []string{"WizFi"}},
			{PlayerID: "p2", DisplayName: "Vex", Balance: 100, Subscriptions: []string{"Netflix"}},
		},
	}}
	bank := openTestBank(t, store)
	ctx := context.Background()

	_, err := bank.StartSession(ctx, dmID)
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || sessErr.PlayerID != "p2" {
		t.Fatalf("expected session error for p2, got %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		if balance, _ := bank.Balance(id); balance != 100 {
			t.Fatalf("%s billed despite aborted session: %d", id, balance)
		}
	}
	if store.saves != 0 || len(bank.Offering()) != 0 || len(bank.History("", 0)) != 0 {
		t.Fatalf("aborted session persisted or rotated state")
	}

	if _, err := bank.Unsubscribe(ctx, dmID, "p2", "Netflix"); err != nil {
		t.Fatalf("unsubscribe stale plan: %v", err)
	}
	report, err := bank.StartSession(ctx, dmID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if report.Balances[0].Balance != 85 || report.Balances[1].Balance != 100 {
		t.Fatalf("unexpected report %+v", report.Balances)
	}
	if len(store.snap.Offering) != OfferingSize {
		t.Fatalf("rotation not persisted: %v", store.snap.Offering)
	}
}

func TestBankUnauthorizedCallersChangeNothing(t *testing.T) {
	store := &fakeStore{}
	bank := openTestBank(t, store)
	ctx := context.Background()
	if _, _, err := bank.Touch(ctx, "p1", "Grog"); err != nil {
		t.Fatal(err)
	}
	saves := store.saves

	if _, err := bank.StartSession(ctx, "p1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("session: expected ErrUnauthorized, got %v", err)
	}
	if _, err := bank.Grant(ctx, "p1", "p1", 1000, "self-dealing"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("grant: expected ErrUnauthorized, got %v", err)
	}
	if _, err := bank.Subscribe(ctx, "p1", "p1", "WizFi"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("subscribe: expected ErrUnauthorized, got %v", err)
	}
	if store.saves != saves || len(bank.Offering()) != 0 {
		t.Fatalf("unauthorized calls changed state")
	}
	if balance, _ := bank.Balance("p1"); balance != StartingBalance {
		t.Fatalf("balance changed to %d", balance)
	}
}

func TestBankModeratorAdjustments(t *testing.T) {
	store := &fakeStore{}
	bank := openTestBank(t, store)
	ctx := context.Background()
	if _, _, err := bank.Touch(ctx, "p1", "Grog"); err != nil {
		t.Fatal(err)
	}
	if balance, err := bank.Grant(ctx, dmID, "p1", 25, "dragon hoard"); err != nil || balance != 125 {
		t.Fatalf("grant balance=%d err=%v", balance, err)
	}
	if balance, err := bank.Fine(ctx, dmID, "p1", 200, "broke the bridge"); err != nil || balance != -75 {
		t.Fatalf("fine balance=%d err=%v", balance, err)
	}
	if _, err := bank.Grant(ctx, dmID, "ghost", 5, ""); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	history := bank.History("p1", 0)
	if len(history) != 2 || history[0].Description != "dragon hoard" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestOpenRejectsDriftedSnapshot(t *testing.T) {
	store := &fakeStore{snap: Snapshot{
		Accounts: []Account{{PlayerID: "p1", DisplayName: "Grog", Balance: 90}},
	}}
	scheduler, _ := NewScheduler(dmID)
	_, err := Open(context.Background(), store, newTestLedger(t), newTestMarket(t, DefaultCatalog(), 1), scheduler, nil)
	if !errors.Is(err, ErrLedgerDrift) {
		t.Fatalf("expected ErrLedgerDrift, got %v", err)
	}
}

func TestBankAbortedSessionKeepsRotationSequence(t *testing.T) {
	ctx := context.Background()
	fresh := openTestBank(t, &fakeStore{})
	want, err := fresh.StartSession(ctx, dmID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	store := &fakeStore{saveErr: errors.New("disk full")}
	retried := openTestBank(t, store)
	if _, err := retried.StartSession(ctx, dmID); !errors.Is(err, ErrPersistenceWriteFailed) {
		t.Fatalf("expected ErrPersistenceWriteFailed, got %v", err)
	}
	store.saveErr = nil
	got, err := retried.StartSession(ctx, dmID)
	if err != nil {
		t.Fatalf("session after failed save: %v", err)
	}
	for i := range want.Offering {
		if got.Offering[i].Name != want.Offering[i].Name {
			t.Fatalf("rotation drifted after aborted session: got %v want %v", got.Offering, want.Offering)
		}
	}
}

func TestBankReportsSaveFailures(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("disk full")}
	bank := openTestBank(t, store)
	var failures []error
	bank.OnSaveFailure(func(err error) { failures = append(failures, err) })
	ctx := context.Background()

	if _, _, err := bank.Touch(ctx, "p1", "Grog"); !errors.Is(err, ErrPersistenceWriteFailed) {
		t.Fatalf("expected ErrPersistenceWriteFailed, got %v", err)
	}
	if _, err := bank.StartSession(ctx, dmID); !errors.Is(err, ErrPersistenceWriteFailed) {
		t.Fatalf("expected ErrPersistenceWriteFailed, got %v", err)
	}
	if _, err := bank.StartSession(ctx, "p1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("got %d save failures reported want 2", len(failures))
	}
}

func TestBankTouchTrimsPlayerID(t *testing.T) {
	store := &fakeStore{}
	bank := openTestBank(t, store)
	ctx := context.Background()

	if _, created, err := bank.Touch(ctx, "42", "Grog"); err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if _, created, err := bank.Touch(ctx, " 42 ", "Grog"); err != nil || created {
		t.Fatalf("padded id: created=%v err=%v", created, err)
	}
	if n := len(bank.Accounts()); n != 1 {
		t.Fatalf("got %d accounts want 1", n)
	}
}
