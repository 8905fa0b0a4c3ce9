package economy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	StartingBalance = int64(100)

	// DefaultInterestBps is the per-session interest on debt, 500 bps = 5%.
	DefaultInterestBps = int64(500)

	OfferingSize = 3
)

var (
	ErrAccountNotFound         = errors.New("account not found")
	ErrUnknownSubscriptionPlan = errors.New("unknown subscription plan")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrItemNotOffered          = errors.New("item not offered")
	ErrPersistenceWriteFailed  = errors.New("persistence write failed")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidPlayer           = errors.New("invalid player id")
	ErrNotSubscribed           = errors.New("not subscribed")
	ErrInvalidCatalog          = errors.New("invalid catalog")
	ErrLedgerDrift             = errors.New("ledger does not reconcile with transaction log")
)

type EntryKind string

const (
	KindCharge       EntryKind = "charge"
	KindSubscription EntryKind = "subscription"
	KindInterest     EntryKind = "interest"
	KindPurchase     EntryKind = "purchase"
	KindGrant        EntryKind = "grant"
)

type Account struct {
	PlayerID      string    `json:"player_id"`
	DisplayName   string    `json:"display_name"`
	Balance       int64     `json:"balance"`
	Subscriptions []string  `json:"subscriptions"`
	Inventory     []string  `json:"inventory"`
	CreatedAt     time.Time `json:"created_at"`
}

func (a Account) clone() Account {
	a.Subscriptions = append([]string(nil), a.Subscriptions...)
	a.Inventory = append([]string(nil), a.Inventory...)
	return a
}

func (a Account) hasSubscription(plan string) bool {
	for _, s := range a.Subscriptions {
		if s == plan {
			return true
		}
	}
	return false
}

type LogEntry struct {
	ID          string    `json:"id"`
	PlayerID    string    `json:"player_id"`
	Player      string    `json:"player"`
	Kind        EntryKind `json:"kind"`
	Delta       int64     `json:"delta"`
	Balance     int64     `json:"balance"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

type MarketItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
}

// PriceTable maps subscription plan names to their per-session cost.
type PriceTable map[string]int64

func NewPriceTable(prices map[string]int64) (PriceTable, error) {
	out := make(PriceTable, len(prices))
	for name, cost := range prices {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty plan name", ErrUnknownSubscriptionPlan)
		}
		if cost <= 0 {
			return nil, fmt.Errorf("%w: plan %q must cost > 0", ErrInvalidAmount, name)
		}
		out[name] = cost
	}
	return out, nil
}

func (p PriceTable) Cost(plan string) (int64, error) {
	cost, ok := p[plan]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSubscriptionPlan, plan)
	}
	return cost, nil
}

// Lookup resolves a plan name case-insensitively to its canonical spelling.
func (p PriceTable) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if _, ok := p[name]; ok {
		return name, true
	}
	for plan := range p {
		if strings.EqualFold(plan, name) {
			return plan, true
		}
	}
	return "", false
}

func (p PriceTable) Names() []string {
	out := make([]string, 0, len(p))
	for name := range p {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func DefaultPrices() map[string]int64 {
	return map[string]int64{
		"WizFi":                15,
		"Starscrolls Coffee":   10,
		"Owlbear Outfitters":   12,
		"Bardify":              8,
		"GlamourGram":          10,
		"MagiMail":             5,
		"DungeonDrive-Thru":    7,
		"AppTome":              6,
		"RunUber":              10,
		"Wandify":              8,
		"Spellfie Stick":       5,
		"Mystical Market":      12,
		"PayParchment":         5,
		"AirBnB":               15,
		"TomeHub":              8,
		"FitMage":              6,
		"Mithrilbucks":         10,
		"Eldritch Electronics": 12,
		"Gnomazon":             14,
		"Wight-Mart":           9,
		"Merlin & Sachs":       15,
		"Draconic Drive-thrus": 12,
		"ArcaneMall":           10,
		"Potion Depot":         14,
		"NecroNet":             10,
	}
}

func DefaultCatalog() []MarketItem {
	return []MarketItem{
		{"Shadow Cloak", "Grants advantage on stealth checks. One-time use.", 50},
		{"Vial of Nightshade", "Adds poison damage to the next attack. One-time use.", 75},
		{"Arcane Lockpick", "Opens magically sealed doors. One-time use.", 100},
		{"Scroll of Fireball", "Casts Fireball (level 3). One-time use.", 120},
		{"Ring of Invisibility", "Grants invisibility for one turn. One-time use.", 150},
		{"Phoenix Feather", "Revives the bearer with half health. One-time use.", 200},
		{"Veto Coin of Fate", "Veto one DM decision before the outcome is revealed. One-time use.", 500},
	}
}

// InterestOn returns the (non-positive) interest owed on balance at bps basis points.
// Integer division truncates toward zero, which is the ceiling for negative products.
func InterestOn(balance, bps int64) int64 {
	if balance >= 0 || bps <= 0 {
		return 0
	}
	return balance * bps / 10_000
}

func ValidatePlayerID(playerID string) error {
	if strings.TrimSpace(playerID) == "" {
		return ErrInvalidPlayer
	}
	return nil
}
