package economy

import (
	"fmt"
	"strings"
)

// RandSource is the randomness used for rotation. *math/rand.Rand satisfies it.
type RandSource interface {
	Intn(n int) int
}

// Market owns the black market catalog and the items currently on offer.
type Market struct {
	catalog  []MarketItem
	offering []MarketItem
	size     int
	rand     *draws
}

type draw struct{ n, v int }

// draws wraps the rotation source so a mutation that is thrown away can hand
// its numbers back. A rolled-back draw is served again only for the same n.
type draws struct {
	src    RandSource
	unread []draw
	taken  []draw
}

func (d *draws) Intn(n int) int {
	if len(d.unread) > 0 {
		next := d.unread[0]
		d.unread = d.unread[1:]
		if next.n == n {
			d.taken = append(d.taken, next)
			return next.v
		}
		d.unread = nil
	}
	v := d.src.Intn(n)
	d.taken = append(d.taken, draw{n: n, v: v})
	return v
}

func (d *draws) commit() {
	d.taken = nil
}

func (d *draws) rollback() {
	d.unread = append(d.taken, d.unread...)
	d.taken = nil
}

func NewMarket(catalog []MarketItem, rnd RandSource) (*Market, error) {
	if rnd == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrInvalidCatalog)
	}
	seen := make(map[string]struct{}, len(catalog))
	for _, item := range catalog {
		key := strings.ToLower(strings.TrimSpace(item.Name))
		if key == "" {
			return nil, fmt.Errorf("%w: item name is required", ErrInvalidCatalog)
		}
		if item.Cost <= 0 {
			return nil, fmt.Errorf("%w: %s must cost > 0", ErrInvalidCatalog, item.Name)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate item %s", ErrInvalidCatalog, item.Name)
		}
		seen[key] = struct{}{}
	}
	return &Market{
		catalog:  append([]MarketItem(nil), catalog...),
		offering: []MarketItem{},
		size:     OfferingSize,
		rand:     &draws{src: rnd},
	}, nil
}

// clone shares the catalog, which never changes, the offering, which is
// only ever replaced wholesale, and the draw buffer, which the bank settles.
func (m *Market) clone() *Market {
	c := *m
	return &c
}

// Rotate samples min(3, len(catalog)) distinct items without replacement
// using a partial Fisher-Yates shuffle over catalog indexes.
func (m *Market) Rotate() []MarketItem {
	n := len(m.catalog)
	k := m.size
	if n < k {
		k = n
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	next := make([]MarketItem, 0, k)
	for i := 0; i < k; i++ {
		j := i + m.rand.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
		next = append(next, m.catalog[idx[i]])
	}
	m.offering = next
	return m.Offering()
}

func (m *Market) Offering() []MarketItem {
	return append([]MarketItem{}, m.offering...)
}

func (m *Market) Catalog() []MarketItem {
	return append([]MarketItem{}, m.catalog...)
}

// Purchase validates that itemName is on offer right now. It changes nothing.
func (m *Market) Purchase(itemName string) (MarketItem, error) {
	itemName = strings.TrimSpace(itemName)
	for _, item := range m.offering {
		if strings.EqualFold(item.Name, itemName) {
			return item, nil
		}
	}
	return MarketItem{}, fmt.Errorf("%w: %q", ErrItemNotOffered, itemName)
}

func (m *Market) offeredNames() []string {
	out := make([]string, 0, len(m.offering))
	for _, item := range m.offering {
		out = append(out, item.Name)
	}
	return out
}

// restore rebuilds the offering from persisted names and returns the names
// that are no longer in the catalog.
func (m *Market) restore(names []string) []string {
	var dropped []string
	offering := make([]MarketItem, 0, len(names))
	for _, name := range names {
		found := false
		for _, item := range m.catalog {
			if strings.EqualFold(item.Name, name) {
				offering = append(offering, item)
				found = true
				break
			}
		}
		if !found {
			dropped = append(dropped, name)
		}
	}
	m.offering = offering
	return dropped
}
