package accounts

import (
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Chart is a read-only index over the chart of accounts with precomputed
// descendant sets for rollups.
type Chart struct {
	byID        map[int64]Account
	byCode      map[string]int64
	descendants map[int64][]int64
	ordered     []Account
}

// NewChart indexes accounts. It rejects parent cycles and parent/child type
// mismatches found in stored data.
func NewChart(list []Account) (*Chart, error) {
	c := &Chart{
		byID:        make(map[int64]Account, len(list)),
		byCode:      make(map[string]int64, len(list)),
		descendants: make(map[int64][]int64, len(list)),
	}
	for _, a := range list {
		c.byID[a.ID] = a
		c.byCode[a.Code] = a.ID
	}
	for _, a := range list {
		ancestors, err := c.walkParents(a)
		if err != nil {
			return nil, err
		}
		for _, anc := range ancestors {
			c.descendants[anc] = append(c.descendants[anc], a.ID)
		}
	}
	c.ordered = append(c.ordered, list...)
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Code < c.ordered[j].Code })
	for id := range c.descendants {
		ids := c.descendants[id]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return c, nil
}

func (c *Chart) walkParents(a Account) ([]int64, error) {
	var out []int64
	seen := map[int64]bool{a.ID: true}
	cur := a
	for cur.ParentID != nil {
		parent, ok := c.byID[*cur.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %d of %s", shared.ErrAccountNotFound, *cur.ParentID, cur.Code)
		}
		if seen[parent.ID] {
			return nil, fmt.Errorf("%w: %s", shared.ErrAccountCycle, a.Code)
		}
		if parent.Type != cur.Type {
			return nil, fmt.Errorf("%w: %s under %s", shared.ErrParentTypeMismatch, cur.Code, parent.Code)
		}
		seen[parent.ID] = true
		out = append(out, parent.ID)
		cur = parent
	}
	return out, nil
}

// Account returns the account by id.
func (c *Chart) Account(id int64) (Account, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// ByCode returns the account by code.
func (c *Chart) ByCode(code string) (Account, bool) {
	id, ok := c.byCode[code]
	if !ok {
		return Account{}, false
	}
	return c.byID[id], true
}

// Subtree returns id followed by all of its descendants.
func (c *Chart) Subtree(id int64) []int64 {
	out := make([]int64, 0, len(c.descendants[id])+1)
	out = append(out, id)
	return append(out, c.descendants[id]...)
}

// Accounts returns every account ordered by code.
func (c *Chart) Accounts() []Account {
	out := make([]Account, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Len reports the number of accounts.
func (c *Chart) Len() int {
	return len(c.byID)
}
