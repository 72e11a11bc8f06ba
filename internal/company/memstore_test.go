package company

import (
	"context"
	"errors"
	"sort"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// memStore is an in-memory Store whose InTx works on a copy and swaps it in
// only on success, so rollback can be asserted.
type memStore struct {
	companies map[int64]model.Company
	leads     map[int64]int64 // lead id -> company id
	notes     map[int64]int64 // note id -> company id
	nextID    int64
	failOn    string
}

func newMemStore() *memStore {
	return &memStore{
		companies: make(map[int64]model.Company),
		leads:     make(map[int64]int64),
		notes:     make(map[int64]int64),
	}
}

func (m *memStore) add(c model.Company) int64 {
	m.nextID++
	c.ID = m.nextID
	if c.NormalizedName == "" {
		c.NormalizedName = NormalizeName(c.Name)
	}
	m.companies[c.ID] = c
	return c.ID
}

func (m *memStore) addLead(companyID int64) int64 {
	id := int64(len(m.leads) + 1)
	m.leads[id] = companyID
	return id
}

func (m *memStore) addNote(companyID int64) {
	m.notes[int64(len(m.notes)+1)] = companyID
}

func (m *memStore) leadsOf(companyID int64) int {
	n := 0
	for _, c := range m.leads {
		if c == companyID {
			n++
		}
	}
	return n
}

func (m *memStore) ListCompanies(context.Context) ([]model.Company, error) {
	out := make([]model.Company, 0, len(m.companies))
	for _, c := range m.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetCompany(_ context.Context, id int64) (*model.Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) GetCompanyByName(_ context.Context, name string) (*model.Company, error) {
	for _, c := range m.companies {
		if c.NormalizedName == name {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetOrCreateCompany(ctx context.Context, c *model.Company) (bool, error) {
	if existing, _ := m.GetCompanyByName(ctx, c.NormalizedName); existing != nil {
		*c = *existing
		return false, nil
	}
	c.ID = m.add(*c)
	return true, nil
}

func (m *memStore) CountLeads(_ context.Context, id int64) (int, error) {
	return m.leadsOf(id), nil
}

func (m *memStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memTx{
		store:     m,
		companies: make(map[int64]model.Company, len(m.companies)),
		leads:     make(map[int64]int64, len(m.leads)),
		notes:     make(map[int64]int64, len(m.notes)),
	}
	for k, v := range m.companies {
		tx.companies[k] = v
	}
	for k, v := range m.leads {
		tx.leads[k] = v
	}
	for k, v := range m.notes {
		tx.notes[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.companies, m.leads, m.notes = tx.companies, tx.leads, tx.notes
	return nil
}

type memTx struct {
	store     *memStore
	companies map[int64]model.Company
	leads     map[int64]int64
	notes     map[int64]int64
}

var errInjected = errors.New("injected failure")

func (t *memTx) GetCompany(_ context.Context, id int64) (*model.Company, error) {
	c, ok := t.companies[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memTx) UpdateCompany(_ context.Context, c *model.Company) error {
	if t.store.failOn == "update" {
		return errInjected
	}
	t.companies[c.ID] = *c
	return nil
}

func (t *memTx) DeleteCompany(_ context.Context, id int64) error {
	delete(t.companies, id)
	return nil
}

func (t *memTx) ReassignLeads(_ context.Context, from, to int64) (int, error) {
	n := 0
	for id, c := range t.leads {
		if c == from {
			t.leads[id] = to
			n++
		}
	}
	return n, nil
}

func (t *memTx) ReassignNotes(_ context.Context, from, to int64) (int, error) {
	n := 0
	for id, c := range t.notes {
		if c == from {
			t.notes[id] = to
			n++
		}
	}
	return n, nil
}
