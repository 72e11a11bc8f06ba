package company

import (
	"context"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// Store is the persistence surface the dedup engine needs. GetCompany and
// GetCompanyByName return (nil, nil) when nothing matches.
type Store interface { //nolint:revive // company.Store reads fine at call sites
	ListCompanies(ctx context.Context) ([]model.Company, error)
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	GetCompanyByName(ctx context.Context, normalizedName string) (*model.Company, error)
	// GetOrCreateCompany inserts c unless a company with the same
	// normalized name exists, in which case c is overwritten with the
	// stored record. It reports whether a row was inserted.
	GetOrCreateCompany(ctx context.Context, c *model.Company) (bool, error)
	CountLeads(ctx context.Context, companyID int64) (int, error)
	// InTx runs fn in one storage transaction, committing when fn returns
	// nil and rolling back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations a merge performs atomically.
type Tx interface {
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	UpdateCompany(ctx context.Context, c *model.Company) error
	DeleteCompany(ctx context.Context, id int64) error
	ReassignLeads(ctx context.Context, fromID, toID int64) (int, error)
	ReassignNotes(ctx context.Context, fromID, toID int64) (int, error)
}
