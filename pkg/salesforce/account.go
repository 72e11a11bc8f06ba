package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// TaxIDField is the custom Account field holding the company's CNPJ.
const TaxIDField = "CNPJ__c"

// Account represents the Salesforce Account fields the sink reads back.
type Account struct {
	ID      string `json:"Id" salesforce:"Id"`
	Name    string `json:"Name" salesforce:"Name"`
	Website string `json:"Website" salesforce:"Website"`
	TaxID   string `json:"CNPJ__c" salesforce:"CNPJ__c"`
}

// AccountInput is one lead's company as pushed to Salesforce.
type AccountInput struct {
	Name          string
	TaxID         string
	Website       string
	Industry      string
	City          string
	State         string
	Employees     int
	AnnualRevenue float64
	Rating        string
	Description   string
}

// ContactInput is one suggested contact.
type ContactInput struct {
	Name  string
	Title string
	Email string
	Phone string
}

func (a AccountInput) fields() map[string]any {
	f := map[string]any{"Name": a.Name, "BillingCountry": "Brazil"}
	set := func(k, v string) {
		if v != "" {
			f[k] = v
		}
	}
	set(TaxIDField, a.TaxID)
	set("Website", a.Website)
	set("Industry", a.Industry)
	set("BillingCity", a.City)
	set("BillingState", a.State)
	set("Rating", a.Rating)
	set("Description", a.Description)
	if a.Employees > 0 {
		f["NumberOfEmployees"] = a.Employees
	}
	if a.AnnualRevenue > 0 {
		f["AnnualRevenue"] = a.AnnualRevenue
	}
	return f
}

// FindAccount looks an Account up by tax ID, then by website. Returns nil if
// neither matches.
func FindAccount(ctx context.Context, c Client, taxID, website string) (*Account, error) {
	var clauses []string
	if taxID != "" {
		clauses = append(clauses, fmt.Sprintf("%s = '%s'", TaxIDField, escapeSoql(taxID)))
	}
	if website != "" {
		clauses = append(clauses, fmt.Sprintf("Website LIKE '%%%s%%'", escapeSoql(website)))
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	soql := fmt.Sprintf("SELECT Id, Name, Website, %s FROM Account WHERE %s LIMIT 1",
		TaxIDField, strings.Join(clauses, " OR "))

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, "salesforce: find account")
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// UpsertAccount updates the Account matching in, or creates one. Returns the
// Account ID and whether it was created.
func UpsertAccount(ctx context.Context, c Client, in AccountInput) (string, bool, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", false, eris.New("salesforce: account Name is required")
	}
	existing, err := FindAccount(ctx, c, in.TaxID, in.Website)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		if err := c.Update(ctx, "Account", existing.ID, in.fields()); err != nil {
			return "", false, eris.Wrap(err, fmt.Sprintf("salesforce: update account %s", existing.ID))
		}
		return existing.ID, false, nil
	}
	id, err := c.Create(ctx, "Account", in.fields())
	if err != nil {
		return "", false, eris.Wrap(err, "salesforce: create account")
	}
	return id, true, nil
}

// InsertContacts creates Contacts linked to accountID in batches of 200
// (Collections API limit). Contacts without a name are skipped.
func InsertContacts(ctx context.Context, c Client, accountID string, contacts []ContactInput) ([]Result, error) {
	if accountID == "" {
		return nil, eris.New("salesforce: account id is required for contacts")
	}

	var records []map[string]any
	for _, ct := range contacts {
		first, last := splitName(ct.Name)
		if last == "" {
			continue
		}
		rec := map[string]any{"AccountId": accountID, "LastName": last}
		if first != "" {
			rec["FirstName"] = first
		}
		if ct.Title != "" {
			rec["Title"] = ct.Title
		}
		if ct.Email != "" {
			rec["Email"] = ct.Email
		}
		if ct.Phone != "" {
			rec["Phone"] = ct.Phone
		}
		records = append(records, rec)
	}

	var all []Result
	for start := 0; start < len(records); start += collectionLimit {
		end := min(start+collectionLimit, len(records))
		results, err := c.CreateMany(ctx, "Contact", records[start:end])
		if err != nil {
			return all, eris.Wrap(err, fmt.Sprintf("salesforce: insert contacts batch %d-%d", start, end))
		}
		all = append(all, results...)
	}
	return all, nil
}

// splitName splits a full name into first and last name. A single word is
// treated as the last name (required by Salesforce).
func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
