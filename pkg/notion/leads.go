package notion

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Property names of the leads database.
const (
	PropCompany   = "Company"
	PropLeadKey   = "Lead Key"
	PropTaxID     = "CNPJ"
	PropScore     = "Score"
	PropPriority  = "Priority"
	PropJob       = "Trigger Job"
	PropJobURL    = "Job URL"
	PropContacts  = "Contacts"
	PropUpdatedAt = "Last Updated"
)

// LeadPage is the Notion projection of one lead.
type LeadPage struct {
	LeadID    int64
	Company   string
	TaxID     string
	Score     int
	Priority  string
	JobTitle  string
	JobURL    string
	Contacts  []string
	UpdatedAt time.Time
}

// Key is the stable identifier written to the Lead Key property.
func (l LeadPage) Key() string {
	return "lead-" + strconv.FormatInt(l.LeadID, 10)
}

func richText(s string) []notionapi.RichText {
	// Notion caps rich text content at 2000 characters.
	if len(s) > 2000 {
		s = s[:2000]
	}
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}}
}

func (l LeadPage) properties() notionapi.Properties {
	updated := notionapi.Date(l.UpdatedAt)
	props := notionapi.Properties{
		PropCompany:  notionapi.TitleProperty{Title: richText(l.Company)},
		PropLeadKey:  notionapi.RichTextProperty{RichText: richText(l.Key())},
		PropScore:    notionapi.NumberProperty{Number: float64(l.Score)},
		PropTaxID:    notionapi.RichTextProperty{RichText: richText(l.TaxID)},
		PropJob:      notionapi.RichTextProperty{RichText: richText(l.JobTitle)},
		PropContacts: notionapi.RichTextProperty{RichText: richText(strings.Join(l.Contacts, "\n"))},
		PropUpdatedAt: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &updated},
		},
	}
	if l.Priority != "" {
		props[PropPriority] = notionapi.SelectProperty{Select: notionapi.Option{Name: l.Priority}}
	}
	if l.JobURL != "" {
		props[PropJobURL] = notionapi.URLProperty{URL: l.JobURL}
	}
	return props
}

// Mirror keeps one Notion database in step with the lead store, matching
// pages on the Lead Key property.
type Mirror struct {
	client Client
	dbID   string
	// pages is nil until Preload; after it, a missing key means no page.
	pages map[string]string
}

func NewMirror(c Client, dbID string) *Mirror {
	return &Mirror{client: c, dbID: dbID}
}

// Preload indexes the existing pages so Push needs no lookup query per lead.
// Worth it when pushing more than a handful of leads.
func (m *Mirror) Preload(ctx context.Context) error {
	if m.dbID == "" {
		return eris.New("notion: lead database id is required")
	}
	pages, err := KeyIndex(ctx, m.client, m.dbID, PropLeadKey)
	if err != nil {
		return err
	}
	m.pages = pages
	return nil
}

// Push creates or updates the page for lead and returns its ID and whether
// it was created.
func (m *Mirror) Push(ctx context.Context, lead LeadPage) (string, bool, error) {
	if m.dbID == "" {
		return "", false, eris.New("notion: lead database id is required")
	}

	pageID, err := m.lookup(ctx, lead.Key())
	if err != nil {
		return "", false, err
	}

	if pageID != "" {
		page, err := m.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
			Properties: lead.properties(),
		})
		if err != nil {
			return "", false, eris.Wrapf(err, "notion: update lead %d", lead.LeadID)
		}
		return string(page.ID), false, nil
	}

	page, err := m.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(m.dbID),
		},
		Properties: lead.properties(),
	})
	if err != nil {
		return "", false, eris.Wrapf(err, "notion: create lead %d", lead.LeadID)
	}
	if m.pages != nil {
		m.pages[lead.Key()] = string(page.ID)
	}
	return string(page.ID), true, nil
}

func (m *Mirror) lookup(ctx context.Context, key string) (string, error) {
	if m.pages != nil {
		return m.pages[key], nil
	}
	page, err := FindByKey(ctx, m.client, m.dbID, PropLeadKey, key)
	if err != nil || page == nil {
		return "", err
	}
	return string(page.ID), nil
}
