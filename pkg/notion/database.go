package notion

import (
	"context"
	"iter"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Pages yields every page of dbID that matches q, following cursors. q may
// be nil. Iteration stops at the first error, which is yielded last.
func Pages(ctx context.Context, c Client, dbID string, q *notionapi.DatabaseQueryRequest) iter.Seq2[notionapi.Page, error] {
	return func(yield func(notionapi.Page, error) bool) {
		req := notionapi.DatabaseQueryRequest{PageSize: 100}
		if q != nil {
			req = *q
		}
		for {
			resp, err := c.QueryDatabase(ctx, dbID, &req)
			if err != nil {
				yield(notionapi.Page{}, eris.Wrapf(err, "notion: page through %s", dbID))
				return
			}
			for _, p := range resp.Results {
				if !yield(p, nil) {
					return
				}
			}
			if !resp.HasMore || resp.NextCursor == "" {
				return
			}
			req.StartCursor = resp.NextCursor
		}
	}
}

// KeyIndex maps the text of property to page ID for every page in dbID.
// Pages with an empty key are left out; on duplicates the first page wins.
func KeyIndex(ctx context.Context, c Client, dbID, property string) (map[string]string, error) {
	index := make(map[string]string)
	for p, err := range Pages(ctx, c, dbID, nil) {
		if err != nil {
			return nil, err
		}
		key := propertyText(p.Properties[property])
		if _, seen := index[key]; key != "" && !seen {
			index[key] = string(p.ID)
		}
	}
	return index, nil
}

// FindByKey returns the first page whose rich-text property equals key, or
// nil when none does.
func FindByKey(ctx context.Context, c Client, dbID, property, key string) (*notionapi.Page, error) {
	resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: property,
			RichText: &notionapi.TextFilterCondition{Equals: key},
		},
		PageSize: 1,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: find %s=%s", property, key)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

// propertyText flattens a title or rich-text property. Decoded pages hold
// pointers; pages built locally hold values.
func propertyText(p notionapi.Property) string {
	var rt []notionapi.RichText
	switch v := p.(type) {
	case *notionapi.RichTextProperty:
		rt = v.RichText
	case notionapi.RichTextProperty:
		rt = v.RichText
	case *notionapi.TitleProperty:
		rt = v.Title
	case notionapi.TitleProperty:
		rt = v.Title
	}
	var b strings.Builder
	for _, t := range rt {
		switch {
		case t.PlainText != "":
			b.WriteString(t.PlainText)
		case t.Text != nil:
			b.WriteString(t.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}
