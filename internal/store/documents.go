package store

import (
	"context"
	"fmt"

	"shelfmark/internal/models"
)

type documentPage struct {
	Count   int               `json:"count"`
	Next    string            `json:"next"`
	Results []models.Document `json:"results"`
}

// IterDocuments walks the complete document listing in store order, following
// the next pointer of each page, and calls fn for every document. fn
// returning false stops the walk early.
func (c *Client) IterDocuments(ctx context.Context, fn func(models.Document) bool) error {
	pageURL := fmt.Sprintf("%s/api/documents/?page_size=%d", c.baseURL, c.pageSize)
	for pageURL != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		var page documentPage
		if err := c.do(ctx, "GET", pageURL, nil, &page); err != nil {
			return err
		}
		for i := range page.Results {
			if !fn(page.Results[i]) {
				return nil
			}
		}
		pageURL = page.Next
	}
	return nil
}

// CountDocuments returns the store's total document count.
func (c *Client) CountDocuments(ctx context.Context) (int, error) {
	var page documentPage
	if err := c.do(ctx, "GET", fmt.Sprintf("%s/api/documents/?page_size=1", c.baseURL), nil, &page); err != nil {
		return 0, err
	}
	return page.Count, nil
}

// GetDocument fetches one document with its permission flag and custom
// fields.
func (c *Client) GetDocument(ctx context.Context, id int) (*models.Document, error) {
	var doc models.Document
	if err := c.do(ctx, "GET", fmt.Sprintf("%s/api/documents/%d/?full_perms=true", c.baseURL, id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DownloadOriginal fetches the original file for raw analysis.
func (c *Client) DownloadOriginal(ctx context.Context, id int) ([]byte, string, error) {
	return c.download(ctx, fmt.Sprintf("%s/api/documents/%d/download/", c.baseURL, id))
}

// DownloadThumbnail fetches the store's rendered first-page image, used when
// raw analysis runs in image mode.
func (c *Client) DownloadThumbnail(ctx context.Context, id int) ([]byte, string, error) {
	return c.download(ctx, fmt.Sprintf("%s/api/documents/%d/thumb/", c.baseURL, id))
}

// PartialUpdate names the fields one write-back may touch. Nil fields are
// omitted from the PATCH entirely, never sent as null, so everything the
// model had no opinion on keeps its stored value.
type PartialUpdate struct {
	Title         *string
	Tags          []int // merged with the document's current tags
	Correspondent *int
	DocumentType  *int
	CreatedDate   *string
	Content       *string
	CustomFields  []models.CustomFieldValue
}

// UpdateDocument PATCHes the document with the given partial update. Tag
// updates are additive: the payload is the union of the document's current
// tags and the suggested ones. A correspondent already set on the document is
// preserved, never overwritten. Returns the store's updated view.
func (c *Client) UpdateDocument(ctx context.Context, current *models.Document, up PartialUpdate) (*models.Document, error) {
	payload := map[string]any{}

	if up.Title != nil {
		payload["title"] = *up.Title
	}
	if up.Tags != nil {
		payload["tags"] = unionInts(current.Tags, up.Tags)
	}
	if up.Correspondent != nil && current.Correspondent == nil {
		payload["correspondent"] = *up.Correspondent
	}
	if up.DocumentType != nil {
		payload["document_type"] = *up.DocumentType
	}
	if up.CreatedDate != nil {
		payload["created_date"] = *up.CreatedDate
	}
	if up.Content != nil {
		payload["content"] = *up.Content
	}
	if up.CustomFields != nil {
		payload["custom_fields"] = mergeCustomFields(current.CustomFields, up.CustomFields)
	}

	if len(payload) == 0 {
		return current, nil
	}

	var updated models.Document
	if err := c.do(ctx, "PATCH", fmt.Sprintf("%s/api/documents/%d/", c.baseURL, current.ID), payload, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ReplaceTags PATCHes the exact tag list. Post-processing uses this to strip
// trigger tags; everything else goes through UpdateDocument's union.
func (c *Client) ReplaceTags(ctx context.Context, id int, tags []int) error {
	payload := map[string]any{"tags": tags}
	return c.do(ctx, "PATCH", fmt.Sprintf("%s/api/documents/%d/", c.baseURL, id), payload, nil)
}

// unionInts merges b into a, preserving a's order and deduplicating.
func unionInts(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// mergeCustomFields overlays updates onto the document's current field
// instances, keyed by field id. The store replaces the whole list on PATCH,
// so untouched fields must ride along.
func mergeCustomFields(current, updates []models.CustomFieldValue) []models.CustomFieldValue {
	out := make([]models.CustomFieldValue, 0, len(current)+len(updates))
	replaced := make(map[int]bool, len(updates))
	for _, u := range updates {
		replaced[u.Field] = true
	}
	for _, cur := range current {
		if !replaced[cur.Field] {
			out = append(out, cur)
		}
	}
	out = append(out, updates...)
	return out
}
