package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"shelfmark/internal/models"
)

type entityPage struct {
	Count   int                    `json:"count"`
	Next    string                 `json:"next"`
	Results []models.CatalogEntity `json:"results"`
}

// ListAll fetches every entry of one catalog, following pagination. This is
// the wholesale load behind cache refreshes.
func (c *Client) ListAll(ctx context.Context, kind models.EntityKind) ([]models.CatalogEntity, error) {
	var entities []models.CatalogEntity
	pageURL := fmt.Sprintf("%s/api/%s/?page_size=%d", c.baseURL, kind.Endpoint(), c.pageSize)
	for pageURL != "" {
		var page entityPage
		if err := c.do(ctx, "GET", pageURL, nil, &page); err != nil {
			return nil, err
		}
		entities = append(entities, page.Results...)
		pageURL = page.Next
	}
	return entities, nil
}

// FindByNameExact asks the store for a case-insensitive exact name match.
// Returns nil without error when nothing matches.
func (c *Client) FindByNameExact(ctx context.Context, kind models.EntityKind, name string) (*models.CatalogEntity, error) {
	var page entityPage
	reqURL := fmt.Sprintf("%s/api/%s/?name__iexact=%s", c.baseURL, kind.Endpoint(), url.QueryEscape(name))
	if err := c.do(ctx, "GET", reqURL, nil, &page); err != nil {
		return nil, err
	}
	if len(page.Results) == 0 {
		return nil, nil
	}
	return &page.Results[0], nil
}

// Create adds a catalog entry. A 400 reply is treated as a name conflict:
// another writer created the entity between our lookup and this call.
func (c *Client) Create(ctx context.Context, kind models.EntityKind, name string) (*models.CatalogEntity, error) {
	var created models.CatalogEntity
	reqURL := fmt.Sprintf("%s/api/%s/", c.baseURL, kind.Endpoint())
	err := c.do(ctx, "POST", reqURL, map[string]any{"name": name}, &created)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return nil, &ConflictError{Kind: kind, Name: name, Body: apiErr.Body}
		}
		return nil, err
	}
	return &created, nil
}

// ListCustomFields fetches the store's custom field definitions.
func (c *Client) ListCustomFields(ctx context.Context) ([]models.CustomFieldDefinition, error) {
	var fields []models.CustomFieldDefinition
	pageURL := fmt.Sprintf("%s/api/custom_fields/?page_size=%d", c.baseURL, c.pageSize)
	for pageURL != "" {
		var page struct {
			Next    string                         `json:"next"`
			Results []models.CustomFieldDefinition `json:"results"`
		}
		if err := c.do(ctx, "GET", pageURL, nil, &page); err != nil {
			return nil, err
		}
		fields = append(fields, page.Results...)
		pageURL = page.Next
	}
	return fields, nil
}

// ConflictError reports a create rejected because the name already exists.
type ConflictError struct {
	Kind models.EntityKind
	Name string
	Body string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists: %s", e.Kind, e.Name, truncateBody(e.Body))
}

func (e *ConflictError) Unwrap() error { return ErrEntityConflict }
