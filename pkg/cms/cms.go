// Package cms manages content collections and their entries.
package cms

import (
	"context"
	"net/url"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/transport"
)

const serviceName = "cms"

// Service is the client for the Tiation content API.
type Service struct {
	client *transport.Client
}

// New creates a cms service backed by the transport client.
func New(client *transport.Client) *Service {
	return &Service{client: client}
}

// CreateCollectionRequest declares a new content model.
type CreateCollectionRequest struct {
	Slug   string  `json:"slug"`
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// CreateCollection registers a new collection.
func (s *Service) CreateCollection(ctx context.Context, req CreateCollectionRequest) (*Collection, error) {
	if req.Slug == "" {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "collection slug is required")
	}
	if len(req.Fields) == 0 {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "collection needs at least one field")
	}

	var col Collection
	if err := s.client.Post(ctx, serviceName, "create_collection", "cms/collections", req, &col); err != nil {
		return nil, err
	}
	return &col, nil
}

// GetCollection fetches a collection by slug.
func (s *Service) GetCollection(ctx context.Context, slug string) (*Collection, error) {
	var col Collection
	if err := s.client.Get(ctx, serviceName, "get_collection", "cms/collections/"+url.PathEscape(slug), nil, &col); err != nil {
		return nil, err
	}
	return &col, nil
}

// CollectionPage is one page of collections.
type CollectionPage struct {
	Collections []Collection `json:"collections"`
	transport.PageInfo
}

// ListCollections returns one page of collections.
func (s *Service) ListCollections(ctx context.Context, opts transport.ListOptions) (*CollectionPage, error) {
	var page CollectionPage
	if err := s.client.Get(ctx, serviceName, "list_collections", "cms/collections", opts.Query(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteCollection removes a collection and all of its entries.
func (s *Service) DeleteCollection(ctx context.Context, slug string) error {
	return s.client.Delete(ctx, serviceName, "delete_collection", "cms/collections/"+url.PathEscape(slug))
}

// CreateEntry adds a draft entry to a collection.
func (s *Service) CreateEntry(ctx context.Context, collection string, fields map[string]any) (*Entry, error) {
	if collection == "" {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "collection is required")
	}

	body := map[string]any{"fields": fields}
	var entry Entry
	if err := s.client.Post(ctx, serviceName, "create_entry", entriesPath(collection), body, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEntry fetches one entry.
func (s *Service) GetEntry(ctx context.Context, collection, id string) (*Entry, error) {
	var entry Entry
	if err := s.client.Get(ctx, serviceName, "get_entry", entryPath(collection, id), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntriesOptions filter and paginate an entry listing.
type ListEntriesOptions struct {
	transport.ListOptions
	// Status restricts results to one publication state.
	Status EntryStatus
	// Filters match field values exactly, keyed by field name.
	Filters map[string]string
}

func (o ListEntriesOptions) query() url.Values {
	q := o.ListOptions.Query()
	if o.Status != "" {
		q.Set("status", string(o.Status))
	}
	for field, value := range o.Filters {
		q.Set("fields."+field, value)
	}
	return q
}

// EntryPage is one page of entries.
type EntryPage struct {
	Entries []Entry `json:"entries"`
	transport.PageInfo
}

// ListEntries returns one page of entries in a collection.
func (s *Service) ListEntries(ctx context.Context, collection string, opts ListEntriesOptions) (*EntryPage, error) {
	var page EntryPage
	if err := s.client.Get(ctx, serviceName, "list_entries", entriesPath(collection), opts.query(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdateEntry replaces an entry's field values, bumping its version.
// Updating a published entry moves it back to draft until republished.
func (s *Service) UpdateEntry(ctx context.Context, collection, id string, fields map[string]any) (*Entry, error) {
	body := map[string]any{"fields": fields}
	var entry Entry
	if err := s.client.Put(ctx, serviceName, "update_entry", entryPath(collection, id), body, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteEntry removes an entry.
func (s *Service) DeleteEntry(ctx context.Context, collection, id string) error {
	return s.client.Delete(ctx, serviceName, "delete_entry", entryPath(collection, id))
}

// Publish makes an entry publicly visible.
func (s *Service) Publish(ctx context.Context, collection, id string) (*Entry, error) {
	var entry Entry
	if err := s.client.Post(ctx, serviceName, "publish_entry", entryPath(collection, id)+"/publish", nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Unpublish reverts an entry to draft.
func (s *Service) Unpublish(ctx context.Context, collection, id string) (*Entry, error) {
	var entry Entry
	if err := s.client.Post(ctx, serviceName, "unpublish_entry", entryPath(collection, id)+"/unpublish", nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func entriesPath(collection string) string {
	return "cms/collections/" + url.PathEscape(collection) + "/entries"
}

func entryPath(collection, id string) string {
	return entriesPath(collection) + "/" + url.PathEscape(id)
}
