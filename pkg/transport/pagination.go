package transport

import (
	"net/url"
	"strconv"
)

// ListOptions control cursor-based pagination of list endpoints.
// A zero value asks for the server's default page size from the start.
type ListOptions struct {
	// Limit caps the number of items per page. Zero means server default.
	Limit int
	// Cursor resumes a previous listing from PageInfo.NextCursor.
	Cursor string
}

// Query encodes the options as URL query parameters.
func (o ListOptions) Query() url.Values {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Cursor != "" {
		q.Set("cursor", o.Cursor)
	}
	return q
}

// PageInfo is the pagination envelope returned by list endpoints.
type PageInfo struct {
	// NextCursor is empty on the final page.
	NextCursor string `json:"next_cursor,omitempty"`
	Total      int    `json:"total,omitempty"`
}

// HasMore reports whether another page exists.
func (p PageInfo) HasMore() bool {
	return p.NextCursor != ""
}
