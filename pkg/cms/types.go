package cms

import "time"

// FieldType enumerates the scalar types a collection schema can declare.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldRichText FieldType = "rich_text"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldMedia    FieldType = "media"
	FieldRef      FieldType = "reference"
)

// Field is one declared field in a collection schema.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	// Collection names the target for reference fields.
	Collection string `json:"collection,omitempty"`
}

// Collection is a content model with a declared schema.
type Collection struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Fields    []Field   `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryStatus enumerates entry publication states.
type EntryStatus string

const (
	EntryDraft     EntryStatus = "draft"
	EntryPublished EntryStatus = "published"
	EntryArchived  EntryStatus = "archived"
)

// Entry is one content item in a collection. Fields holds the values for
// the collection's declared schema.
type Entry struct {
	ID          string         `json:"id"`
	Collection  string         `json:"collection"`
	Status      EntryStatus    `json:"status"`
	Fields      map[string]any `json:"fields"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
}
