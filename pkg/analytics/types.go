package analytics

import "time"

// Event represents a single analytics event.
type Event struct {
	// ID is assigned by the SDK (ULID) when empty, so events stay
	// deduplicatable across spool replays.
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	UserID     string         `json:"user_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Query describes an aggregation over tracked events.
type Query struct {
	Metric   string            `json:"metric"` // count, unique_users, sum, avg
	Event    string            `json:"event,omitempty"`
	Property string            `json:"property,omitempty"` // for sum/avg
	From     time.Time         `json:"from"`
	To       time.Time         `json:"to"`
	Interval string            `json:"interval,omitempty"` // hour, day, week, month
	GroupBy  []string          `json:"group_by,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// Point is a single aggregated value in a series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is one group of aggregated points.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Result is the response to a Query.
type Result struct {
	Query  Query    `json:"query"`
	Series []Series `json:"series"`
	Total  float64  `json:"total"`
}

// ExportStatus enumerates export job states.
type ExportStatus string

const (
	ExportPending   ExportStatus = "pending"
	ExportRunning   ExportStatus = "running"
	ExportCompleted ExportStatus = "completed"
	ExportFailed    ExportStatus = "failed"
)

// Export is an asynchronous raw-event export job.
type Export struct {
	ID          string       `json:"id"`
	Status      ExportStatus `json:"status"`
	DownloadURL string       `json:"download_url,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
