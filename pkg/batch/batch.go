// Package batch composes multiple API operations into single requests.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/transport"
)

const serviceName = "batch"

// MaxOperations is the server-side cap on operations per batch request.
const MaxOperations = 100

// defaultConcurrency bounds parallel chunk execution in ExecuteAll.
const defaultConcurrency = 4

// Operation is one API call inside a batch.
type Operation struct {
	// ID correlates the operation with its result. Assigned
	// positionally ("op_0", "op_1", ...) when empty.
	ID     string `json:"id"`
	Method string `json:"method"`
	// Path is relative to the versioned API root, e.g.
	// "cms/collections/posts/entries".
	Path string `json:"path"`
	Body any    `json:"body,omitempty"`
}

// OperationError describes a failed operation inside a batch.
type OperationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OperationResult is the outcome of one operation. A batch request
// succeeds as a whole even when individual operations fail; check
// each result.
type OperationResult struct {
	ID         string          `json:"id"`
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
	Error      *OperationError `json:"error,omitempty"`
}

// OK reports whether the operation succeeded.
func (r OperationResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the result body into out.
func (r OperationResult) Decode(out any) error {
	if !r.OK() {
		msg := "operation failed"
		if r.Error != nil {
			msg = r.Error.Message
		}
		return sdkerrors.Newf(sdkerrors.ErrCodeValidation, "%s (HTTP %d)", msg, r.StatusCode)
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeServer, "decoding operation result")
	}
	return nil
}

// Result holds the per-operation outcomes of a batch, in request order.
type Result struct {
	Results []OperationResult `json:"results"`
}

// Failed returns the results of operations that did not succeed.
func (r *Result) Failed() []OperationResult {
	var failed []OperationResult
	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	return failed
}

// ByID returns the result for an operation ID.
func (r *Result) ByID(id string) (OperationResult, bool) {
	for _, res := range r.Results {
		if res.ID == id {
			return res, true
		}
	}
	return OperationResult{}, false
}

// Service is the client for the batch API.
type Service struct {
	client *transport.Client
}

// New creates a batch service backed by the transport client.
func New(client *transport.Client) *Service {
	return &Service{client: client}
}

// Execute sends up to MaxOperations operations in one request. The
// request itself is retried safely; the server deduplicates on the
// idempotency key.
func (s *Service) Execute(ctx context.Context, ops []Operation) (*Result, error) {
	if len(ops) == 0 {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "batch needs at least one operation")
	}
	if len(ops) > MaxOperations {
		return nil, sdkerrors.Newf(sdkerrors.ErrCodeInvalidInput, "batch exceeds %d operations", MaxOperations)
	}
	for i := range ops {
		if ops[i].Method == "" || ops[i].Path == "" {
			return nil, sdkerrors.Newf(sdkerrors.ErrCodeInvalidInput, "operation %d needs a method and path", i)
		}
		if ops[i].ID == "" {
			ops[i].ID = fmt.Sprintf("op_%d", i)
		}
	}

	body := map[string]any{"operations": ops}
	var result Result
	if err := s.client.Post(ctx, serviceName, "execute", "batch", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecuteAllOptions tune ExecuteAll.
type ExecuteAllOptions struct {
	// ChunkSize caps operations per request. Defaults to MaxOperations.
	ChunkSize int
	// Concurrency bounds chunks in flight. Defaults to 4.
	Concurrency int
}

// ExecuteAll splits an arbitrarily large operation list into chunks,
// executes them concurrently, and merges the results back into request
// order. The first transport failure cancels outstanding chunks;
// per-operation failures do not.
func (s *Service) ExecuteAll(ctx context.Context, ops []Operation, opts ExecuteAllOptions) (*Result, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 || chunkSize > MaxOperations {
		chunkSize = MaxOperations
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	// Assign IDs up front so results can be reordered after the merge.
	for i := range ops {
		if ops[i].ID == "" {
			ops[i].ID = fmt.Sprintf("op_%d", i)
		}
	}
	order := make(map[string]int, len(ops))
	for i, op := range ops {
		order[op.ID] = i
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	chunks := 0
	for start := 0; start < len(ops); start += chunkSize {
		chunks++
	}
	results := make([]*Result, chunks)

	idx := 0
	for start := 0; start < len(ops); start += chunkSize {
		end := start + chunkSize
		if end > len(ops) {
			end = len(ops)
		}
		chunk := ops[start:end]
		slot := idx
		idx++

		g.Go(func() error {
			res, err := s.Execute(ctx, chunk)
			if err != nil {
				return err
			}
			results[slot] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &Result{}
	for _, res := range results {
		merged.Results = append(merged.Results, res.Results...)
	}
	sort.SliceStable(merged.Results, func(i, j int) bool {
		return order[merged.Results[i].ID] < order[merged.Results[j].ID]
	})
	return merged, nil
}
