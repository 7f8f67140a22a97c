// Package webhooks manages webhook endpoints and receives signed
// deliveries from the Tiation platform.
package webhooks

import (
	"context"
	"net/url"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/transport"
)

const serviceName = "webhooks"

// Service is the client for the webhook management API.
type Service struct {
	client *transport.Client
}

// New creates a webhooks service backed by the transport client.
func New(client *transport.Client) *Service {
	return &Service{client: client}
}

// CreateEndpointRequest registers a new delivery destination.
type CreateEndpointRequest struct {
	URL string `json:"url"`
	// Events lists the event types to deliver. "*" subscribes to all.
	Events []string `json:"events"`
}

// CreateEndpoint registers a webhook endpoint. The response carries the
// signing secret; it is not retrievable afterwards, only rotatable.
func (s *Service) CreateEndpoint(ctx context.Context, req CreateEndpointRequest) (*Endpoint, error) {
	if req.URL == "" {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "endpoint URL is required")
	}
	if len(req.Events) == 0 {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "endpoint needs at least one event type")
	}

	var ep Endpoint
	if err := s.client.Post(ctx, serviceName, "create_endpoint", "webhooks/endpoints", req, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// GetEndpoint fetches one endpoint. The secret is never included.
func (s *Service) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	var ep Endpoint
	if err := s.client.Get(ctx, serviceName, "get_endpoint", "webhooks/endpoints/"+url.PathEscape(id), nil, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// EndpointPage is one page of endpoints.
type EndpointPage struct {
	Endpoints []Endpoint `json:"endpoints"`
	transport.PageInfo
}

// ListEndpoints returns one page of registered endpoints.
func (s *Service) ListEndpoints(ctx context.Context, opts transport.ListOptions) (*EndpointPage, error) {
	var page EndpointPage
	if err := s.client.Get(ctx, serviceName, "list_endpoints", "webhooks/endpoints", opts.Query(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdateEndpointRequest carries a partial endpoint update.
type UpdateEndpointRequest struct {
	URL    *string   `json:"url,omitempty"`
	Events *[]string `json:"events,omitempty"`
	Active *bool     `json:"active,omitempty"`
}

// UpdateEndpoint changes an endpoint's URL, event list, or active flag.
func (s *Service) UpdateEndpoint(ctx context.Context, id string, req UpdateEndpointRequest) (*Endpoint, error) {
	var ep Endpoint
	if err := s.client.Patch(ctx, serviceName, "update_endpoint", "webhooks/endpoints/"+url.PathEscape(id), req, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// DeleteEndpoint removes an endpoint; pending deliveries are dropped.
func (s *Service) DeleteEndpoint(ctx context.Context, id string) error {
	return s.client.Delete(ctx, serviceName, "delete_endpoint", "webhooks/endpoints/"+url.PathEscape(id))
}

// RotateSecret replaces the endpoint's signing secret. The old secret
// stays valid for a short grace window so receivers can cut over.
func (s *Service) RotateSecret(ctx context.Context, id string) (*Endpoint, error) {
	var ep Endpoint
	if err := s.client.Post(ctx, serviceName, "rotate_secret", "webhooks/endpoints/"+url.PathEscape(id)+"/rotate", nil, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// DeliveryPage is one page of delivery attempts.
type DeliveryPage struct {
	Deliveries []Delivery `json:"deliveries"`
	transport.PageInfo
}

// ListDeliveries returns recent delivery attempts for an endpoint,
// newest first.
func (s *Service) ListDeliveries(ctx context.Context, endpointID string, opts transport.ListOptions) (*DeliveryPage, error) {
	var page DeliveryPage
	if err := s.client.Get(ctx, serviceName, "list_deliveries", "webhooks/endpoints/"+url.PathEscape(endpointID)+"/deliveries", opts.Query(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Redeliver asks the platform to retry a failed delivery.
func (s *Service) Redeliver(ctx context.Context, deliveryID string) error {
	return s.client.Post(ctx, serviceName, "redeliver", "webhooks/deliveries/"+url.PathEscape(deliveryID)+"/redeliver", nil, nil)
}
