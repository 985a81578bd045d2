// Package gateway talks to external payment providers. Providers only
// initiate charges and report their status; crediting is done elsewhere.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrUnavailable marks transient failures worth retrying.
	ErrUnavailable        = errors.New("payment gateway unavailable")
	ErrInvalidDestination = errors.New("invalid payment destination")
	ErrAmountOutOfRange   = errors.New("amount out of range")
	ErrUnknownProvider    = errors.New("unknown payment provider")
	ErrRejected           = errors.New("payment request rejected by provider")
)

type InitiateRequest struct {
	Provider    string
	Amount      decimal.Decimal
	Currency    string
	Destination string
	Reference   string
	Description string
	Metadata    map[string]any
}

type InitiateResult struct {
	ID                string
	ExternalReference string
	RedirectURL       string
	Message           string
}

type QueryResult struct {
	Status      Status
	Receipt     string
	ResultCode  string
	Description string
}

// Adapter is what the reconciliation service depends on.
type Adapter interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Query(ctx context.Context, provider, externalReference string) (*QueryResult, error)
}

// Client is one provider's implementation.
type Client interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Query(ctx context.Context, externalReference string) (*QueryResult, error)
}

// Router dispatches Adapter calls to the client registered for a provider.
type Router struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRouter() *Router {
	return &Router{clients: make(map[string]Client)}
}

func (r *Router) Register(provider string, client Client) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider] = client
	return r
}

func (r *Router) client(provider string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return c, nil
}

func (r *Router) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	c, err := r.client(req.Provider)
	if err != nil {
		return nil, err
	}
	return c.Initiate(ctx, req)
}

func (r *Router) Query(ctx context.Context, provider, externalReference string) (*QueryResult, error) {
	c, err := r.client(provider)
	if err != nil {
		return nil, err
	}
	return c.Query(ctx, externalReference)
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func statusError(provider string, code int) error {
	err := fmt.Errorf("%s returned HTTP %d", provider, code)
	if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
		return unavailable(err)
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
