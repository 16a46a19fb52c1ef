// Package cashier keeps one live cart per terminal and exposes it over HTTP.
package cashier

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/odyssey-erp/odyssey-pos/internal/cart"
	"github.com/odyssey-erp/odyssey-pos/internal/orders"
)

// Session owns the cart of a single terminal. Requests for the same
// terminal are serialised through mu.
type Session struct {
	mu         sync.Mutex
	terminalID string
	cart       *cart.Cart
}

// TerminalID returns the owning terminal.
func (s *Session) TerminalID() string {
	return s.terminalID
}

// Do runs fn with exclusive access to the cart.
func (s *Session) Do(fn func(*cart.Cart) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.cart)
}

// Registry maps terminal IDs to sessions, creating them on first use.
type Registry struct {
	mu       sync.Mutex
	source   cart.StockSource
	sessions map[string]*Session
}

// NewRegistry builds a Registry whose carts check stock against source.
func NewRegistry(source cart.StockSource) *Registry {
	return &Registry{source: source, sessions: make(map[string]*Session)}
}

// Session returns the session of terminalID.
func (r *Registry) Session(terminalID string) (*Session, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return nil, orders.ErrTerminalRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[terminalID]
	if !ok {
		sess = &Session{terminalID: terminalID, cart: cart.New(r.source)}
		r.sessions[terminalID] = sess
	}
	return sess, nil
}

// Terminals returns the IDs of every known terminal.
func (r *Registry) Terminals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.sessions))
}
