package portfolio

import "sync"

// Store is the concurrency-safe home of positions: at most one active
// position per symbol, plus an append-only list of closed positions.
type Store struct {
	mu     sync.RWMutex
	active map[string]*Position
	closed []*Position
}

func NewStore() *Store {
	return &Store{active: make(map[string]*Position)}
}

// Active returns the active position for the symbol, or nil.
func (s *Store) Active(symbol string) *Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[symbol]
}

// SetActive installs p as the symbol's active position.
func (s *Store) SetActive(symbol string, p *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[symbol] = p
}

// RemoveActive clears the symbol's active slot.
func (s *Store) RemoveActive(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, symbol)
}

// AddClosed appends a closed position to the history.
func (s *Store) AddClosed(p *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, p)
}

// ClosedByStrategy returns the closed positions of a strategy in insertion
// order. Closed positions are immutable, so sharing pointers is safe.
func (s *Store) ClosedByStrategy(strategy string) []*Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Position
	for _, p := range s.closed {
		if p.Strategy == strategy {
			out = append(out, p)
		}
	}
	return out
}

// ActiveSnapshot returns copies of all active positions for read-only
// consumers such as the admin API.
func (s *Store) ActiveSnapshot() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.active))
	for _, p := range s.active {
		out = append(out, *p)
	}
	return out
}

// ClosedSnapshot returns copies of all closed positions.
func (s *Store) ClosedSnapshot() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.closed))
	for _, p := range s.closed {
		out = append(out, *p)
	}
	return out
}
