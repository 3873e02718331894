package tlscheck

import (
	"slices"
	"time"
)

// HostRecord is the cached answer for one host.
type HostRecord struct {
	Host         string    `json:"host"`
	HTTPSEnabled bool      `json:"httpsEnabled"`
	ObservedAt   time.Time `json:"observedAt"`
}

// Fresh reports whether the record may still be served at now.
func (r HostRecord) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Before(r.ObservedAt.Add(ttl))
}

// Traversal is the federation state carried from hop to hop while a single
// host is being resolved. Visited only grows and Budget only shrinks.
type Traversal struct {
	ID      string
	Host    string
	Visited []string
	Budget  int
}

func (t Traversal) visited(addr string) bool {
	return slices.Contains(t.Visited, addr)
}

// missing returns the members of federation not yet visited, in federation order.
func (t Traversal) missing(federation []string) []string {
	var out []string
	for _, addr := range federation {
		if !t.visited(addr) && !slices.Contains(out, addr) {
			out = append(out, addr)
		}
	}
	return out
}

// with returns a copy of t that has also visited addrs and carries budget.
// The copy never shares its Visited backing array with t.
func (t Traversal) with(budget int, addrs ...string) Traversal {
	visited := make([]string, 0, len(t.Visited)+len(addrs))
	visited = append(visited, t.Visited...)
	for _, a := range addrs {
		if !slices.Contains(visited, a) {
			visited = append(visited, a)
		}
	}
	return Traversal{ID: t.ID, Host: t.Host, Visited: visited, Budget: budget}
}

// Query is the wire payload accepted by the query endpoint and sent to peers.
type Query struct {
	Host      string   `json:"host"`
	Servers   []string `json:"servers,omitempty"`
	Budget    *int     `json:"recursionBudget,omitempty"`
	Traversal string   `json:"traversal,omitempty"`
	// TimeoutMS is how long the sender waits for this hop. The receiver
	// must answer within it.
	TimeoutMS int64 `json:"timeoutMs,omitempty"`
}

// Answer is the wire response of the query endpoint.
type Answer struct {
	HTTPSEnabled bool `json:"httpsEnabled"`
}

func queryFor(t Traversal) Query {
	budget := t.Budget
	return Query{
		Host:      t.Host,
		Servers:   slices.Clone(t.Visited),
		Budget:    &budget,
		Traversal: t.ID,
	}
}

// traversal rebuilds the hop state an internal query carries. A hop without a
// budget may not recurse.
func (q Query) traversal() Traversal {
	budget := 0
	if q.Budget != nil {
		budget = *q.Budget
	}
	return Traversal{ID: q.Traversal, Host: q.Host, Visited: q.Servers, Budget: budget}
}
