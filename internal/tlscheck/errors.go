package tlscheck

import "go.trai.ch/zerr"

var (
	// ErrMissingHost is returned when a query carries no host.
	ErrMissingHost = zerr.New("query host is required")

	// ErrNegativeBudget is returned when an internal hop carries a budget below zero.
	ErrNegativeBudget = zerr.New("recursion budget must not be negative")

	// ErrPeerStatus is returned when a peer answers with a non-200 status.
	ErrPeerStatus = zerr.New("unexpected peer status")

	// ErrUnknownBackend is returned for an unsupported storage.backend value.
	ErrUnknownBackend = zerr.New("unknown storage backend")

	// ErrUnauthenticated is returned when a peer hop fails signature validation.
	ErrUnauthenticated = zerr.New("peer request not authenticated")

	// ErrInvalidHost is returned when a query host is a URL or path rather than a host name.
	ErrInvalidHost = zerr.New("query host must be a bare host name")

	// ErrInvalidSize is returned for a byte size that cannot be parsed or does not fit in an int64.
	ErrInvalidSize = zerr.New("invalid byte size")
)
