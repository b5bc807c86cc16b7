package core

import "errors"

var (
	// ErrNotAttached is returned by mutators invoked on a Node or Link
	// that has been removed from its Topology.
	ErrNotAttached = errors.New("not attached to a topology")

	ErrLinkExists       = errors.New("link already exists")
	ErrSelfLink         = errors.New("self links are not allowed")
	ErrForeignEndpoint  = errors.New("link endpoint does not belong to this topology")
	ErrNilEndpoint      = errors.New("link endpoint is nil")
	ErrWirelessManaged  = errors.New("wireless links are managed by the connectivity model")
	ErrInvalidEndpoint  = errors.New("node is not an endpoint of this link")
	ErrLinkAlreadyAdded = errors.New("link instance is already attached")
)
