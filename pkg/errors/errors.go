// Package errors defines sentinel errors used across the peer-service
// manager.
package errors

import "errors"

// Sentinel errors for API calls stubbed as deliberately unimplemented.
var (
	// ErrNotImplemented indicates a deliberately unimplemented API call
	// (leave, sync_join, on_up, on_down, update_members).
	ErrNotImplemented = errors.New("not implemented")
)

// Sentinel errors for view/reservation management.
var (
	// ErrNoAvailableSlots indicates reserve() was called with all reserved
	// slots already taken.
	ErrNoAvailableSlots = errors.New("no available slots")

	// ErrReservationLimitExceeded indicates more tags were requested at
	// init than max_active_size allows. Fatal: the process should stop.
	ErrReservationLimitExceeded = errors.New("reservation limit exceeded")
)

// Sentinel errors for message delivery.
var (
	// ErrPartitioned indicates the target peer is in the injected
	// partition list.
	ErrPartitioned = errors.New("partitioned")

	// ErrDisconnected indicates the transport has no live connection to
	// the peer.
	ErrDisconnected = errors.New("disconnected")

	// ErrNotYetConnected indicates a connection attempt is in flight but
	// not yet established.
	ErrNotYetConnected = errors.New("not yet connected")
)

// Sentinel errors for transport bookkeeping.
var (
	// ErrUnknownConnection indicates prune() was called for a pid the
	// transport registry never observed.
	ErrUnknownConnection = errors.New("unknown connection")
)
