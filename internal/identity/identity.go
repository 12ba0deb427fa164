// Package identity assigns stable instrument codes to network-attached devices.
//
// A device starts under a provisional code derived from its network address.
// The first successful exchange with the device tries to read a hardware
// identifier (serial number, logical sensor id); once that attempt completes
// the resolver is promoted and its code never changes again.
package identity

import (
	"context"
	"strings"
)

// Lookup fetches a hardware identifier from a connected device.
//
// It returns ("", nil) when the device answered but has no usable identifier;
// the resolver then keeps the address-derived code for good. A non-nil error
// means the exchange itself failed and the lookup is retried on the next
// connection.
type Lookup func(ctx context.Context) (string, error)

// Resolver tracks the identity of one device connection. It is owned by a
// single device task and is not safe for concurrent use.
type Resolver struct {
	kind     string
	code     string
	promoted bool
}

// New returns an unpromoted resolver whose code is derived from address.
func New(kind, address string) *Resolver {
	return &Resolver{
		kind: kind,
		code: AddressCode(kind, address),
	}
}

// AddressCode returns the provisional code for a device at address,
// e.g. "sqm-192-168-1-5".
func AddressCode(kind, address string) string {
	r := strings.NewReplacer(".", "-", ":", "-", "/", "-")
	return kind + "-" + r.Replace(address)
}

// HardwareCode returns the permanent code for a hardware identifier.
// Devices reporting the same identifier always map to the same code.
func HardwareCode(kind, id string) string {
	return kind + "-" + id
}

// Code is the code to use for all store and health writes right now.
func (r *Resolver) Code() string {
	return r.code
}

// Kind is the device type prefix.
func (r *Resolver) Kind() string {
	return r.kind
}

// Promoted reports whether resolution has completed.
func (r *Resolver) Promoted() bool {
	return r.promoted
}

// Resolve runs lookup unless the resolver is already promoted and returns the
// resulting code. The returned error is the lookup error, if any; callers log
// it but must not treat it as a health failure.
func (r *Resolver) Resolve(ctx context.Context, lookup Lookup) (string, error) {
	if r.promoted {
		return r.code, nil
	}

	id, err := lookup(ctx)
	if err != nil {
		return r.code, err
	}

	id = strings.TrimSpace(id)
	if id != "" {
		r.code = HardwareCode(r.kind, id)
	}
	r.promoted = true
	return r.code, nil
}

// ResolveID promotes the resolver from an identifier that arrived as part of a
// regular response (the WeatherLink lsid, for instance). An empty id still
// completes promotion with the address-derived code.
func (r *Resolver) ResolveID(id string) string {
	if r.promoted {
		return r.code
	}
	id = strings.TrimSpace(id)
	if id != "" {
		r.code = HardwareCode(r.kind, id)
	}
	r.promoted = true
	return r.code
}
