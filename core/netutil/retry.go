// Package netutil builds the outbound HTTP clients shared by the booking API
// and the messaging channels.
package netutil

import (
	"errors"
	"net"
)

// ShouldRetry reports whether err looks like a transient transport failure:
// a timeout anywhere in the chain, or a refused or unreachable dial.
// *url.Error and *net.OpError both unwrap, so errors.As sees through them.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}
