//go:build !linux

package listener

import "syscall"

// reuseAddrControl is a no-op outside Linux; SO_REUSEADDR's semantics and
// socket option constants are platform-specific enough that the pack only
// grounds a real implementation for linux.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
