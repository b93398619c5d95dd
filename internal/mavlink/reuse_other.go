//go:build !unix

package mavlink

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
