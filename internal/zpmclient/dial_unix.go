//go:build !windows

package zpmclient

import (
	"net"
	"time"
)

func dialTimeout(socket string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", socket, timeout)
}
