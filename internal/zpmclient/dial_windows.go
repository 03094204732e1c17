//go:build windows

package zpmclient

import (
	"context"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

func dialTimeout(socket string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return winio.DialPipeContext(ctx, socket)
}
