//go:build windows

package control

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// listen binds socket (a "\\.\pipe\..." path) as a Windows named pipe.
func listen(socket string) (net.Listener, error) {
	return winio.ListenPipe(socket, nil)
}

// SocketPath returns the named-pipe path for namespace, ignoring
// tempDir (named pipes don't live on the filesystem). Default
// namespace is "zuz-pm".
func SocketPath(tempDir, namespace string) string {
	if namespace == "" {
		namespace = "zuz-pm"
	}
	return `\\.\pipe\` + namespace
}
