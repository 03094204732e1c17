package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckHTTPAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok := Check(context.Background(), Config{Type: KindHTTP, Target: srv.URL, Timeout: time.Second})
	require.True(t, ok)
}

func TestCheckHTTPServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ok := Check(context.Background(), Config{Type: KindHTTP, Target: srv.URL, Timeout: time.Second})
	require.False(t, ok)
}

func TestCheckHTTPUnreachable(t *testing.T) {
	ok := Check(context.Background(), Config{Type: KindHTTP, Target: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	require.False(t, ok)
}

func TestCheckTCPAlive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	ok := Check(context.Background(), Config{Type: KindTCP, Target: ln.Addr().String(), Timeout: time.Second})
	require.True(t, ok)
}

func TestCheckTCPRefused(t *testing.T) {
	ok := Check(context.Background(), Config{Type: KindTCP, Target: "127.0.0.1:1", Timeout: 200 * time.Millisecond})
	require.False(t, ok)
}

func TestCheckExecSuccess(t *testing.T) {
	ok := Check(context.Background(), Config{Type: KindExec, Target: "true", Timeout: time.Second})
	require.True(t, ok)
}

func TestCheckExecFailure(t *testing.T) {
	ok := Check(context.Background(), Config{Type: KindExec, Target: "false", Timeout: time.Second})
	require.False(t, ok)
}

func TestCheckExecShellMetacharacters(t *testing.T) {
	ok := Check(context.Background(), Config{Type: KindExec, Target: "exit 0 && true", Timeout: time.Second})
	require.True(t, ok)
}

func TestCheckUnknownKind(t *testing.T) {
	ok := Check(context.Background(), Config{Type: "bogus", Target: "x", Timeout: time.Second})
	require.False(t, ok)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Config{Type: KindHTTP, Target: "http://x"}.Validate())
	require.Error(t, Config{Type: "bogus", Target: "x"}.Validate())
	require.Error(t, Config{Type: KindTCP, Target: ""}.Validate())
}
