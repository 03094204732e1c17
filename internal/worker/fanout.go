package worker

import (
	"fmt"
	"io"
	"sync"
)

// LogLine is one chunk of stdout/stderr forwarded to a logs subscriber.
type LogLine struct {
	Worker string
	Stream string // "stdout" or "stderr"
	Data   []byte
}

// FanOut multiplexes a worker's child stdout/stderr bytes to zero or more
// subscribers (the control server's "logs" command). It never blocks a
// child's own output: a slow or absent subscriber just misses lines
// rather than backing up the pipe.
type FanOut struct {
	mu       sync.Mutex
	subs     map[int]chan LogLine
	next     int
	echo     io.Writer
	echoName string
	external io.Writer
}

func NewFanOut() *FanOut {
	return &FanOut{subs: make(map[int]chan LogLine)}
}

// EnableEcho turns on the devMode local echo: every published chunk is
// additionally written to w, prefixed with "[name] ".
func (f *FanOut) EnableEcho(w io.Writer, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.echo = w
	f.echoName = name
}

// SetExternalSink wires an external forwarding target (worker.Config's
// logSink) that every published chunk is additionally written to,
// independent of devMode echo and any logs subscriber.
func (f *FanOut) SetExternalSink(w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.external = w
}

// SubscriberCount reports the number of currently attached logs
// subscribers, for tests that verify listener cleanup on disconnect.
func (f *FanOut) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Subscribe returns a channel of LogLines and an unsubscribe func. The
// caller must call unsubscribe on disconnect so the server stops holding
// a reference to the channel (the critical "no leaked listeners" rule
// for a long-running daemon).
func (f *FanOut) Subscribe() (<-chan LogLine, func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	ch := make(chan LogLine, 256)
	f.subs[id] = ch
	f.mu.Unlock()

	unsub := func() {
		f.mu.Lock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
		f.mu.Unlock()
	}
	return ch, unsub
}

func (f *FanOut) publish(name, stream string, data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	line := LogLine{Worker: name, Stream: stream, Data: cp}

	f.mu.Lock()
	echo, echoName, external := f.echo, f.echoName, f.external
	f.mu.Unlock()

	if echo != nil {
		_, _ = fmt.Fprintf(echo, "[%s] %s", echoName, cp)
	}
	if external != nil {
		_, _ = external.Write(cp)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- line:
		default:
			// subscriber too slow; drop rather than block the child's I/O
		}
	}
}

// Writers returns a pair of io.Writer-compatible streams wired to cmd.Stdout
// and cmd.Stderr that forward every write through publish.
func (f *FanOut) Writers(name string) (*fanWriter, *fanWriter) {
	return &fanWriter{fo: f, name: name, stream: "stdout"}, &fanWriter{fo: f, name: name, stream: "stderr"}
}

type fanWriter struct {
	fo     *FanOut
	name   string
	stream string
}

func (fw *fanWriter) Write(p []byte) (int, error) {
	fw.fo.publish(fw.name, fw.stream, p)
	return len(p), nil
}
