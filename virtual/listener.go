package virtual

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/ratelimit"

	"github.com/cowboyrushforth/fprintvirt/fplog"
	"github.com/cowboyrushforth/fprintvirt/validate"
)

const readTimeout = 2 * time.Second

// SocketPath derives the simulation socket of a driver inside dir.
func SocketPath(dir, driver string) string {
	return filepath.Join(dir, strings.ReplaceAll(driver, "_", "-")+".socket")
}

// listener accepts one command per connection on a unix socket. Each
// message is handed to handle together with the connection, which is
// closed once handle returns.
type listener struct {
	path    string
	ln      net.Listener
	limiter ratelimit.Limiter
	handle  func(conn net.Conn, msg string)

	closing chan struct{}
	wg      sync.WaitGroup
}

func listen(path string, rate int, handle func(net.Conn, string)) (*listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("cannot create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on %s: %w", path, err)
	}

	limiter := ratelimit.NewUnlimited()
	if rate > 0 {
		limiter = ratelimit.New(rate, ratelimit.WithoutSlack)
	}

	l := &listener{
		path:    path,
		ln:      ln,
		limiter: limiter,
		handle:  handle,
		closing: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop()

	fplog.Debug("Listening for simulation commands on %s", path)
	return l, nil
}

func (l *listener) acceptLoop() {
	defer l.wg.Done()
	for {
		l.limiter.Take()
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closing:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			fplog.Warn("Error accepting simulation connection: %v", err)
			continue
		}
		l.serve(conn)
	}
}

func (l *listener) serve(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, validate.MaxCommandLength)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		fplog.Warn("Error receiving instruction data: %v", err)
		return
	}
	if n == 0 {
		return
	}
	fplog.Debug("Got instructions of length %d", n)
	l.handle(conn, string(buf[:n]))
}

func (l *listener) close() {
	close(l.closing)
	_ = l.ln.Close()
	l.wg.Wait()
	_ = os.Remove(l.path)
}

// SendCommand delivers one command to the device listening on path. For
// LIST it returns the stored ids the device replied with.
func SendCommand(ctx context.Context, path string, verb Verb, args ...interface{}) ([]string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s: %w", path, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	parts := []string{string(verb)}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	if _, err := conn.Write([]byte(strings.Join(parts, " "))); err != nil {
		return nil, fmt.Errorf("cannot send %s: %w", verb, err)
	}
	if verb != VerbList {
		return nil, nil
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s reply: %w", verb, err)
	}
	var ids []string
	for _, line := range strings.Split(string(reply), "\n") {
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}
