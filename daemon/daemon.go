// Package daemon is the listener/supervisor (C6): binds the stream socket,
// accepts connections, spawns the per-connection task that multiplexes
// inbound requests with outbound events, and tracks the start time exposed
// to GetHealth.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pandemicd/pandemic/dispatch"
	"github.com/pandemicd/pandemic/internal/config"
	"github.com/pandemicd/pandemic/internal/health"
	"github.com/pandemicd/pandemic/protocol"
)

// Daemon binds the control-plane socket and runs the accept loop.
type Daemon struct {
	cfg    config.Config
	state  *dispatch.State
	logger hclog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a Daemon. startedAt is recorded at construction time and
// backs GetHealth's uptime figure via the health.Collector passed in.
// registerer receives the daemon's Prometheus gauges; pass nil to skip
// registration (e.g. in tests, or when --metrics-addr is unset).
func New(cfg config.Config, sampler health.Sampler, logger hclog.Logger, registerer prometheus.Registerer, startedAt time.Time) *Daemon {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	collector := health.NewCollector(sampler, registerer, startedAt)
	return &Daemon{
		cfg:    cfg,
		state:  dispatch.New(cfg.EventChannelBuffer, collector, logger),
		logger: logger,
	}
}

// ListenAndServe binds the socket per spec.md §4.6 and §6 (parent directory
// created if absent, stale socket file removed, permission bits and
// optional owning group applied) and runs the accept loop until ctx is
// cancelled or a fatal accept error occurs.
func (d *Daemon) ListenAndServe(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(d.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	lis, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("binding socket %s: %w", d.cfg.SocketPath, err)
	}
	if err := applySocketPermissions(d.cfg.SocketPath, d.cfg.SocketMode, d.cfg.SocketGroup); err != nil {
		_ = lis.Close()
		return fmt.Errorf("applying socket permissions: %w", err)
	}

	d.mu.Lock()
	d.listener = lis
	d.mu.Unlock()

	d.logger.Info("daemon listening", "socket_path", d.cfg.SocketPath)

	go func() {
		<-ctx.Done()
		d.logger.Info("shutdown requested, closing listener")
		_ = d.closeListener()
	}()

	for {
		c, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("accept: %w", err)
		}
		if d.cfg.MaxConnections > 0 && d.state.ConnectionCount() >= d.cfg.MaxConnections {
			d.logger.Warn("rejecting connection: at MaxConnections", "max", d.cfg.MaxConnections)
			_ = c.Close()
			continue
		}

		d.wg.Add(1)
		go d.handleConnection(ctx, c)
	}

	d.wg.Wait()
	return nil
}

// Shutdown closes the listener (unlinking the Unix socket file as a
// byproduct, per spec.md §4.6) and waits for in-flight connections to
// drain their current request and exit.
func (d *Daemon) Shutdown(ctx context.Context) error {
	if err := d.closeListener(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daemon) closeListener() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return nil
	}
	err := d.listener.Close()
	d.listener = nil
	return err
}

// inbound is one decoded (or failed-to-decode) line from the socket,
// handed from the read goroutine to the single writer goroutine below.
type inbound struct {
	req protocol.Request
	err error
}

// handleConnection is the per-connection task (spec.md §4.4): a read
// goroutine feeds decoded requests to this goroutine, which is the sole
// writer to the socket, multiplexing dispatched Responses with Events
// drained from the connection's outbound channel. A malformed line yields
// an Error response without closing the connection (spec.md §4.1, §7).
func (d *Daemon) handleConnection(ctx context.Context, netConn net.Conn) {
	defer d.wg.Done()
	defer netConn.Close()

	c := d.state.OnAccept()
	defer d.state.OnDisconnect(c.ID)

	reqCh := make(chan inbound)
	go func() {
		defer close(reqCh)
		r := protocol.NewReader(netConn)
		for {
			req, err := r.ReadRequest()
			var malformed *protocol.MalformedLineError
			switch {
			case err == nil:
				reqCh <- inbound{req: req}
			case errors.As(err, &malformed):
				// Malformed line: surface as an Error response without
				// closing the connection (spec.md §4.1, §7).
				reqCh <- inbound{err: err}
			case errors.Is(err, io.EOF):
				return
			default:
				// Underlying I/O failure: the stream is done.
				return
			}
		}
	}()

	w := protocol.NewWriter(netConn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.DropSignal():
			d.logger.Warn("dropping connection: outbound channel overflow", "connection_id", c.ID)
			return
		case in, ok := <-reqCh:
			if !ok {
				return
			}
			var resp protocol.Response
			if in.err != nil {
				resp = protocol.Err(in.err.Error())
			} else {
				resp = d.state.Dispatch(c.ID, in.req)
			}
			if err := w.WriteResponse(resp); err != nil {
				d.logger.Warn("write failed, closing connection", "connection_id", c.ID, "error", err)
				return
			}
		case ev := <-c.Events:
			if err := w.WriteEvent(ev); err != nil {
				d.logger.Warn("write failed, closing connection", "connection_id", c.ID, "error", err)
				return
			}
		}
	}
}

// applySocketPermissions chmods (and, if group is non-empty, chowns) the
// socket file per spec.md §6 ("permissions ... conventionally 0660 with an
// owning group that gateway processes belong to").
func applySocketPermissions(path string, mode uint32, group string) error {
	if mode != 0 {
		if err := os.Chmod(path, os.FileMode(mode)); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	if group == "" {
		return nil
	}
	grp, err := user.LookupGroup(group)
	if err != nil {
		return fmt.Errorf("looking up group %s: %w", group, err)
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return fmt.Errorf("parsing gid for group %s: %w", group, err)
	}
	if err := os.Chown(path, -1, gid); err != nil {
		return fmt.Errorf("chown %s to group %s: %w", path, group, err)
	}
	return nil
}
