// Package rpcd implements the connection-multiplexing RPC engine and
// stream pump: a single-threaded accept/dispatch loop that owns a
// table of live connections keyed by socket, the protocol state
// machine binding a control connection to a data connection, and the
// per-direction pump worker that interleaves device samples onto the
// wire.
//
// The accept loop talks to sockets as raw file descriptors (via
// golang.org/x/sys/unix) rather than through net.Listener/net.Conn,
// because spec §4.2 keys everything by "socket identifier" and polls
// a readiness set built fresh every iteration — the low-level fd style
// (open/read/write/poll on a bare fd) usually kept for local hardware,
// here applied to TCP sockets.
package rpcd

import (
	"fmt"
	"log"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Server owns the listening socket and the connection table. It is
// not safe for concurrent use by multiple goroutines — by design,
// exactly one goroutine (Run's caller) drives it.
type Server struct {
	listenFD     int
	table        *ConnectionTable
	logger       *log.Logger
	snapshotSink chan Snapshot
	recordDir    string
}

// SetRecordDir arms every future activate_stream to additionally tee
// the pumped bytes of a DataOut stream into a Parquet file under dir,
// named by the data socket's id. Empty (the default) disables
// recording entirely.
func (s *Server) SetRecordDir(dir string) {
	s.recordDir = dir
}

// SetSnapshotSink arms Run to push a connection-table Snapshot into ch
// (non-blocking; a full channel just drops that snapshot) after every
// poll iteration. Only Run's own goroutine ever reads the table, so
// this is the one supported way to observe it from elsewhere — e.g.
// cmd/monitor's websocket status feed (spec §6.3, additive).
func (s *Server) SetSnapshotSink(ch chan Snapshot) {
	s.snapshotSink = ch
}

// AddrError marks a Listen failure that happened while resolving the
// bind address, distinct from a failure to actually bind/listen —
// main maps the two to different exit codes (spec §4.5).
type AddrError struct{ Err error }

func (e *AddrError) Error() string { return fmt.Sprintf("rpcd: resolving address: %v", e.Err) }
func (e *AddrError) Unwrap() error { return e.Err }

// BindError marks a Listen failure at the socket/bind/listen stage.
type BindError struct{ Err error }

func (e *BindError) Error() string { return fmt.Sprintf("rpcd: bind: %v", e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// Listen creates a TCP listening socket bound to host:port with
// address reuse enabled, per spec §4.5.
func Listen(host string, port int) (*Server, error) {
	ip, err := resolveIPv4(host)
	if err != nil {
		return nil, &AddrError{Err: err}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, &BindError{Err: fmt.Errorf("socket: %w", err)}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, &BindError{Err: fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)}
	}

	var addr [4]byte
	copy(addr[:], ip)
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return nil, &BindError{Err: fmt.Errorf("bind: %w", err)}
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, &BindError{Err: fmt.Errorf("listen: %w", err)}
	}

	return &Server{
		listenFD: fd,
		table:    NewConnectionTable(),
		logger:   log.Default(),
	}, nil
}

// Addr reports the actual bound address, resolving the port the
// kernel chose when Listen was called with port 0 — tests use this to
// dial back in without racing a fixed port number.
func (s *Server) Addr() (string, error) {
	sa, err := unix.Getsockname(s.listenFD)
	if err != nil {
		return "", err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", fmt.Errorf("rpcd: unexpected sockaddr type %T", sa)
	}
	ip := net.IP(sa4.Addr[:])
	return fmt.Sprintf("%s:%d", ip.String(), sa4.Port), nil
}

func resolveIPv4(host string) ([]byte, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		addr, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return nil, err
		}
		ip = addr.IP
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("address %q is not IPv4", host)
	}
	return v4, nil
}

// Close tears down the listening socket and every live connection.
func (s *Server) Close() {
	for id, rec := range s.table.records {
		rec.file.Close()
		s.table.Remove(id)
	}
	unix.Close(s.listenFD)
}

// ExitCode enumerates the bootstrap exit codes from spec §4.5.
type ExitCode int

const (
	ExitOK ExitCode = iota
	ExitAddrParse
	ExitBind
	ExitPollFailure
	ExitFatalDispatch
)

// Run drives the accept/dispatch loop until a fatal error occurs. It
// returns the exit code the process should use (spec §4.5): 0 only if
// the loop is stopped cooperatively (never happens in the core —
// there is no remote shutdown operation — so in practice Run blocks
// until ExitPollFailure or ExitFatalDispatch).
func (s *Server) Run() ExitCode {
	for {
		fds := s.buildPollSet()
		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.logger.Printf("ERROR rpcd: poll failed: %v", err)
			return ExitPollFailure
		}
		if n == 0 {
			continue
		}

		for _, pfd := range fds {
			if pfd.Revents&unix.POLLIN == 0 {
				continue
			}
			if int(pfd.Fd) == s.listenFD {
				s.acceptOne()
				continue
			}
			if fatal := s.dispatchOne(int(pfd.Fd)); fatal {
				return ExitFatalDispatch
			}
		}
		s.publishSnapshot()
	}
}

// Snapshot is a point-in-time view of the connection table for the
// optional status feed, built from the table on Run's goroutine. The
// connection counts, worker states and byte counters it carries are
// not reported by any RPC.
type Snapshot struct {
	ControlConns int
	DataOutConns int
	DataInConns  int
	Streams      []StreamStatus
}

// StreamStatus describes one data connection's pump.
type StreamStatus struct {
	FD          int
	Kind        string
	WorkerState string
	BytesPumped int64
}

func (s *Server) publishSnapshot() {
	if s.snapshotSink == nil {
		return
	}
	snap := s.buildSnapshot()
	select {
	case s.snapshotSink <- snap:
	default:
	}
}

func (s *Server) buildSnapshot() Snapshot {
	var snap Snapshot
	for fd, rec := range s.table.records {
		switch rec.kind {
		case KindControl:
			snap.ControlConns++
		case KindDataOut, KindDataIn:
			kindName := "data_in"
			if rec.kind == KindDataOut {
				snap.DataOutConns++
				kindName = "data_out"
			} else {
				snap.DataInConns++
			}
			snap.Streams = append(snap.Streams, StreamStatus{
				FD:          fd,
				Kind:        kindName,
				WorkerState: workerStateName(WorkerState(rec.workerState.Load())),
				BytesPumped: rec.bytesPumped.Load(),
			})
		}
	}
	return snap
}

func workerStateName(ws WorkerState) string {
	switch ws {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (s *Server) buildPollSet() []unix.PollFd {
	fds := []unix.PollFd{{Fd: int32(s.listenFD), Events: unix.POLLIN}}
	for _, id := range s.table.ControlFDs() {
		fds = append(fds, unix.PollFd{Fd: int32(id), Events: unix.POLLIN})
	}
	return fds
}

// acceptOne accepts one connection and classifies it by its leading
// digit (spec §4.2 step 3).
func (s *Server) acceptOne() {
	nfd, _, err := unix.Accept(s.listenFD)
	if err != nil {
		s.logger.Printf("DEBUG rpcd: accept failed: %v", err)
		return
	}
	file := os.NewFile(uintptr(nfd), "conn")

	digit, err := readKindDigit(nfd)
	if err != nil {
		s.logger.Printf("TRACE rpcd: reading connection-kind digit: %v", err)
		file.Close()
		return
	}

	switch digit {
	case '0':
		s.handleDriverLoad(nfd, file)
	case '2':
		s.handleDataConnect(nfd, file, KindDataOut)
	case '3':
		s.handleDataConnect(nfd, file, KindDataIn)
	case '1':
		s.logger.Printf("DEBUG rpcd: log-stream channel (digit 1) not implemented, closing")
		file.Close()
	default:
		s.logger.Printf("DEBUG rpcd: unknown connection-kind digit %q, closing", digit)
		file.Close()
	}
}

// readKindDigit reads exactly the two bytes spec §4.2 describes: one
// ASCII digit followed by a newline.
func readKindDigit(fd int) (byte, error) {
	buf := make([]byte, 2)
	read := 0
	for read < 2 {
		n, err := unix.Read(fd, buf[read:])
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("rpcd: connection closed before kind digit")
		}
		read += n
	}
	return buf[0], nil
}
