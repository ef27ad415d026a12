package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/die-net/simple-proxy/internal/socks5"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateAccepted State = iota
	StateNegotiating
	StateAwaitingRequest
	StateDialing
	StateRelaying
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateAccepted:        "accepted",
	StateNegotiating:     "negotiating",
	StateAwaitingRequest: "awaiting-request",
	StateDialing:         "dialing",
	StateRelaying:        "relaying",
	StateClosed:          "closed",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Large enough for the biggest handshake message: a CONNECT request with a
// 255 byte domain name.
const handshakeBufferSize = 512

// Bounds on reading off a rejected client's leftover bytes after a failure
// reply.
const (
	drainTimeout = time.Second
	drainLimit   = 64 * 1024
)

type session struct {
	srv     *SOCKS5Server
	conn    net.Conn
	br      *bufio.Reader
	log     zerolog.Logger
	state   State
	started time.Time
}

func newSession(srv *SOCKS5Server, conn net.Conn) *session {
	return &session{
		srv:  srv,
		conn: conn,
		log: srv.log.With().
			Str("session", uuid.NewString()).
			Str("client", conn.RemoteAddr().String()).
			Logger(),
		state:   StateAccepted,
		started: time.Now(),
	}
}

func (s *session) setState(st State) {
	s.state = st
	s.log.Debug().Stringer("state", st).Dur("elapsed", time.Since(s.started)).Msg("session state")
}

// run drives the session from handshake to the end of the relay. Every
// stage runs at most once; the first error ends the session.
func (s *session) run(ctx context.Context) error {
	defer s.conn.Close()

	cfg := s.srv.cfg
	s.setDeadline(cfg.NegotiationTimeout)

	br := bufio.NewReaderSize(s.conn, handshakeBufferSize)
	s.br = br

	s.setState(StateNegotiating)
	if err := socks5.ServerNegotiate(struct {
		io.Reader
		io.Writer
	}{br, s.conn}); err != nil {
		return err
	}

	s.setState(StateAwaitingRequest)
	req, err := socks5.ReadRequest(br)
	if err != nil {
		return s.fail(err)
	}
	s.setDeadline(0)

	s.setState(StateDialing)
	target, err := cfg.Dialer.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		return s.fail(socks5.NewError(socks5.TargetDialFailed, err))
	}
	defer target.Close()

	s.log.Info().Str("dest", req.Address()).Msgf("%s -> %s", s.conn.RemoteAddr(), req.Address())

	s.setDeadline(cfg.NegotiationTimeout)
	if err := socks5.WriteSuccessReply(s.conn); err != nil {
		return err
	}
	s.setDeadline(0)

	client := s.conn
	if br.Buffered() > 0 {
		// The client pipelined data behind its request.
		client = &bufferedConn{Conn: s.conn, r: br}
	}

	s.setState(StateRelaying)
	if err := CopyBidirectional(ctx, client, target, s.srv.buffers); err != nil {
		return socks5.NewError(socks5.RelayIOError, err)
	}
	return nil
}

// fail sends a failure reply when configured to, then returns err.
func (s *session) fail(err error) error {
	if !s.srv.cfg.FailureReplies {
		return err
	}
	s.setDeadline(s.srv.cfg.NegotiationTimeout)
	if werr := socks5.WriteFailureReply(s.conn, err); werr != nil {
		s.log.Debug().Err(werr).Msg("failure reply not sent")
		return err
	}
	s.drain()
	return err
}

// drain half-closes the connection and reads off whatever the client still
// sends, so that closing with unread request bytes does not reset the
// connection before the client reads the reply.
func (s *session) drain() {
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	s.setDeadline(drainTimeout)
	n, _ := io.Copy(io.Discard, io.LimitReader(s.br, drainLimit))
	if n > 0 {
		s.log.Debug().Int64("bytes", n).Msg("discarded unread request bytes")
	}
}

func (s *session) setDeadline(d time.Duration) {
	if d <= 0 {
		_ = s.conn.SetDeadline(time.Time{})
		return
	}
	_ = s.conn.SetDeadline(time.Now().Add(d))
}

// bufferedConn serves reads from r, which holds bytes already read off Conn.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
