package guardian

import (
	"context"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kasperience/kdapp-sub000/episode"
)

// udpMTU bounds one read: TLV frames are small (header + state hash +
// a modest JSON payload), well under a standard UDP datagram ceiling.
const udpMTU = 8192

type outboundFrame struct {
	dst   *net.UDPAddr
	frame []byte
}

// UDPTransport is the concrete Transport/Dispatcher implementation for the
// guardian protocol's "one router task (UDP/WebSocket) per off-chain entry
// point" (spec §5). Reads and writes run as independent goroutines under a
// shared errgroup so ListenAndServe returns the first of either's error and
// cancels the other, rather than leaking a orphaned goroutine on shutdown.
type UDPTransport struct {
	conn    *net.UDPConn
	logger  *zap.Logger
	outbox  chan outboundFrame
	guards  map[string]*net.UDPAddr // guardian pubkey hex -> last known address, set by RegisterPeer
}

// NewUDPTransport wraps an already-bound UDP socket.
func NewUDPTransport(conn *net.UDPConn, logger *zap.Logger) *UDPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UDPTransport{
		conn:   conn,
		logger: logger,
		outbox: make(chan outboundFrame, 256),
		guards: make(map[string]*net.UDPAddr),
	}
}

// RegisterPeer records the UDP address a guardian/merchant public key is
// reachable at, so Send can resolve a dst string that is itself the
// pubkey's hex encoding rather than a literal host:port.
func (t *UDPTransport) RegisterPeer(pubKeyHex, addr string) error {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	t.guards[pubKeyHex] = resolved
	return nil
}

// Send implements Transport: dst is either a resolvable "host:port" or a
// pubkey hex string previously registered via RegisterPeer.
func (t *UDPTransport) Send(dst string, frame []byte) error {
	addr := t.guards[dst]
	if addr == nil {
		resolved, err := net.ResolveUDPAddr("udp", dst)
		if err != nil {
			return err
		}
		addr = resolved
	}
	select {
	case t.outbox <- outboundFrame{dst: addr, frame: frame}:
		return nil
	default:
		return errOutboxFull
	}
}

// ListenAndServe runs the receive loop (decoding inbound datagrams into
// router.HandleFrame) and the write loop (draining Send's outbox)
// concurrently until ctx is cancelled or either loop errors.
func (t *UDPTransport) ListenAndServe(ctx context.Context, router *Router) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.recvLoop(ctx, router) })
	g.Go(func() error { return t.writeLoop(ctx) })
	g.Go(func() error {
		// Closing the socket unblocks recvLoop's pending ReadFromUDP.
		<-ctx.Done()
		t.conn.Close()
		return nil
	})
	return g.Wait()
}

func (t *UDPTransport) recvLoop(ctx context.Context, router *Router) error {
	buf := make([]byte, udpMTU)
	for {
		select {
		case <-ctx.Done():
			return t.conn.Close()
		default:
		}
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		if err := router.HandleFrame(raw, addr.String()); err != nil {
			t.logger.Debug("guardian: dropped inbound frame", zap.String("peer", addr.String()), zap.Error(err))
		}
	}
}

func (t *UDPTransport) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-t.outbox:
			if _, err := t.conn.WriteToUDP(out.frame, out.dst); err != nil {
				t.logger.Warn("guardian: udp write failed", zap.String("dst", out.dst.String()), zap.Error(err))
			}
		}
	}
}

// AsDispatcher adapts the transport to CheckpointHandler's Dispatcher
// interface: a guardian's pubkey hex doubles as its Send destination once
// RegisterPeer has recorded where that key is reachable.
func (t *UDPTransport) AsDispatcher() Dispatcher { return udpDispatcher{t} }

type udpDispatcher struct{ t *UDPTransport }

func (d udpDispatcher) Dispatch(guardian episode.PubKey, frame []byte) error {
	return d.t.Send(guardian.String(), frame)
}

var errOutboxFull = &transportError{msg: "guardian: udp outbox full"}

type transportError struct{ msg string }

func (e *transportError) Error() string { return e.msg }
