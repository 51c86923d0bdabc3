// Package networking owns the single non-blocking UDP socket every
// other layer's packets ride on: binding within the
// default port range, a dispatch table keyed by the wire tag byte, and
// the minimal bootstrap-info responder.
package networking

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/toxgo/toxgo/wire"
)

// PortRangeStart and PortRangeEnd bound the ports a fresh bind scans.
const (
	PortRangeStart = 33445
	PortRangeEnd   = 33545
)

// readDeadline bounds each blocking read so the driver loop can return
// to its other periodic do_* steps promptly.
const readDeadline = 50 * time.Millisecond

// Handler processes one inbound packet already addressed to our tag.
type Handler func(from wire.IPPort, pkt wire.Packet) error

// Socket is the process's one UDP endpoint: bind, read loop, and the
// tag-keyed dispatch table every upper layer registers into.
type Socket struct {
	conn     *net.UDPConn
	BoundPort int
	log      *slog.Logger

	handlers map[uint8]Handler
}

// listenConfig sets SO_REUSEADDR before bind so a restart doesn't race a
// lingering socket in TIME_WAIT, mirroring how a long-running daemon
// behaves across quick restarts.
var listenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// Open binds the first free UDP port in [PortRangeStart, PortRangeEnd].
func Open(logger *slog.Logger) (*Socket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		pc, err := listenConfig.ListenPacket(context.Background(), "udp", fmt.Sprintf(":%d", port))
		if err != nil {
			lastErr = err
			continue
		}
		conn := pc.(*net.UDPConn)
		logger.Info("udp socket bound", "port", port)
		return &Socket{conn: conn, BoundPort: port, log: logger, handlers: make(map[uint8]Handler)}, nil
	}
	return nil, fmt.Errorf("networking: no free port in [%d, %d]: %w", PortRangeStart, PortRangeEnd, lastErr)
}

// RegisterHandler installs h for inbound packets carrying tag,
// replacing whatever handler was registered before.
func (s *Socket) RegisterHandler(tag uint8, h Handler) {
	s.handlers[tag] = h
}

// Send writes pkt to addr.
func (s *Socket) Send(addr wire.IPPort, pkt wire.Packet) error {
	udpAddr := &net.UDPAddr{IP: addr.IP, Port: int(addr.Port)}
	_, err := s.conn.WriteToUDP(pkt, udpAddr)
	return err
}

// ReadOnce reads and dispatches at most one inbound packet, returning
// promptly if none arrives within readDeadline.
func (s *Socket) ReadOnce() error {
	buf := make([]byte, 65536)
	if err := s.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return err
	}
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	pkt := wire.Packet(buf[:n])
	tag, err := pkt.Tag()
	if err != nil {
		return nil
	}
	h, ok := s.handlers[tag]
	if !ok {
		return nil
	}
	from := wire.IPPort{Family: wire.FamilyIPv4, IP: addr.IP, Port: uint16(addr.Port)}
	if len(addr.IP) == net.IPv6len && addr.IP.To4() == nil {
		from.Family = wire.FamilyIPv6
	}
	if err := h(from, pkt); err != nil {
		s.log.Debug("handler failed", "tag", tag, "err", err)
	}
	return nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}
