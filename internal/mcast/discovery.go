package mcast

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/lanchat/chatd/protocol"
	"golang.org/x/net/ipv4"
)

// datagramBufferSize bounds one received UDP datagram; discovery
// requests are header-only (DISCOVER carries an empty payload), so
// this only needs to be large enough to safely absorb anything a
// misbehaving sender throws at the socket.
const datagramBufferSize = 2048

// Responder is the UDP multicast discovery responder (SPEC_FULL.md
// §4.2): it joins a multicast group, answers DISCOVER records with
// SERVER_INFO, and silently drops everything else.
type Responder struct {
	groupAddr string
	port      int
	tcpPort   uint16
	log       *slog.Logger

	conn   net.PacketConn
	closed atomic.Bool
}

// NewResponder returns a Responder that will advertise tcpPort as the
// server's TCP control endpoint.
func NewResponder(groupAddr string, port int, tcpPort uint16, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{groupAddr: groupAddr, port: port, tcpPort: tcpPort, log: log}
}

// Run binds the discovery socket, joins the multicast group on every
// multicast-capable interface, and loops answering DISCOVER requests
// until Close is called. A bind or join failure is returned at once.
// Once listening, socket errors during response are logged and
// ignored, and Run returns only after Close has closed the socket.
func (r *Responder) Run() error {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", r.port))
	if err != nil {
		return fmt.Errorf("mcast: listen discovery port %d: %w", r.port, err)
	}
	r.conn = conn

	group := net.ParseIP(r.groupAddr)
	if group == nil {
		conn.Close()
		return fmt.Errorf("mcast: invalid discovery group address %q", r.groupAddr)
	}
	if err := joinGroupOnAllInterfaces(conn, group); err != nil {
		conn.Close()
		return fmt.Errorf("mcast: join discovery group %s: %w", r.groupAddr, err)
	}

	r.log.Info("discovery responder listening", "group", r.groupAddr, "port", r.port)

	buf := make([]byte, datagramBufferSize)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if r.closed.Load() {
				return nil
			}
			r.log.Error("discovery read error", "error", err)
			continue
		}
		r.handleDatagram(buf[:n], src)
	}
}

func (r *Responder) handleDatagram(data []byte, src net.Addr) {
	typ, payload, err := protocol.ReadRecord(bytes.NewReader(data))
	if err != nil {
		return // malformed record: silently dropped
	}
	if typ != protocol.TypeDiscover || len(payload) != 0 {
		return // non-DISCOVER records are silently dropped
	}

	localIP, err := LocalOutboundIPv4()
	if err != nil {
		r.log.Error("discovery: determine local address", "error", err)
		return
	}
	si, err := protocol.ServerInfoFromAddr(localIP, r.tcpPort)
	if err != nil {
		r.log.Error("discovery: build server_info", "error", err)
		return
	}

	var out bytes.Buffer
	if err := protocol.WriteRecord(&out, protocol.TypeServerInfo, protocol.EncodeServerInfo(si)); err != nil {
		r.log.Error("discovery: encode server_info", "error", err)
		return
	}
	if _, err := r.conn.WriteTo(out.Bytes(), src); err != nil {
		r.log.Error("discovery: respond", "error", err, "peer", src.String())
	}
}

// Close stops the responder, unblocking Run.
func (r *Responder) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// joinGroupOnAllInterfaces joins group on every multicast-capable
// interface, falling back to the system default interface if none
// report the multicast flag (common on minimal/loopback-only hosts).
func joinGroupOnAllInterfaces(conn net.PacketConn, group net.IP) error {
	pc := ipv4.NewPacketConn(conn)
	groupAddr := &net.UDPAddr{IP: group}

	ifaces, err := net.Interfaces()
	if err != nil {
		return pc.JoinGroup(nil, groupAddr)
	}

	joined := false
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, groupAddr); err == nil {
			joined = true
		}
	}
	if joined {
		return nil
	}
	return pc.JoinGroup(nil, groupAddr)
}

// LocalOutboundIPv4 determines the local outbound IPv4 address by
// opening a connected UDP socket toward a public address and reading
// the locally bound address; no packets are sent by this probe.
func LocalOutboundIPv4() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("mcast: probe local address: %w", err)
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("mcast: unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP, nil
}
