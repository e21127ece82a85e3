// Package discovery implements PICORadar's LAN discovery protocol.
//
// Clients broadcast a fixed request string over UDP; the server answers
// each request with its service address. The exchange is a single
// datagram in each direction with no retransmission state on the server.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Wire strings for the discovery exchange.
const (
	// RequestPayload is the datagram a client broadcasts to find servers.
	RequestPayload = "PICO_RADAR_DISCOVERY_REQUEST"

	// responsePrefix precedes the advertised host:port in a reply.
	responsePrefix = "PICO_RADAR_SERVER:"
)

// maxDatagram bounds reads; discovery datagrams are far smaller.
const maxDatagram = 512

// ErrMalformedResponse indicates a reply that does not carry a server address.
var ErrMalformedResponse = errors.New("malformed discovery response")

// -------------------------------------------------------------------------
// Responder — Server Side
// -------------------------------------------------------------------------

// Responder answers discovery broadcasts with the service address.
type Responder struct {
	conn        *net.UDPConn
	servicePort int
	advertiseIP string
	logger      *slog.Logger
}

// NewResponder binds the discovery UDP port and prepares a responder that
// advertises servicePort. advertiseHost overrides the advertised IP; when
// it is empty or a wildcard address, each reply advertises the local
// interface facing the requester.
func NewResponder(udpPort, servicePort int, advertiseHost string, logger *slog.Logger) (*Responder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: udpPort})
	if err != nil {
		return nil, fmt.Errorf("bind discovery port %d: %w", udpPort, err)
	}

	advertise := advertiseHost
	if ip := net.ParseIP(advertiseHost); advertiseHost == "" || (ip != nil && ip.IsUnspecified()) {
		advertise = ""
	}

	return &Responder{
		conn:        conn,
		servicePort: servicePort,
		advertiseIP: advertise,
		logger:      logger.With("component", "discovery"),
	}, nil
}

// LocalAddr returns the bound discovery address.
func (r *Responder) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Run serves discovery requests until ctx is cancelled. Always returns nil
// after a clean shutdown.
func (r *Responder) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		r.conn.Close()
	})
	defer stop()
	defer r.conn.Close()

	r.logger.Info("discovery responder listening",
		"addr", r.conn.LocalAddr().String(),
		"service_port", r.servicePort)

	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discovery read: %w", err)
		}

		if string(buf[:n]) != RequestPayload {
			r.logger.Debug("ignoring unknown discovery datagram",
				"remote", remote.String(), "len", n)
			continue
		}

		reply := responsePrefix + net.JoinHostPort(r.hostFor(remote), fmt.Sprintf("%d", r.servicePort))
		if _, err := r.conn.WriteToUDP([]byte(reply), remote); err != nil {
			r.logger.Warn("discovery reply failed",
				"remote", remote.String(), "error", err)
			continue
		}

		r.logger.Debug("answered discovery request",
			"remote", remote.String(), "reply", reply)
	}
}

// hostFor picks the IP to advertise to the given requester. A configured
// advertise address wins; otherwise the local interface routing toward the
// requester is used, so multi-homed hosts advertise the right subnet.
func (r *Responder) hostFor(remote *net.UDPAddr) string {
	if r.advertiseIP != "" {
		return r.advertiseIP
	}
	if ip := outboundIP(remote); ip != nil {
		return ip.String()
	}
	return "127.0.0.1"
}

// outboundIP returns the local IP the kernel would use to reach remote.
// No packets are sent; connecting a UDP socket only resolves the route.
func outboundIP(remote *net.UDPAddr) net.IP {
	c, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return nil
	}
	defer c.Close()

	local, ok := c.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil
	}
	return local.IP
}

// -------------------------------------------------------------------------
// Discover — Client Side
// -------------------------------------------------------------------------

// retryInterval is the delay between rebroadcasts while waiting for a reply.
const retryInterval = 500 * time.Millisecond

// Discover broadcasts discovery requests on udpPort and returns the first
// advertised server address as host:port. It rebroadcasts every half
// second until a server answers or ctx expires.
func Discover(ctx context.Context, udpPort int) (string, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return "", fmt.Errorf("open discovery socket: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	// Loopback is probed alongside the broadcast so same-host discovery
	// works even where the interface drops broadcast traffic.
	dests := []*net.UDPAddr{
		{IP: net.IPv4bcast, Port: udpPort},
		{IP: net.IPv4(127, 0, 0, 1), Port: udpPort},
	}

	buf := make([]byte, maxDatagram)
	for {
		sent := false
		var sendErr error
		for _, dest := range dests {
			if _, err := conn.WriteToUDP([]byte(RequestPayload), dest); err != nil {
				sendErr = err
				continue
			}
			sent = true
		}
		if !sent {
			return "", fmt.Errorf("send discovery request: %w", sendErr)
		}

		if err := conn.SetReadDeadline(time.Now().Add(retryInterval)); err != nil {
			return "", fmt.Errorf("set discovery deadline: %w", err)
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("discovery: %w", ctx.Err())
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // rebroadcast
			}
			return "", fmt.Errorf("discovery read: %w", err)
		}

		addr, err := parseResponse(string(buf[:n]))
		if err != nil {
			continue // not a discovery reply; keep listening
		}
		return addr, nil
	}
}

// parseResponse extracts host:port from a discovery reply.
func parseResponse(payload string) (string, error) {
	addr, ok := strings.CutPrefix(payload, responsePrefix)
	if !ok {
		return "", ErrMalformedResponse
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedResponse, payload)
	}
	return addr, nil
}
