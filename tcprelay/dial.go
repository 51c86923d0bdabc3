package tcprelay

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig names an upstream SOCKS5 proxy a relay client dials
// through instead of connecting directly. HTTP CONNECT proxies are not
// supported: Dial always speaks SOCKS5 to Addr.
type ProxyConfig struct {
	// Network is "tcp" unless the proxy itself needs something else.
	Network string
	// Addr is the proxy's own host:port.
	Addr string
	Auth *proxy.Auth
}

// Dialer opens the raw TCP connection a relay handshake runs over,
// either directly or through a configured outbound proxy.
type Dialer struct {
	Proxy   *ProxyConfig
	Timeout time.Duration
}

// Dial connects to a relay server at addr, routing through d.Proxy when
// set. The caller runs BuildHandshake/ParseHandshake over the returned
// conn before constructing a Client.
func (d Dialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if d.Proxy == nil {
		dialer := &net.Dialer{Timeout: timeout}
		return dialer.DialContext(ctx, "tcp", addr)
	}
	network := d.Proxy.Network
	if network == "" {
		network = "tcp"
	}
	forward := &net.Dialer{Timeout: timeout}
	pd, err := proxy.SOCKS5(network, d.Proxy.Addr, d.Proxy.Auth, forward)
	if err != nil {
		return nil, fmt.Errorf("tcprelay: build proxy dialer: %w", err)
	}
	if ctxDialer, ok := pd.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext(ctx, "tcp", addr)
	}
	return pd.Dial("tcp", addr)
}
