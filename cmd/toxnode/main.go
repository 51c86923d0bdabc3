// Command toxnode runs a single node of the transport and routing
// substrate: a DHT participant, onion relay, and friend-connection
// endpoint, all driven from one process the way cmd/tor-client drives a
// single SOCKS-fronted circuit.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/toxgo/toxgo/core"
	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// logFileName is where toxnode writes its full debug-level JSON log.
const logFileName = "toxnode-debug.log"

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	bootstrapFlag := flag.String("bootstrap", "", "comma-separated host:port/hex_pk entries to seed the DHT with")
	motd := flag.String("motd", "", "message of the day served by the bootstrap-info responder")
	lanFlag := flag.String("lan-broadcast", "", "comma-separated IPv4 addresses to send LAN discovery broadcasts to")
	flag.Parse()

	logger, logFile := setupLogging()
	defer func() { _ = logFile.Close() }()

	fmt.Printf("=== toxgo node %s ===\n", Version)

	cfg, err := core.DefaultConfig()
	if err != nil {
		logger.Error("generate identity", "err", err)
		os.Exit(1)
	}
	cfg.Logger = logger
	cfg.Version = 1
	cfg.MOTD = *motd

	cfg.BootstrapNodes, err = parseBootstrapNodes(*bootstrapFlag)
	if err != nil {
		logger.Error("parse bootstrap nodes", "err", err)
		os.Exit(1)
	}
	cfg.LANBroadcastAddrs, err = parseLANAddrs(*lanFlag)
	if err != nil {
		logger.Error("parse lan-broadcast addresses", "err", err)
		os.Exit(1)
	}

	c, err := core.New(cfg)
	if err != nil {
		logger.Error("start core", "err", err)
		os.Exit(1)
	}
	defer c.Socket.Close()

	fmt.Printf("public key: %x\n", cfg.Self.Public)
	fmt.Printf("listening on UDP port %d\n", c.Socket.BoundPort)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println("Ready.")
	runLoop(ctx, c, logger)
}

// runLoop calls Core.Iterate back to back until ctx is cancelled; each
// call returns within its socket read deadline, so the signal check
// below never waits long to take effect.
func runLoop(ctx context.Context, c *core.Core, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
			return
		default:
		}
		if err := c.Iterate(); err != nil {
			logger.Warn("iterate error", "err", err)
		}
	}
}

// setupLogging fans debug-level records out to a JSON log file and
// info-level-and-above records to a plain-text stdout stream.
func setupLogging() (*slog.Logger, *os.File) {
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log file: %v\n", err)
		os.Exit(1)
	}
	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}})
	return logger, logFile
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}

// parseBootstrapNodes parses a comma-separated "host:port/hex_pk" list.
func parseBootstrapNodes(raw string) ([]core.BootstrapNode, error) {
	if raw == "" {
		return nil, nil
	}
	var nodes []core.BootstrapNode
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bootstrap entry %q: want host:port/hex_pk", entry)
		}
		host, portStr, err := net.SplitHostPort(parts[0])
		if err != nil {
			return nil, fmt.Errorf("bootstrap entry %q: %w", entry, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bootstrap entry %q: bad port: %w", entry, err)
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("bootstrap entry %q: bad IP %q", entry, host)
		}
		pkBytes, err := hex.DecodeString(parts[1])
		if err != nil || len(pkBytes) != identity.PublicKeySize {
			return nil, fmt.Errorf("bootstrap entry %q: bad public key", entry)
		}
		var pk identity.PublicKey
		copy(pk[:], pkBytes)

		family := wire.FamilyIPv4
		if ip.To4() == nil {
			family = wire.FamilyIPv6
		}
		nodes = append(nodes, core.BootstrapNode{
			Addr: wire.IPPort{Family: family, IP: ip, Port: uint16(port)},
			PK:   pk,
		})
	}
	return nodes, nil
}

// parseLANAddrs parses a comma-separated list of IPv4 broadcast
// addresses, paired with landiscovery's own port range by the
// Broadcaster itself.
func parseLANAddrs(raw string) ([]wire.IPPort, error) {
	if raw == "" {
		return nil, nil
	}
	var addrs []wire.IPPort
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("bad LAN broadcast address %q", entry)
		}
		addrs = append(addrs, wire.IPPort{Family: wire.FamilyIPv4, IP: ip})
	}
	return addrs, nil
}
