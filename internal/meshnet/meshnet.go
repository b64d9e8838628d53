// Package meshnet provides an optional Tailscale mesh listener for
// tabminald, so the attach surface can be reached over a private
// tailnet instead of (or in addition to) a plain TCP listener.
// Grounded on the teacher's internal/tailnet, trimmed to the pieces
// tabminald actually needs: Listen and the advertised IPs for the QR
// banner.
package meshnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"
)

// Config configures an optional tailnet listener. Whether to construct
// one at all is the caller's decision (tabminald gates it on
// config.MeshConfig.Enabled); this Config only holds the connection
// parameters.
type Config struct {
	// NodeID names this daemon instance on the tailnet; also used to
	// namespace the on-disk tsnet state directory.
	NodeID string

	// ControlURL optionally points at a self-hosted control server
	// (e.g. Headscale). Empty uses Tailscale's public coordination
	// server.
	ControlURL string

	// AuthKey is the pre-auth key used to join the tailnet
	// non-interactively.
	AuthKey string

	// StateDir holds tsnet's persistent state. Defaults to
	// ~/.tabminal/tsnet/<NodeID>.
	StateDir string

	Ephemeral bool
}

// Node wraps a tsnet.Server for tabminald's mesh listener.
type Node struct {
	server *tsnet.Server
	logger *slog.Logger
}

// New constructs a Node from cfg without connecting.
func New(cfg Config, logger *slog.Logger) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("meshnet: NodeID is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("meshnet: determine home directory: %w", err)
		}
		stateDir = filepath.Join(home, ".tabminal", "tsnet", cfg.NodeID)
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("meshnet: create state directory: %w", err)
	}

	hostname := "tabminald-" + cfg.NodeID
	if len(cfg.NodeID) > 12 {
		hostname = "tabminald-" + cfg.NodeID[:12]
	}

	server := &tsnet.Server{
		Hostname:   hostname,
		Dir:        stateDir,
		ControlURL: cfg.ControlURL,
		AuthKey:    cfg.AuthKey,
		Ephemeral:  cfg.Ephemeral,
		Logf:       func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
	}

	return &Node{server: server, logger: logger}, nil
}

// Start connects to the tailnet. Call once before Listen.
func (n *Node) Start(ctx context.Context) error {
	n.logger.Info("connecting to tailnet", "hostname", n.server.Hostname, "control_url", n.server.ControlURL)
	status, err := n.server.Up(ctx)
	if err != nil {
		return fmt.Errorf("meshnet: connect: %w", err)
	}
	n.logger.Info("connected to tailnet", "tailscale_ips", status.TailscaleIPs, "backend_state", status.BackendState)
	return nil
}

// Listen creates a listener on the tailnet, for httpapi's HTTP server
// to serve on instead of a plain net.Listen.
func (n *Node) Listen(network, addr string) (net.Listener, error) {
	return n.server.Listen(network, addr)
}

// IPs returns this node's tailnet addresses, for the startup QR
// banner.
func (n *Node) IPs() []string {
	ip4, ip6 := n.server.TailscaleIPs()
	var out []string
	if ip4.IsValid() {
		out = append(out, ip4.String())
	}
	if ip6.IsValid() {
		out = append(out, ip6.String())
	}
	return out
}

// Close disconnects from the tailnet.
func (n *Node) Close() error {
	n.logger.Info("disconnecting from tailnet")
	return n.server.Close()
}
