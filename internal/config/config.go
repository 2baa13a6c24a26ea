// Package config loads the node's configuration record (spec §6): the
// local bind address, an optional entry point for joining an existing
// overlay, and the two socket deadlines. Addresses are accepted as
// multiaddr strings and resolved once, at load time, into net.UDPAddr —
// the same multiaddr library the teacher uses for its libp2p peer
// addresses (internal/network/mesh.go), repurposed here purely as an
// address-string parser since the wire transport itself is plain UDP.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	multiaddr "github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"
)

// File mirrors the on-disk YAML shape. EntryAddr is a pointer so that an
// absent key round-trips to "bootstrap as root" (spec §6).
type File struct {
	BindAddr           string  `yaml:"bind_addr"`
	EntryAddr          *string `yaml:"entry_addr,omitempty"`
	SocketReadTimeout  string  `yaml:"socket_read_timeout"`
	SocketWriteTimeout string  `yaml:"socket_write_timeout"`
}

// Config is the resolved, ready-to-use configuration.
type Config struct {
	BindAddr           net.UDPAddr
	EntryAddr          *net.UDPAddr
	SocketReadTimeout  time.Duration
	SocketWriteTimeout time.Duration
}

// Default returns the same defaults as the teacher's
// DefaultTransportConfig(): a local bind address, no entry point (this
// node bootstraps as root), and five-second socket deadlines.
func Default() Config {
	return Config{
		BindAddr:           net.UDPAddr{IP: net.IPv4zero, Port: 4848},
		EntryAddr:          nil,
		SocketReadTimeout:  5 * time.Second,
		SocketWriteTimeout: 5 * time.Second,
	}
}

// Load reads a YAML file at path into a Config, applying Default() for
// any field the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if f.BindAddr != "" {
		addr, err := ResolveMultiaddr(f.BindAddr)
		if err != nil {
			return Config{}, fmt.Errorf("config: bind_addr: %w", err)
		}
		cfg.BindAddr = *addr
	}
	if f.EntryAddr != nil && *f.EntryAddr != "" {
		addr, err := ResolveMultiaddr(*f.EntryAddr)
		if err != nil {
			return Config{}, fmt.Errorf("config: entry_addr: %w", err)
		}
		cfg.EntryAddr = addr
	}
	if f.SocketReadTimeout != "" {
		d, err := time.ParseDuration(f.SocketReadTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("config: socket_read_timeout: %w", err)
		}
		cfg.SocketReadTimeout = d
	}
	if f.SocketWriteTimeout != "" {
		d, err := time.ParseDuration(f.SocketWriteTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("config: socket_write_timeout: %w", err)
		}
		cfg.SocketWriteTimeout = d
	}

	return cfg, nil
}

// ApplyFlags registers -bind and -entry overrides on fs and returns a
// function to call after fs.Parse, applying any flag the caller set over
// cfg's existing values — the same "flags override file" precedence the
// teacher's applyTransportConfigOverrides uses.
func ApplyFlags(fs *flag.FlagSet, cfg *Config) func() error {
	bind := fs.String("bind", "", "multiaddr to bind the UDP socket to, e.g. /ip4/0.0.0.0/udp/4848")
	entry := fs.String("entry", "", "multiaddr of an existing overlay node to join")

	return func() error {
		if *bind != "" {
			addr, err := ResolveMultiaddr(*bind)
			if err != nil {
				return fmt.Errorf("config: -bind: %w", err)
			}
			cfg.BindAddr = *addr
		}
		if *entry != "" {
			addr, err := ResolveMultiaddr(*entry)
			if err != nil {
				return fmt.Errorf("config: -entry: %w", err)
			}
			cfg.EntryAddr = addr
		}
		return nil
	}
}

// ResolveMultiaddr parses a multiaddr string of the form
// /ip4/<addr>/udp/<port> or /ip6/<addr>/udp/<port> into a net.UDPAddr.
func ResolveMultiaddr(s string) (*net.UDPAddr, error) {
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid multiaddr %q: %w", s, err)
	}

	var ip string
	var v6 bool
	if host, err := ma.ValueForProtocol(multiaddr.P_IP4); err == nil {
		ip = host
	} else if host, err := ma.ValueForProtocol(multiaddr.P_IP6); err == nil {
		ip = host
		v6 = true
	} else {
		return nil, fmt.Errorf("multiaddr %q has no ip4/ip6 component", s)
	}

	port, err := ma.ValueForProtocol(multiaddr.P_UDP)
	if err != nil {
		return nil, fmt.Errorf("multiaddr %q has no udp component: %w", s, err)
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("multiaddr %q has unparseable ip component %q", s, ip)
	}
	_ = v6

	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
		return nil, fmt.Errorf("multiaddr %q has unparseable udp port %q", s, port)
	}

	return &net.UDPAddr{IP: parsedIP, Port: p}, nil
}
