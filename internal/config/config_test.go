package config_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/cactus-mesh/cactus/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasNoEntryAddr(t *testing.T) {
	cfg := config.Default()
	assert.Nil(t, cfg.EntryAddr)
	assert.Equal(t, 4848, cfg.BindAddr.Port)
}

func TestResolveMultiaddrIPv4(t *testing.T) {
	addr, err := config.ResolveMultiaddr("/ip4/127.0.0.1/udp/4848")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr.IP.String())
	assert.Equal(t, 4848, addr.Port)
}

func TestResolveMultiaddrIPv6(t *testing.T) {
	addr, err := config.ResolveMultiaddr("/ip6/::1/udp/9999")
	require.NoError(t, err)
	assert.Equal(t, "::1", addr.IP.String())
	assert.Equal(t, 9999, addr.Port)
}

func TestResolveMultiaddrRejectsGarbage(t *testing.T) {
	_, err := config.ResolveMultiaddr("not-a-multiaddr")
	assert.Error(t, err)
}

func TestLoadYAMLFileWithEntryAddr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	contents := "bind_addr: /ip4/0.0.0.0/udp/5000\n" +
		"entry_addr: /ip4/10.0.0.1/udp/4848\n" +
		"socket_read_timeout: 2s\n" +
		"socket_write_timeout: 3s\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.BindAddr.Port)
	require.NotNil(t, cfg.EntryAddr)
	assert.Equal(t, 4848, cfg.EntryAddr.Port)
	assert.Equal(t, "2s", cfg.SocketReadTimeout.String())
	assert.Equal(t, "3s", cfg.SocketWriteTimeout.String())
}

func TestLoadYAMLFileWithoutEntryAddrBootstrapsRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bind_addr: /ip4/0.0.0.0/udp/5000\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.EntryAddr)
}

func TestApplyFlagsOverridesFileValues(t *testing.T) {
	cfg := config.Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	apply := config.ApplyFlags(fs, &cfg)

	require.NoError(t, fs.Parse([]string{"-bind", "/ip4/127.0.0.1/udp/7000", "-entry", "/ip4/127.0.0.1/udp/7001"}))
	require.NoError(t, apply())

	assert.Equal(t, 7000, cfg.BindAddr.Port)
	require.NotNil(t, cfg.EntryAddr)
	assert.Equal(t, 7001, cfg.EntryAddr.Port)
}
