package cli

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/devsim/rules"
	"github.com/samaelod/devsim/types"
)

type segment struct {
	fromDevice bool
	syn        bool
	payload    string
}

// writeCapture records a peer connecting to 10.0.0.1:5000 and the given
// exchange.
func writeCapture(t *testing.T, segs []segment) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	device, peer := net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, s := range segs {
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: peer, DstIP: device}
		tcp := &layers.TCP{SrcPort: 40000, DstPort: 5000, SYN: s.syn, ACK: !s.syn, PSH: s.payload != "", Window: 1024}
		if s.fromDevice {
			ip.SrcIP, ip.DstIP = device, peer
			tcp.SrcPort, tcp.DstPort = 5000, 40000
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

		stack := []gopacket.SerializableLayer{
			&layers.Ethernet{SrcMAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}, DstMAC: net.HardwareAddr{0, 1, 2, 3, 4, 6}, EthernetType: layers.EthernetTypeIPv4},
			ip, tcp,
		}
		if s.payload != "" {
			stack = append(stack, gopacket.Payload(s.payload))
		}
		buf := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, stack...))

		data := buf.Bytes()
		at = at.Add(10 * time.Millisecond)
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{Timestamp: at, CaptureLength: len(data), Length: len(data)}, data))
	}
	return path
}

var exchange = []segment{
	{syn: true},
	{fromDevice: true, payload: "HELLO"},
	{payload: "REQ"},
	{fromDevice: true, payload: "RESP"},
}

func TestImportWritesLuaNextToPayloads(t *testing.T) {
	capture := writeCapture(t, exchange)
	out := filepath.Join(t.TempDir(), "payloads")

	buf := &bytes.Buffer{}
	cmd := NewImportCommand(&RootOptions{})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{capture, "--out", out})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Imported 2 payload(s)")
	assert.Contains(t, buf.String(), "10.0.0.1:5000")

	data, err := os.ReadFile(filepath.Join(out, "capture.0002.bin"))
	require.NoError(t, err)
	assert.Equal(t, "RESP", string(data))

	rs, err := rules.Load(filepath.Join(out, "session_1.lua"))
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, 0, rs.Rules[0].WaitCount)
	assert.Equal(t, 1, rs.Rules[1].WaitCount)
	assert.Equal(t, types.KindFinite, rs.Rules[1].Kind())
}

func TestImportYAMLRulesOut(t *testing.T) {
	capture := writeCapture(t, exchange)
	out := t.TempDir()
	rulesOut := filepath.Join(t.TempDir(), "replay.yaml")

	cmd := NewImportCommand(&RootOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{capture, "--out", out, "--format", "yaml", "--rules-out", rulesOut, "--prefix", "dev"})

	require.NoError(t, cmd.Execute())

	rs, err := rules.Load(rulesOut)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, `dev\.0001\.bin$`, rs.Rules[0].Pattern)
	assert.FileExists(t, filepath.Join(out, "dev.0001.bin"))
}

func TestImportRejectsUnknownFormat(t *testing.T) {
	cmd := NewImportCommand(&RootOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"capture.pcap", "--format", "json"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestImportUnreadableCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.pcap")
	require.NoError(t, os.WriteFile(path, []byte("not a capture"), 0o600))

	cmd := NewImportCommand(&RootOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
