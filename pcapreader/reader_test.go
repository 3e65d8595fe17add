package pcapreader

import (
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

	"github.com/samaelod/devsim/types"
)

type host struct {
	ip   net.IP
	port uint16
}

var (
	device = host{net.IP{10, 0, 0, 1}, 5000}
	peer   = host{net.IP{10, 0, 0, 2}, 40000}
	noiseA = host{net.IP{10, 0, 0, 9}, 1234}
	noiseB = host{net.IP{10, 0, 0, 8}, 80}
)

type frame struct {
	at       time.Duration
	src, dst host
	syn, ack bool
	payload  string
}

func conversation(withHandshake bool) []frame {
	var frames []frame
	if withHandshake {
		frames = append(frames,
			frame{at: 0, src: peer, dst: device, syn: true},
			frame{at: time.Millisecond, src: device, dst: peer, syn: true, ack: true},
			frame{at: 2 * time.Millisecond, src: peer, dst: device, ack: true},
		)
	}
	return append(frames,
		frame{at: 10 * time.Millisecond, src: device, dst: peer, ack: true, payload: "HELLO"},
		frame{at: 30 * time.Millisecond, src: device, dst: peer, ack: true, payload: "WORLD"},
		frame{at: 40 * time.Millisecond, src: noiseA, dst: noiseB, ack: true, payload: "NOISE"},
		frame{at: 50 * time.Millisecond, src: peer, dst: device, ack: true, payload: "REQ1"},
		frame{at: 60 * time.Millisecond, src: device, dst: peer, ack: true, payload: "RESP1"},
		frame{at: 100 * time.Millisecond, src: peer, dst: device, ack: true, payload: "REQ2"},
		frame{at: 120 * time.Millisecond, src: device, dst: peer, ack: true, payload: "RESP2"},
	)
}

func encode(t *testing.T, f frame) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    f.src.ip,
		DstIP:    f.dst.ip,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(f.src.port),
		DstPort: layers.TCPPort(f.dst.port),
		SYN:     f.syn,
		ACK:     f.ack,
		PSH:     f.payload != "",
		Window:  1024,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	stack := []gopacket.SerializableLayer{eth, ip, tcp}
	if f.payload != "" {
		stack = append(stack, gopacket.Payload([]byte(f.payload)))
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, stack...))
	return buf.Bytes()
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func writePcap(t *testing.T, frames []frame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, fr := range frames {
		data := encode(t, fr)
		ci := gopacket.CaptureInfo{Timestamp: base.Add(fr.at), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func writePcapng(t *testing.T, frames []frame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, fr := range frames {
		data := encode(t, fr)
		ci := gopacket.CaptureInfo{Timestamp: base.Add(fr.at), CaptureLength: len(data), Length: len(data), InterfaceIndex: 0}
		require.NoError(t, w.WritePacket(ci, data))
	}
	require.NoError(t, w.Flush())
	return path
}

func payloads(c *Capture) []string {
	var out []string
	for _, s := range c.Segments {
		out = append(out, s.Direction.String()+":"+string(s.Payload))
	}
	return out
}

var wantSegments = []string{
	"device:HELLO", "device:WORLD", "peer:REQ1", "device:RESP1", "peer:REQ2", "device:RESP2",
}

func TestReadCapturePcap(t *testing.T) {
	c, err := ReadCapture(writePcap(t, conversation(true)), 0)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:5000", c.Device)
	assert.Equal(t, "10.0.0.2:40000", c.Peer)
	assert.Equal(t, wantSegments, payloads(c))
	assert.Equal(t, 4, c.Count(FromDevice))
	assert.Equal(t, 2, c.Count(FromPeer))
}

func TestReadCapturePcapng(t *testing.T) {
	c, err := ReadCapture(writePcapng(t, conversation(true)), 0)
	require.NoError(t, err)
	assert.Equal(t, wantSegments, payloads(c))
}

func TestReadCaptureWithoutHandshake(t *testing.T) {
	c, err := ReadCapture(writePcap(t, conversation(false)), 0)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:5000", c.Device, "first payload sender is the device")
	assert.Equal(t, wantSegments, payloads(c))
}

func TestReadCaptureDevicePort(t *testing.T) {
	path := writePcap(t, conversation(true))

	c, err := ReadCapture(path, 5000)
	require.NoError(t, err)
	assert.Equal(t, wantSegments, payloads(c))

	c, err = ReadCapture(path, 40000)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:40000", c.Device)
	assert.Equal(t, "peer:HELLO", payloads(c)[0])

	_, err = ReadCapture(path, 9999)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestReadCaptureRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a capture"), 0o600))

	_, err := ReadCapture(path, 0)
	assert.Error(t, err)
}

func TestImportBuildsReplayRules(t *testing.T) {
	c, err := ReadCapture(writePcap(t, conversation(true)), 0)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "payloads")
	rs, files, err := Import(c, out, "")
	require.NoError(t, err)

	require.Len(t, files, 4)
	assert.Equal(t, filepath.Join(out, "capture.0001.bin"), files[0])
	data, err := os.ReadFile(files[2])
	require.NoError(t, err)
	assert.Equal(t, "RESP1", string(data))

	assert.Equal(t, []types.Rule{
		{Pattern: `capture\.0001\.bin$`, DelayMs: 0, Repeat: 1, WaitCount: 0},
		{Pattern: `capture\.0002\.bin$`, DelayMs: 20, Repeat: 1, WaitCount: 0},
		{Pattern: `capture\.0003\.bin$`, DelayMs: 0, Repeat: 1, WaitCount: 1},
		{Pattern: `capture\.0004\.bin$`, DelayMs: 0, Repeat: 1, WaitCount: 2},
	}, rs.Rules)
	assert.False(t, rs.WaitToStart)
}
