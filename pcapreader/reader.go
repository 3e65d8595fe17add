package pcapreader

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrNoConversation is returned when a capture holds no TCP data between a
// device and a peer.
var ErrNoConversation = errors.New("pcapreader: no tcp conversation found")

type Direction int

const (
	FromPeer Direction = iota
	FromDevice
)

func (d Direction) String() string {
	if d == FromDevice {
		return "device"
	}
	return "peer"
}

// Segment is one TCP payload of the device conversation.
type Segment struct {
	Time      time.Time
	Direction Direction
	Payload   []byte
}

// Capture is the device conversation extracted from a capture file.
type Capture struct {
	Device   string // ip:port
	Peer     string
	Segments []Segment
}

// Count returns the number of segments sent in direction d.
func (c *Capture) Count(d Direction) int {
	n := 0
	for _, s := range c.Segments {
		if s.Direction == d {
			n++
		}
	}
	return n
}

type packetSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

type endpoint struct {
	ip   string
	port uint16
}

func (e endpoint) String() string {
	return net.JoinHostPort(e.ip, strconv.Itoa(int(e.port)))
}

type tcpSegment struct {
	ts       time.Time
	src, dst endpoint
	syn, ack bool
	payload  []byte
}

func detectFormat(path string) (format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(file, header); err != nil {
		return "", fmt.Errorf("read capture header: %w", err)
	}

	magic := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	switch magic {
	case 0x0A0D0D0A:
		return "pcapng", nil
	case 0xA1B2C3D4, 0xD4C3B2A1, 0xA1B23C4D, 0x4D3CB2A1:
		return "pcap", nil
	default:
		return "", fmt.Errorf("unknown capture format (magic %#08x)", magic)
	}
}

func openPacketSource(path string) (packetSource, io.Closer, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	var src packetSource
	if format == "pcapng" {
		src, err = pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(file)
	}
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("open %s: %w", format, err)
	}
	return src, file, nil
}

// ReadCapture extracts the TCP conversation of the device. The device is
// the endpoint using devicePort; with devicePort 0 it is the destination of
// the first SYN, or the sender of the first payload when the capture starts
// mid-connection.
func ReadCapture(path string, devicePort int) (*Capture, error) {
	source, closer, err := openPacketSource(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var segments []tcpSegment
	packetSrc := gopacket.NewPacketSource(source, source.LinkType())
	for packet := range packetSrc.Packets() {
		netLayer := packet.NetworkLayer()
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if netLayer == nil || tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)

		var srcIP, dstIP string
		if ipv4, ok := netLayer.(*layers.IPv4); ok {
			srcIP = ipv4.SrcIP.String()
			dstIP = ipv4.DstIP.String()
		} else if ipv6, ok := netLayer.(*layers.IPv6); ok {
			srcIP = ipv6.SrcIP.String()
			dstIP = ipv6.DstIP.String()
		} else {
			srcIP = netLayer.NetworkFlow().Src().String()
			dstIP = netLayer.NetworkFlow().Dst().String()
		}

		segments = append(segments, tcpSegment{
			ts:      packet.Metadata().Timestamp,
			src:     endpoint{ip: srcIP, port: uint16(tcp.SrcPort)},
			dst:     endpoint{ip: dstIP, port: uint16(tcp.DstPort)},
			syn:     tcp.SYN,
			ack:     tcp.ACK,
			payload: append([]byte(nil), tcp.Payload...),
		})
	}

	device, peer, ok := findConversation(segments, devicePort)
	if !ok {
		return nil, ErrNoConversation
	}

	c := &Capture{Device: device.String(), Peer: peer.String()}
	for _, s := range segments {
		if len(s.payload) == 0 {
			continue
		}
		switch {
		case s.src == device && s.dst == peer:
			c.Segments = append(c.Segments, Segment{Time: s.ts, Direction: FromDevice, Payload: s.payload})
		case s.src == peer && s.dst == device:
			c.Segments = append(c.Segments, Segment{Time: s.ts, Direction: FromPeer, Payload: s.payload})
		}
	}
	if len(c.Segments) == 0 {
		return nil, ErrNoConversation
	}
	return c, nil
}

func findConversation(segments []tcpSegment, devicePort int) (device, peer endpoint, ok bool) {
	if devicePort > 0 {
		for _, s := range segments {
			if int(s.src.port) == devicePort {
				return s.src, s.dst, true
			}
			if int(s.dst.port) == devicePort {
				return s.dst, s.src, true
			}
		}
		return endpoint{}, endpoint{}, false
	}

	for _, s := range segments {
		if s.syn && !s.ack {
			return s.dst, s.src, true
		}
	}
	for _, s := range segments {
		if len(s.payload) > 0 {
			return s.src, s.dst, true
		}
	}
	return endpoint{}, endpoint{}, false
}
