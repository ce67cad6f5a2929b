// Package spooltest writes synthetic capture spools for tests.
package spooltest

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"EnigmaNetz/Enigma-Spool/internal/pcapfile"
)

// Snaplen of every synthetic file.
const Snaplen = 65535

// Packet describes one synthetic Ethernet/IPv4 packet.
type Packet struct {
	Time    time.Time
	Proto   string // "tcp" or "udp"
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
}

// Series returns n copies of tmpl spaced step apart starting at start.
func Series(start time.Time, step time.Duration, n int, tmpl Packet) []Packet {
	pkts := make([]Packet, 0, n)
	for i := 0; i < n; i++ {
		p := tmpl
		p.Time = start.Add(time.Duration(i) * step)
		pkts = append(pkts, p)
	}
	return pkts
}

// Build serializes p.
func Build(p Packet) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4,
		TTL:     64,
		SrcIP:   net.ParseIP(p.SrcIP).To4(),
		DstIP:   net.ParseIP(p.DstIP).To4(),
	}
	if ip.SrcIP == nil || ip.DstIP == nil {
		return nil, fmt.Errorf("invalid IPv4 address in %s -> %s", p.SrcIP, p.DstIP)
	}

	payload := gopacket.Payload([]byte("enigma"))
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	buf := gopacket.NewSerializeBuffer()

	switch strings.ToLower(p.Proto) {
	case "udp":
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(p.SrcPort), DstPort: layers.UDPPort(p.DstPort)}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload); err != nil {
			return nil, err
		}
	default:
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{SrcPort: layers.TCPPort(p.SrcPort), DstPort: layers.TCPPort(p.DstPort), ACK: true, Window: 1024}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, payload); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// WriteFile writes pkts to a classic pcap file at path.
func WriteFile(path string, pkts []Packet) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(Snaplen, layers.LinkTypeEthernet); err != nil {
		return err
	}
	for _, p := range pkts {
		data, err := Build(p)
		if err != nil {
			return err
		}
		ci := gopacket.CaptureInfo{Timestamp: p.Time, CaptureLength: len(data), Length: len(data)}
		if err := w.WritePacket(ci, data); err != nil {
			return err
		}
	}
	return f.Close()
}

// WriteNgFile writes pkts to a pcapng file at path.
func WriteNgFile(path string, pkts []Packet) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	if err != nil {
		return err
	}
	for _, p := range pkts {
		data, err := Build(p)
		if err != nil {
			return err
		}
		ci := gopacket.CaptureInfo{Timestamp: p.Time, CaptureLength: len(data), Length: len(data)}
		if err := w.WritePacket(ci, data); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// SpoolFile writes pkts into dir using the rotated naming scheme
// prefix.producer.timestamp and returns the path.
func SpoolFile(dir, prefix string, producer, timestamp uint64, pkts []Packet) (string, error) {
	name := fmt.Sprintf("%s.%d.%d", prefix, producer, timestamp)
	path := filepath.Join(dir, name)
	return path, WriteFile(path, pkts)
}

// ReadAll decodes every packet in a capture file.
func ReadAll(path string) ([]Packet, error) {
	r, err := pcapfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var pkts []Packet
	for {
		data, ci, err := r.ReadPacketData()
		if err != nil {
			if pcapfile.EndOfCapture(err) {
				return pkts, nil
			}
			return pkts, err
		}
		p := Decode(data)
		p.Time = ci.Timestamp
		pkts = append(pkts, p)
	}
}

// Decode extracts the addressing of an Ethernet frame.
func Decode(data []byte) Packet {
	var p Packet
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	if ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		p.SrcIP = ip.SrcIP.String()
		p.DstIP = ip.DstIP.String()
	}
	if tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		p.Proto = "tcp"
		p.SrcPort, p.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
	}
	if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		p.Proto = "udp"
		p.SrcPort, p.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
	}
	return p
}

// Compiler understands the conjunctive subset of the filter language the
// query translator emits: "tcp", "udp", "host A", "port N" joined by "and",
// with parentheses ignored. It stands in for libpcap in tests.
type Compiler struct {
	// Calls counts Compile invocations.
	Calls int
}

type term struct {
	kind  string
	value string
}

func (c *Compiler) Compile(linkType layers.LinkType, snaplen uint32, expr string) (pcapfile.Matcher, error) {
	c.Calls++
	if linkType != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("unsupported link type %s", linkType)
	}
	cleaned := strings.NewReplacer("(", " ", ")", " ").Replace(expr)
	fields := strings.Fields(cleaned)
	var terms []term
	for i := 0; i < len(fields); i++ {
		switch f := strings.ToLower(fields[i]); f {
		case "and":
		case "tcp", "udp":
			terms = append(terms, term{kind: "proto", value: f})
		case "host", "port":
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("syntax error in filter expression: %s", expr)
			}
			if f == "port" {
				if _, err := strconv.ParseUint(fields[i+1], 10, 16); err != nil {
					return nil, fmt.Errorf("syntax error in filter expression: %s", expr)
				}
			}
			terms = append(terms, term{kind: f, value: fields[i+1]})
			i++
		default:
			return nil, fmt.Errorf("syntax error in filter expression: %s", expr)
		}
	}

	return pcapfile.MatcherFunc(func(ci gopacket.CaptureInfo, data []byte) bool {
		p := Decode(data)
		for _, t := range terms {
			switch t.kind {
			case "proto":
				if p.Proto != t.value {
					return false
				}
			case "host":
				if p.SrcIP != t.value && p.DstIP != t.value {
					return false
				}
			case "port":
				port := strconv.Itoa(int(p.SrcPort))
				dport := strconv.Itoa(int(p.DstPort))
				if port != t.value && dport != t.value {
					return false
				}
			}
		}
		return true
	}), nil
}
