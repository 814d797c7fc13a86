// Package capture stores the packets of a session as a pcap file of
// empty UDP carrier frames and reads their arrival times back.
//
// The first frame of a capture is a preamble sent at the session start,
// so the delay of the first packet can be measured by a receiver that
// only sees the file.
package capture

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/whispernet/whispernet/controller/channel"
)

const snapLen = 65536

// Addresses of the carrier frames. Only frames sent to DstPort are read back.
type Carrier struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
}

func DefaultCarrier() Carrier {
	return Carrier{
		SrcMAC:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		SrcIP:   net.IP{10, 0, 0, 1},
		DstIP:   net.IP{10, 0, 0, 2},
		SrcPort: 40000,
		DstPort: 8123,
	}
}

var ErrNoFrames = errors.New("No carrier frames in capture")

type Writer struct {
	pw      *pcapgo.Writer
	carrier Carrier
}

// NewWriter writes the pcap file header to w
func NewWriter(w io.Writer, carrier Carrier) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	return &Writer{pw: pw, carrier: carrier}, nil
}

// WriteSession writes the preamble at start followed by one frame per packet,
// timestamped with the packet timestamp.
func (w *Writer) WriteSession(start time.Time, packets []channel.Packet) error {
	if err := w.writeFrame(start, 0, w.carrier); err != nil {
		return err
	}
	for i := range packets {
		// IP ID 0 is the preamble
		id := uint16(packets[i].SequenceID + 1)
		if err := w.writeFrame(time.UnixMilli(packets[i].Timestamp), id, w.carrier); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeFrame(ts time.Time, id uint16, c Carrier) error {
	data, err := createFrame(id, c)
	if err != nil {
		return err
	}
	return w.pw.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

// Creates an Ethernet/IPv4/UDP frame with no payload
func createFrame(id uint16, c Carrier) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       c.SrcMAC,
		DstMAC:       c.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	iph := layers.IPv4{
		Version:  4,
		Id:       id,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    c.SrcIP.To4(),
		DstIP:    c.DstIP.To4(),
	}
	udph := layers.UDP{
		SrcPort: layers.UDPPort(c.SrcPort),
		DstPort: layers.UDPPort(c.DstPort),
	}
	if err := udph.SetNetworkLayerForChecksum(&iph); err != nil {
		return nil, err
	}

	sb := gopacket.NewSerializeBuffer()
	op := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(sb, op, &eth, &iph, &udph); err != nil {
		return nil, err
	}
	return sb.Bytes(), nil
}

// WriteFile is a shorthand for NewWriter followed by WriteSession
func WriteFile(w io.Writer, carrier Carrier, start time.Time, packets []channel.Packet) error {
	cw, err := NewWriter(w, carrier)
	if err != nil {
		return err
	}
	return cw.WriteSession(start, packets)
}

// Read returns the time of the preamble frame and the arrival time of every
// carrier frame after it. Frames not addressed to the carrier port are skipped.
func Read(r io.Reader, carrier Carrier) (start time.Time, arrivals []time.Time, err error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return time.Time{}, nil, err
	}

	var times []time.Time
	for {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			break
		} else if err != nil {
			return time.Time{}, nil, err
		}
		pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		if udpLayer.(*layers.UDP).DstPort != layers.UDPPort(carrier.DstPort) {
			continue
		}
		times = append(times, ci.Timestamp)
	}

	if len(times) == 0 {
		return time.Time{}, nil, ErrNoFrames
	}
	return times[0], times[1:], nil
}
