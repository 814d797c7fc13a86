package channel

import (
	"strings"
	"time"
)

// A single timing event. Only the delay carries information;
// a packet has no payload.
type Packet struct {
	SequenceID uint64
	// Milliseconds since the Unix epoch at which the packet is considered arrived
	Timestamp int64
	Bit       byte
	// Milliseconds waited before this packet
	Delay uint64
	// The wall clock instant the packet was actually emitted
	Observed time.Time
}

// One transmission started by Send.
type Transmission struct {
	// Time the first delay is measured from
	Start time.Time
	// Closed after the last packet or when the transmission is cancelled
	Packets <-chan Packet
}

type Channel interface {
	// Send starts transmitting text and returns the packets as they are emitted.
	Send(text string, cancel <-chan struct{}) (*Transmission, error)
	// Receive recovers a bit string from the arrival times of packets
	// sent after start.
	Receive(start time.Time, arrivals []time.Time) (string, error)
}

// Project the bit of every packet into a bit string
func BitString(packets []Packet) string {
	var sb strings.Builder
	sb.Grow(len(packets))
	for i := range packets {
		if packets[i].Bit != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
