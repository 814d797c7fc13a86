package timing

import (
	"errors"
	"strconv"
	"time"

	"github.com/whispernet/whispernet/controller/channel"
	"github.com/whispernet/whispernet/controller/channel/embedders"
	"github.com/whispernet/whispernet/controller/codec"
)

// The source of time used to pace packets.
// Tests replace it to avoid waiting on the wall clock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// This covert channel carries one bit per packet in the delay
// that precedes the packet. A 0 waits ShortDelay and a 1 waits LongDelay,
// measured from the emission of the previous packet (or from the start of
// the transmission for the first packet).
// Packets are never put on the wire. They are timing events handed to the
// caller as soon as their delay has elapsed.
type Config struct {
	ShortDelay time.Duration
	LongDelay  time.Duration
	Clock      Clock
}

// A timing covert channel
type Channel struct {
	conf     Config
	embedder embedders.DelayEmbedder
}

var _ channel.Channel = (*Channel)(nil)

// Create the covert channel, filling in the wall clock
// if no Clock is provided
func MakeChannel(conf Config) (*Channel, error) {
	if err := validDelay("ShortDelay", conf.ShortDelay); err != nil {
		return nil, err
	}
	if err := validDelay("LongDelay", conf.LongDelay); err != nil {
		return nil, err
	}
	if conf.Clock == nil {
		conf.Clock = wallClock{}
	}
	return &Channel{
		conf:     conf,
		embedder: embedders.DelayEmbedder{Short: conf.ShortDelay, Long: conf.LongDelay},
	}, nil
}

// Timestamps are kept in milliseconds, so delays must be whole milliseconds
func validDelay(name string, d time.Duration) error {
	if d <= 0 {
		return errors.New(name + " must be positive")
	}
	if d%time.Millisecond != 0 {
		return errors.New(name + " must be a whole number of milliseconds; found " + d.String())
	}
	return nil
}

func (c *Channel) Config() Config {
	return c.conf
}

// Send encodes the text and starts emitting one packet per bit.
// An encoding error is returned before anything is emitted.
func (c *Channel) Send(text string, cancel <-chan struct{}) (*channel.Transmission, error) {
	bits, err := codec.Encode(text)
	if err != nil {
		return nil, err
	}
	var (
		out   chan channel.Packet = make(chan channel.Packet, len(bits))
		start time.Time           = c.conf.Clock.Now()
	)
	go c.sendLoop(bits, start, out, cancel)
	return &channel.Transmission{Start: start, Packets: out}, nil
}

func (c *Channel) sendLoop(bits string, start time.Time, out chan<- channel.Packet, cancel <-chan struct{}) {
	defer close(out)

	var (
		timestamp int64     = start.UnixMilli()
		prev      time.Time = start
	)
	for i := 0; i < len(bits); i++ {
		var bit byte = 0
		if bits[i] == '1' {
			bit = 1
		}
		// The bit string comes from the codec so SetBit cannot fail
		delay, _ := c.embedder.SetBit(bit)

		// The delay runs from the previous emission, not from the end of
		// the previous loop iteration
		wait := prev.Add(delay).Sub(c.conf.Clock.Now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-c.conf.Clock.After(wait):
		case <-cancel:
			return
		}
		// The timer and the cancel signal may both be ready.
		// Cancel always wins so nothing is emitted after it is seen.
		select {
		case <-cancel:
			return
		default:
		}

		timestamp += delay.Milliseconds()
		prev = c.conf.Clock.Now()
		p := channel.Packet{
			SequenceID: uint64(i),
			Timestamp:  timestamp,
			Bit:        bit,
			Delay:      uint64(delay.Milliseconds()),
			Observed:   prev,
		}
		// out holds every packet, so a slow reader never delays the next one
		select {
		case out <- p:
		case <-cancel:
			return
		}
	}
}

// Receive recovers bits from arrival times alone.
// The first delay is measured from start.
func (c *Channel) Receive(start time.Time, arrivals []time.Time) (string, error) {
	if !c.embedder.Distinguishable() {
		return "", errors.New("Short and long delays are equal; bits cannot be recovered from timing")
	}
	var (
		bits []byte    = make([]byte, len(arrivals))
		prev time.Time = start
	)
	for i, a := range arrivals {
		if a.Before(prev) {
			return "", errors.New("Arrival " + strconv.Itoa(i) + " is earlier than the previous packet")
		}
		b, err := c.embedder.GetBit(a.Sub(prev))
		if err != nil {
			return "", err
		}
		bits[i] = '0' + b
		prev = a
	}
	return string(bits), nil
}
