// Package telemetry derives transmission statistics from a packet stream.
//
// Every function is pure. Callers pass a snapshot of the packets together
// with the bit string and decoded text derived from it.
package telemetry

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/whispernet/whispernet/controller/channel"
)

// Stats is a snapshot of transmission metrics.
// Every value is zero when it cannot be computed.
type Stats struct {
	PacketCount int

	// AvgDelay is the mean delay in milliseconds.
	AvgDelay float64

	// TotalTime is the span in milliseconds between the first and last packet.
	// A single packet spans no time.
	TotalTime int64

	// BitRate is bits per second over TotalTime.
	BitRate float64

	ZeroCount int
	OneCount  int

	// ZeroRatio and OneRatio are the shares of each bit value, in [0, 1].
	ZeroRatio float64
	OneRatio  float64

	// BytesDecoded is the number of complete 8 bit groups.
	BytesDecoded int

	// Efficiency is decoded characters per second over TotalTime.
	Efficiency float64

	// Jitter compares the observed spacing of packets with the nominal delay,
	// in milliseconds. Only packets with an observed emission time count.
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64
}

// Compute derives all metrics in one pass over the inputs.
func Compute(packets []channel.Packet, bits string, decoded string) Stats {
	s := Stats{
		PacketCount:  len(packets),
		AvgDelay:     AvgDelay(packets),
		TotalTime:    TotalTime(packets),
		BytesDecoded: len(bits) / 8,
	}
	s.BitRate = BitRate(bits, s.TotalTime)
	s.ZeroCount, s.OneCount = Distribution(bits)
	if len(bits) > 0 {
		s.ZeroRatio = float64(s.ZeroCount) / float64(len(bits))
		s.OneRatio = float64(s.OneCount) / float64(len(bits))
	}
	s.Efficiency = Efficiency(decoded, s.TotalTime)
	s.JitterMean, s.JitterStdDev, s.JitterMax = Jitter(packets)
	return s
}

func AvgDelay(packets []channel.Packet) float64 {
	if len(packets) == 0 {
		return 0
	}
	var sum uint64 = 0
	for i := range packets {
		sum += packets[i].Delay
	}
	return float64(sum) / float64(len(packets))
}

func TotalTime(packets []channel.Packet) int64 {
	if len(packets) < 2 {
		return 0
	}
	return packets[len(packets)-1].Timestamp - packets[0].Timestamp
}

// BitRate in bits per second; totalTime is in milliseconds
func BitRate(bits string, totalTime int64) float64 {
	if totalTime <= 0 {
		return 0
	}
	return float64(len(bits)) / (float64(totalTime) / 1000)
}

// Distribution counts the '0' and '1' symbols of a bit string
func Distribution(bits string) (zeros int, ones int) {
	for i := 0; i < len(bits); i++ {
		switch bits[i] {
		case '0':
			zeros++
		case '1':
			ones++
		}
	}
	return zeros, ones
}

// Efficiency in characters per second; totalTime is in milliseconds
func Efficiency(decoded string, totalTime int64) float64 {
	if totalTime <= 0 {
		return 0
	}
	return float64(utf8.RuneCountInString(decoded)) / float64(totalTime) * 1000
}

// Jitter measures how far each observed inter-packet gap strays from the
// nominal delay. The first packet has no previous emission to compare with,
// so gaps are taken between consecutive observed packets.
func Jitter(packets []channel.Packet) (mean float64, stddev float64, max float64) {
	var devs []float64
	for i := 1; i < len(packets); i++ {
		prev, cur := packets[i-1].Observed, packets[i].Observed
		if prev.IsZero() || cur.IsZero() {
			continue
		}
		gap := float64(cur.Sub(prev)) / float64(time.Millisecond)
		dev := math.Abs(gap - float64(packets[i].Delay))
		devs = append(devs, dev)
		if dev > max {
			max = dev
		}
	}
	if len(devs) == 0 {
		return 0, 0, 0
	}
	for _, d := range devs {
		mean += d
	}
	mean /= float64(len(devs))
	for _, d := range devs {
		stddev += (d - mean) * (d - mean)
	}
	stddev = math.Sqrt(stddev / float64(len(devs)))
	return mean, stddev, max
}
