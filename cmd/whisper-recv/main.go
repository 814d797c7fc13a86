// Recovers a message from a pcap capture of carrier frames using only the
// arrival times of the frames.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/whispernet/whispernet/controller/capture"
	"github.com/whispernet/whispernet/controller/channel"
	"github.com/whispernet/whispernet/controller/channel/timing"
	"github.com/whispernet/whispernet/controller/config"
	"github.com/whispernet/whispernet/controller/decoder"
	"github.com/whispernet/whispernet/controller/telemetry"
)

func main() {
	var (
		short      *uint64 = flag.Uint64("short", 0, "delay in milliseconds for a 0 bit; overrides the config file")
		long       *uint64 = flag.Uint64("long", 0, "delay in milliseconds for a 1 bit; overrides the config file")
		port       *uint   = flag.Uint("port", uint(capture.DefaultCarrier().DstPort), "UDP destination port of the carrier frames")
		configPath *string = flag.String("config", "", "path to a YAML config file")
	)
	flag.Parse()

	conf, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if *short != 0 {
		conf.ShortDelayMS = *short
	}
	if *long != 0 {
		conf.LongDelayMS = *long
	}
	logger := conf.NewLogger()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: whisper-recv [flags] capture.pcap")
		os.Exit(2)
	}
	carrier := capture.DefaultCarrier()
	carrier.DstPort = uint16(*port)

	if err := run(conf, flag.Arg(0), carrier); err != nil {
		logger.Error("receive failed", "path", flag.Arg(0), "err", err)
		os.Exit(1)
	}
}

func run(conf config.File, path string, carrier capture.Carrier) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	start, arrivals, err := capture.Read(f, carrier)
	if err != nil {
		return err
	}
	ch, err := timing.ToChannel(timing.FromDelays(conf.ShortDelayMS, conf.LongDelayMS), nil)
	if err != nil {
		return err
	}
	bits, err := ch.Receive(start, arrivals)
	if err != nil {
		return err
	}

	frame := decoder.Decode(bits)
	packets := received(arrivals, bits, conf.ShortDelayMS, conf.LongDelayMS)
	stats := telemetry.Compute(packets, bits, frame.Text)

	fmt.Printf("bits     %s\n", bits)
	fmt.Printf("text     %q\n", frame.Text)
	fmt.Printf("decoder  %s, buffer %s\n", frame.StateLabel(), frame.BufferString())
	fmt.Printf("packets  %d (%d zeros, %d ones), %d characters\n", stats.PacketCount, stats.ZeroCount, stats.OneCount, stats.BytesDecoded)
	fmt.Printf("time     %d ms, %.2f bit/s, %.2f char/s, avg delay %.1f ms\n", stats.TotalTime, stats.BitRate, stats.Efficiency, stats.AvgDelay)
	fmt.Printf("jitter   mean %.2f ms, stddev %.2f ms, max %.2f ms\n", stats.JitterMean, stats.JitterStdDev, stats.JitterMax)
	return nil
}

// Rebuild packets from what the receiver saw. The nominal delay is the one
// the demodulated bit stands for, so jitter is the distance from it.
func received(arrivals []time.Time, bits string, shortMS, longMS uint64) []channel.Packet {
	var packets []channel.Packet = make([]channel.Packet, len(arrivals))
	for i := range arrivals {
		var p channel.Packet = channel.Packet{
			SequenceID: uint64(i),
			Timestamp:  arrivals[i].UnixMilli(),
			Delay:      shortMS,
			Observed:   arrivals[i],
		}
		if bits[i] == '1' {
			p.Bit = 1
			p.Delay = longMS
		}
		packets[i] = p
	}
	return packets
}
