// Transmits a message over the timing channel in process, printing every
// packet as it is emitted, then writes the session as a pcap capture.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/whispernet/whispernet/controller/capture"
	"github.com/whispernet/whispernet/controller/channel/timing"
	"github.com/whispernet/whispernet/controller/config"
	"github.com/whispernet/whispernet/controller/session"
)

func main() {
	var (
		msg        *string        = flag.String("m", "", "the message to transmit")
		short      *uint64        = flag.Uint64("short", 0, "delay in milliseconds for a 0 bit; overrides the config file")
		long       *uint64        = flag.Uint64("long", 0, "delay in milliseconds for a 1 bit; overrides the config file")
		configPath *string        = flag.String("config", "", "path to a YAML config file")
		out        *string        = flag.String("o", "", "capture file; defaults to <session id>.pcap in the capture directory")
		verify     *bool          = flag.Bool("verify", false, "also recover the bits from the observed timing")
		timeout    *time.Duration = flag.Duration("timeout", 0, "stop the transmission after this long; 0 waits for completion")
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

	if err := run(conf, logger, *msg, *out, *verify || conf.VerifyTiming, *timeout); err != nil {
		logger.Error("transmission failed", "err", err)
		os.Exit(1)
	}
}

func run(conf config.File, logger *slog.Logger, msg string, out string, verify bool, timeout time.Duration) error {
	ch, err := timing.ToChannel(timing.FromDelays(conf.ShortDelayMS, conf.LongDelayMS), nil)
	if err != nil {
		return err
	}
	sess, err := session.New(session.Config{
		Channel:      ch,
		OnUpdate:     printUpdate,
		VerifyTiming: verify,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if err := sess.Start(msg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := sess.Wait(ctx); err != nil {
		logger.Info("stopping transmission", "reason", err)
		sess.Stop()
		sess.Wait(context.Background())
	}

	snap := sess.Snapshot()
	fmt.Printf("\n%s: %d packets, text %q\n", snap.State, len(snap.Packets), snap.Frame.Text)
	fmt.Printf("bit rate %.2f bit/s, efficiency %.2f char/s, jitter mean %.2f ms max %.2f ms\n",
		snap.Stats.BitRate, snap.Stats.Efficiency, snap.Stats.JitterMean, snap.Stats.JitterMax)
	if verify {
		fmt.Printf("timing bits %s, %d disagreements\n", snap.TimingBits, snap.TimingErrors)
	}

	if out == "" {
		out = filepath.Join(conf.CaptureDir, snap.ID+".pcap")
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := capture.WriteFile(f, capture.DefaultCarrier(), time.UnixMilli(snap.Start), snap.Packets); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("capture written", "path", out, "session", snap.ID)
	return nil
}

func printUpdate(snap session.Snapshot) {
	if n := len(snap.Packets); n > 0 && snap.State == session.Transmitting {
		p := snap.Packets[n-1]
		fmt.Printf("#%-4d bit %d  delay %4dms  %-8s  %s  %q\n",
			p.SequenceID, p.Bit, p.Delay, snap.Frame.StateLabel(), snap.Frame.BufferString(), snap.Frame.Text)
	}
}
