package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/whispernet/whispernet/controller/channel"
	"github.com/whispernet/whispernet/controller/codec"
	"github.com/whispernet/whispernet/controller/decoder"
	"github.com/whispernet/whispernet/controller/telemetry"
)

type State string

const (
	Idle         State = "idle"
	Transmitting State = "transmitting"
	Complete     State = "complete"
	Cancelled    State = "cancelled"
)

// Whether no further packets will be appended
func (s State) Terminal() bool {
	return s == Complete || s == Cancelled
}

var ErrStarted = errors.New("Session already started")

type Config struct {
	Channel channel.Channel
	// Called from the session goroutine after every change.
	// It must not call back into Stop or Wait.
	OnUpdate func(Snapshot)
	// Also recover the bits from the observed packet timing
	VerifyTiming bool
	Logger       *slog.Logger
}

// One transmission attempt. A session is started once; restarting a
// transmission means creating a new session.
type Session struct {
	id   string
	conf Config

	mu       sync.Mutex
	state    State
	start    time.Time
	expected int
	packets  []channel.Packet
	stopping bool

	cancel chan struct{}
	done   chan struct{}
}

// Everything a reader needs about a session at one instant.
// Packets is a copy and can be kept.
type Snapshot struct {
	ID    string
	State State
	// Milliseconds since the Unix epoch the first delay is measured from
	Start   int64
	Packets []channel.Packet
	Bits    string
	Frame   decoder.Frame
	Stats   telemetry.Stats
	// Bits recovered from Observed times alone, when timing is verified
	TimingBits string
	// Positions where TimingBits disagrees with Bits
	TimingErrors int
}

func New(conf Config) (*Session, error) {
	if conf.Channel == nil {
		return nil, errors.New("Session requires a channel")
	}
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}
	return &Session{
		id:     uuid.NewString(),
		conf:   conf,
		state:  Idle,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed once the session reaches a terminal state
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start begins transmitting text. An encoding error is returned
// before any packet is emitted and leaves the session idle.
func (s *Session) Start(text string) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrStarted
	}
	tr, err := s.conf.Channel.Send(text, s.cancel)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = Transmitting
	s.start = tr.Start
	s.expected = utf8.RuneCountInString(text) * codec.BitsPerChar
	s.mu.Unlock()

	s.conf.Logger.Info("session started", "session", s.id, "bits", s.expected)
	s.notify()
	go s.collect(tr)
	return nil
}

// Stop requests cancellation. Packets already recorded are kept.
// Stopping a session that is not transmitting does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Transmitting || s.stopping {
		return
	}
	s.stopping = true
	close(s.cancel)
}

// Wait blocks until the session ends or ctx is done
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Append every packet as it arrives; this goroutine is the only writer
func (s *Session) collect(tr *channel.Transmission) {
	defer close(s.done)

	for p := range tr.Packets {
		s.mu.Lock()
		s.packets = append(s.packets, p)
		s.mu.Unlock()
		s.notify()
	}

	s.mu.Lock()
	if len(s.packets) == s.expected {
		s.state = Complete
	} else {
		s.state = Cancelled
	}
	state, n := s.state, len(s.packets)
	s.mu.Unlock()

	s.conf.Logger.Info("session ended", "session", s.id, "state", state, "packets", n, "expected", s.expected)
	s.notify()
}

func (s *Session) notify() {
	if s.conf.OnUpdate != nil {
		s.conf.OnUpdate(s.Snapshot())
	}
}

// Snapshot recomputes the derived views from the whole packet sequence
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:      s.id,
		State:   s.state,
		Packets: append([]channel.Packet(nil), s.packets...),
	}
	start := s.start
	s.mu.Unlock()

	if !start.IsZero() {
		snap.Start = start.UnixMilli()
	}
	snap.Bits = channel.BitString(snap.Packets)
	snap.Frame = decoder.Decode(snap.Bits)
	snap.Stats = telemetry.Compute(snap.Packets, snap.Bits, snap.Frame.Text)
	if s.conf.VerifyTiming {
		s.verifyTiming(start, &snap)
	}
	return snap
}

func (s *Session) verifyTiming(start time.Time, snap *Snapshot) {
	arrivals := make([]time.Time, len(snap.Packets))
	for i := range snap.Packets {
		arrivals[i] = snap.Packets[i].Observed
	}
	bits, err := s.conf.Channel.Receive(start, arrivals)
	if err != nil {
		s.conf.Logger.Debug("timing verification skipped", "session", s.id, "err", err)
		return
	}
	snap.TimingBits = bits
	for i := 0; i < len(bits) && i < len(snap.Bits); i++ {
		if bits[i] != snap.Bits[i] {
			snap.TimingErrors++
		}
	}
}
