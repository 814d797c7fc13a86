package controller

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/whispernet/whispernet/controller/archive"
	"github.com/whispernet/whispernet/controller/channel"
	"github.com/whispernet/whispernet/controller/channel/timing"
	"github.com/whispernet/whispernet/controller/session"
	"github.com/whispernet/whispernet/controller/telemetry"
)

// The go json library only decodes the keys present in both the
// json string and the struct. This allows unmarshalling once to get
// the opcode, and a second time into the struct for that opcode.
type command struct {
	OpCode string
}

type messageType struct {
	OpCode  string
	Message string
}

type configData struct {
	OpCode string
	Data   settingsData
}

// Every field must be a config struct so it can be validated and copied
// with the config package
type settingsData struct {
	Channel timing.ConfigClient
	Session session.ConfigClient
}

// The start command. Data may be omitted to reuse the current settings.
type startType struct {
	OpCode  string
	Message string
	Data    settingsData
}

// Sent after every change of the current session, and in reply to "state"
type updateType struct {
	OpCode       string
	ID           string
	State        session.State
	Start        int64
	Packets      []channel.Packet
	Bits         string
	Decoder      decoderType
	Stats        telemetry.Stats
	TimingBits   string
	TimingErrors int
}

type decoderType struct {
	Text          string
	Chars         []string
	Buffer        string
	BufferDisplay string
	State         int
	StateLabel    string
	BytesDecoded  int
}

// Options for CreateController. Zero values select the defaults.
type Options struct {
	// Initial delays in milliseconds
	ShortDelay   uint64
	LongDelay    uint64
	VerifyTiming bool
	// Clock used by every channel; nil is the wall clock
	Clock timing.Clock
	// Finished sessions are stored here when set
	Archive *archive.Store
	Logger  *slog.Logger
}

type Controller struct {
	opts   Options
	config configData
	log    *slog.Logger

	// Guards current and last, which the session goroutine also reads
	mu      sync.Mutex
	current *session.Session
	last    *session.Snapshot

	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	clientLock sync.Mutex
	waitGroup  sync.WaitGroup
	clientStop chan interface{}
	recvStop   chan interface{}
	sendStop   chan interface{}
	doneWsSend chan interface{}
	doneWsRecv chan interface{}
	wsSend     chan []byte
	wsRecv     chan []byte
}
