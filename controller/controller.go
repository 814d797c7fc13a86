// Package controller exposes transmission sessions to a browser client
// over a websocket, and finished sessions over HTTP.
package controller

import (
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/whispernet/whispernet/controller/channel/timing"
	"github.com/whispernet/whispernet/controller/config"
	"github.com/whispernet/whispernet/controller/session"
)

// Constructor for the controller
func CreateController(opts Options) (*Controller, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var ctr *Controller = &Controller{
		opts:       opts,
		config:     DefaultConfig(),
		log:        opts.Logger,
		clients:    make(map[*websocket.Conn]bool),
		clientStop: make(chan interface{}),
		recvStop:   make(chan interface{}),
		sendStop:   make(chan interface{}),
		doneWsSend: make(chan interface{}),
		doneWsRecv: make(chan interface{}),
		wsSend:     make(chan []byte),
		wsRecv:     make(chan []byte),
	}
	// Only values are taken from the options; ranges stay the defaults
	var start timing.ConfigClient = timing.GetDefault()
	if opts.ShortDelay != 0 {
		start.ShortDelay.Value = opts.ShortDelay
	}
	if opts.LongDelay != 0 {
		start.LongDelay.Value = opts.LongDelay
	}
	if err := config.CopyValue(&ctr.config.Data.Channel, start); err != nil {
		return nil, err
	}
	ctr.config.Data.Session.VerifyTiming.Value = opts.VerifyTiming

	// Validate the starting values
	if err := config.ValidateConfigSet(ctr.config.Data); err != nil {
		return nil, err
	}
	go ctr.webReceiveLoop()
	go ctr.webSendLoop()
	return ctr, nil
}

// A default config for the system
func DefaultConfig() configData {
	return configData{
		OpCode: "config",
		Data:   defaultSettings(),
	}
}

func defaultSettings() settingsData {
	return settingsData{
		Channel: timing.GetDefault(),
		Session: session.GetDefault(),
	}
}

// Callback when receiving a message from the client
func (ctr *Controller) handleMessage(data []byte) []byte {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return toMessage("error", "Unable to read command: "+err.Error())
	}

	// Determine the operation to perform
	switch cmd.OpCode {
	case "start":
		if id, err := ctr.handleStart(data); err != nil {
			return toMessage("error", "Unable to start transmission: "+err.Error())
		} else {
			return toMessage("start", id)
		}
	case "stop":
		if stopped, err := ctr.handleStop(); err != nil {
			return toMessage("error", "Unable to stop transmission: "+err.Error())
		} else if !stopped {
			return toMessage("stop", "No transmission in progress")
		} else {
			return toMessage("stop", "Stop success")
		}
	case "config":
		if data, err := ctr.handleConfig(); err != nil {
			return toMessage("error", "Could not encode config: "+err.Error())
		} else {
			return data
		}
	case "state":
		if data, err := ctr.handleState(); err != nil {
			return toMessage("error", "Could not encode state: "+err.Error())
		} else {
			return data
		}
	default:
		return toMessage("error", "Unknown operation code")
	}
}

// A helper function for preparing responses to the client
// opcode is the type of message, and is one of the valid opCodes from the client or "error"
// data is the message
func toMessage(opcode string, data string) []byte {
	var mt messageType
	mt.OpCode = opcode
	mt.Message = data
	if data, err := json.Marshal(mt); err != nil {
		return []byte("{\"OpCode\" : \"error\", \"Message\" : \"Marshal Error\" }")
	} else {
		return data
	}
}

// Handle the config command
func (ctr *Controller) handleConfig() ([]byte, error) {
	return json.Marshal(ctr.config)
}

// Handle the state command with the latest snapshot of the current session
func (ctr *Controller) handleState() ([]byte, error) {
	ctr.mu.Lock()
	last := ctr.last
	ctr.mu.Unlock()

	if last == nil {
		return json.Marshal(updateType{OpCode: "state", State: session.Idle})
	}
	return json.Marshal(toUpdate("state", *last))
}

func toUpdate(opcode string, snap session.Snapshot) updateType {
	return updateType{
		OpCode:  opcode,
		ID:      snap.ID,
		State:   snap.State,
		Start:   snap.Start,
		Packets: snap.Packets,
		Bits:    snap.Bits,
		Decoder: decoderType{
			Text:          snap.Frame.Text,
			Chars:         snap.Frame.Chars,
			Buffer:        snap.Frame.Buffer,
			BufferDisplay: snap.Frame.BufferString(),
			State:         snap.Frame.State,
			StateLabel:    snap.Frame.StateLabel(),
			BytesDecoded:  snap.Frame.BytesDecoded,
		},
		Stats:        snap.Stats,
		TimingBits:   snap.TimingBits,
		TimingErrors: snap.TimingErrors,
	}
}

// Shutdown the controller
func (ctr *Controller) Shutdown() error {
	return ctr.webShutdown()
}
