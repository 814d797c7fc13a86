package controller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/whispernet/whispernet/controller/archive"
	"github.com/whispernet/whispernet/controller/channel/timing"
	"github.com/whispernet/whispernet/controller/codec"
	"github.com/whispernet/whispernet/controller/config"
	"github.com/whispernet/whispernet/controller/session"
)

var ErrBlankMessage = errors.New("Please enter a message to transmit")

// How long a stop waits for the session goroutine to finish
const stopTimeout = 5 * time.Second

// Start a new session transmitting the message in data.
// A session that is still transmitting is stopped first.
func (ctr *Controller) handleStart(data []byte) (string, error) {
	// Omitted keys keep their current values
	var st startType = startType{Data: ctr.config.Data}
	if err := json.Unmarshal(data, &st); err != nil {
		return "", err
	}
	if strings.TrimSpace(st.Message) == "" {
		return "", ErrBlankMessage
	}
	// Reject text that cannot be sent before touching the running session
	if _, err := codec.Encode(st.Message); err != nil {
		return "", err
	}

	settings, err := retrieveSettings(st.Data)
	if err != nil {
		return "", err
	}
	ch, err := timing.ToChannel(settings.Channel, ctr.opts.Clock)
	if err != nil {
		return "", err
	}

	if _, err := ctr.handleStop(); err != nil {
		return "", err
	}

	sess, err := session.New(session.Config{
		Channel:      ch,
		OnUpdate:     ctr.onUpdate(settings),
		VerifyTiming: settings.Session.VerifyTiming.Value,
		Logger:       ctr.log,
	})
	if err != nil {
		return "", err
	}
	ctr.mu.Lock()
	ctr.current = sess
	ctr.mu.Unlock()
	if err := sess.Start(st.Message); err != nil {
		return "", err
	}

	// Only the settings that started a session are kept
	ctr.config.Data = settings
	return sess.ID(), nil
}

// Retrieve validated settings. Only the values are taken from the client
// so the ranges and descriptions cannot be overridden.
func retrieveSettings(s settingsData) (settingsData, error) {
	var newSettings settingsData = defaultSettings()
	if err := config.CopyValueSet(&newSettings, s, nil); err != nil {
		return settingsData{}, err
	}
	if err := config.ValidateConfigSet(&newSettings); err != nil {
		return settingsData{}, err
	}
	return newSettings, nil
}

// Stop the current session and wait for its final update.
// Returns false when nothing was transmitting.
func (ctr *Controller) handleStop() (bool, error) {
	ctr.mu.Lock()
	sess := ctr.current
	ctr.mu.Unlock()

	if sess == nil || sess.State() != session.Transmitting {
		return false, nil
	}
	sess.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := sess.Wait(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Publish every snapshot of a session and archive its final state
func (ctr *Controller) onUpdate(settings settingsData) func(session.Snapshot) {
	return func(snap session.Snapshot) {
		ctr.mu.Lock()
		ctr.last = &snap
		ctr.mu.Unlock()

		// Archived before the final update goes out so clients can fetch it
		if snap.State.Terminal() && ctr.opts.Archive != nil {
			rec := archive.FromSnapshot(snap, settings.Channel.ShortDelay.Value, settings.Channel.LongDelay.Value)
			if err := ctr.opts.Archive.Put(rec); err != nil {
				ctr.log.Error("archive session", "session", snap.ID, "err", err)
			}
		}

		if data, err := json.Marshal(toUpdate("update", snap)); err != nil {
			ctr.log.Error("encode update", "session", snap.ID, "err", err)
		} else {
			ctr.broadcast(data)
		}
	}
}
