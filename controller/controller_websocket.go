package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Time allowed to write one message to a client
var writeWait time.Duration = time.Second

// The HTTP handler function for initializing and running the websocket
func (ctr *Controller) HandleFunc(w http.ResponseWriter, r *http.Request) {
	r.Header.Del("Origin")
	ctr.clientLock.Lock()

	select {
	case <-ctr.clientStop:
		ctr.clientLock.Unlock()
		return
	default:
	}
	ctr.waitGroup.Add(1)

	ws, err := ctr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ctr.clientLock.Unlock()
		ctr.waitGroup.Done()
		ctr.log.Warn("websocket upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}

	ctr.clients[ws] = true
	ctr.clientLock.Unlock()
	ctr.log.Info("websocket connected", "remote", r.RemoteAddr)

	defer func() {
		ctr.clientLock.Lock()
		delete(ctr.clients, ws)
		ctr.clientLock.Unlock()
		// Make sure we close the connection when the function returns
		ws.Close()
		ctr.waitGroup.Done()
		ctr.log.Info("websocket disconnected", "remote", r.RemoteAddr)
	}()

loop:
	for {
		_, data, err := ws.ReadMessage()
		if err == nil {
			select {
			case ctr.wsRecv <- data:
			case <-ctr.clientStop:
				break loop
			case <-time.After(time.Second):
				ctr.log.Warn("websocket command dropped", "remote", r.RemoteAddr)
			}
		} else {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ctr.log.Warn("websocket read", "remote", r.RemoteAddr, "err", err)
			}
			break loop
		}
	}
}

// A loop for processing incoming messages from the client
func (ctr *Controller) webReceiveLoop() {
	defer close(ctr.doneWsRecv)

loop:
	for {
		select {
		case <-ctr.recvStop:
			break loop
		case data := <-ctr.wsRecv:
			ctr.broadcast(ctr.handleMessage(data))
		}
	}
}

// Hand a message to the send loop, unless it has been stopped
func (ctr *Controller) broadcast(data []byte) {
	select {
	case ctr.wsSend <- data:
	case <-ctr.sendStop:
	}
}

// A loop for broadcasting outgoing messages along all websockets
func (ctr *Controller) webSendLoop() {
	defer close(ctr.doneWsSend)

loop:
	for {
		select {
		case <-ctr.sendStop:
			break loop
		case data := <-ctr.wsSend:
			ctr.clientLock.Lock()
			for ws := range ctr.clients {
				// A client that cannot take a message in time is dropped;
				// its HandleFunc ends once the connection is closed
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					ctr.log.Warn("websocket write, dropping client", "remote", ws.RemoteAddr().String(), "err", err)
					delete(ctr.clients, ws)
					ws.Close()
				}
			}
			ctr.clientLock.Unlock()
		}
	}
}

// Shutdown the websocket, the current session and all send and receive loops
func (ctr *Controller) webShutdown() error {
	var err error
	ctr.clientLock.Lock()
	close(ctr.clientStop)
	for c := range ctr.clients {
		c.Close()
	}

	ctr.clients = make(map[*websocket.Conn]bool)
	ctr.clientLock.Unlock()

	// Wait until all HandleFunc calls have completed
	ctr.waitGroup.Wait()

	close(ctr.recvStop)

	select {
	case <-ctr.doneWsRecv:
	case <-time.After(time.Second * 5):
		err = errors.New("Failed to stop recv loop")
	}

	// No new session can start now; the send loop still takes its final update
	if _, stopErr := ctr.handleStop(); stopErr != nil && err == nil {
		err = stopErr
	}

	close(ctr.sendStop)

	select {
	case <-ctr.doneWsSend:
	case <-time.After(time.Second * 5):
		err = errors.New("Failed to stop send loop")
	}
	return err
}
