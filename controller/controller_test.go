package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/whispernet/whispernet/controller/archive"
	"github.com/whispernet/whispernet/controller/capture"
	"github.com/whispernet/whispernet/controller/channel/timing"
	"github.com/whispernet/whispernet/controller/channel/timing/timingtest"
	"github.com/whispernet/whispernet/controller/codec"
	"github.com/whispernet/whispernet/controller/session"
)

var epoch time.Time = time.UnixMilli(1700000000000)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdown(t *testing.T) {
	ctr, err := CreateController(Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Unexpected open error: %s", err.Error())
	}
	if err = ctr.Shutdown(); err != nil {
		t.Errorf("Unexpected close error: %s", err.Error())
	}
}

func TestCreateControllerInvalid(t *testing.T) {
	if _, err := CreateController(Options{ShortDelay: 100000, Logger: quietLogger()}); err == nil {
		t.Errorf("err = nil; want error for out of range delay")
	}
}

func TestCreateControllerOptions(t *testing.T) {
	ctr, err := CreateController(Options{ShortDelay: 20, VerifyTiming: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("err = '%s'; want nil", err.Error())
	}
	defer ctr.Shutdown()

	ch := ctr.config.Data.Channel
	if ch.ShortDelay.Value != 20 || ch.LongDelay.Value != 300 {
		t.Errorf("delays = %d/%d; want 20/300", ch.ShortDelay.Value, ch.LongDelay.Value)
	}
	if ch.ShortDelay.Range != timing.GetDefault().ShortDelay.Range || ch.ShortDelay.Display != timing.GetDefault().ShortDelay.Display {
		t.Errorf("ShortDelay = %+v; want the default range and display", ch.ShortDelay)
	}
	if !ctr.config.Data.Session.VerifyTiming.Value {
		t.Errorf("VerifyTiming = false; want true")
	}
}

// Serve ctr and dial its websocket; everything is closed when the test ends
func openConn(t *testing.T, ctr *Controller) (*websocket.Conn, *httptest.Server) {
	r := mux.NewRouter()
	ctr.Register(r)
	srv := httptest.NewServer(r)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		srv.Close()
		t.Fatalf("Unexpected dial error: %s", err.Error())
	}
	t.Cleanup(func() {
		client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		client.Close()
		if err := ctr.Shutdown(); err != nil {
			t.Errorf("Unexpected controller close error: %s", err.Error())
		}
		srv.Close()
	})
	return client, srv
}

func writeTestMsg(t *testing.T, client *websocket.Conn, d interface{}) {
	var (
		data []byte
		err  error
	)
	if s, ok := d.(string); ok {
		data = []byte(s)
	} else if data, err = json.Marshal(d); err != nil {
		t.Fatalf("Unexpected marshal error: %s", err.Error())
	}
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Unexpected write error: %s", err.Error())
	}
}

// Read messages until match accepts one, and return it
func readUntil(t *testing.T, client *websocket.Conn, match func(opcode string, data []byte) bool) []byte {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("Unexpected read error: %s", err.Error())
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			t.Fatalf("Unexpected unmarshal error: %s", err.Error())
		}
		if match(cmd.OpCode, data) {
			return data
		}
	}
}

func checkMsgType(t *testing.T, client *websocket.Conn, opcode string, msg string) {
	t.Helper()
	data := readUntil(t, client, func(op string, _ []byte) bool { return op == opcode || op == "error" })
	var mt messageType
	if err := json.Unmarshal(data, &mt); err != nil {
		t.Fatalf("Unexpected unmarshal error: %s", err.Error())
	}
	if mt.OpCode != opcode {
		t.Errorf("message does not have correct opcode: %s (%s), want %s", mt.OpCode, mt.Message, opcode)
	}
	if msg != "" && mt.Message != msg {
		t.Errorf("message does not have correct message: %s, want %s", mt.Message, msg)
	}
}

// Read updates until one is in the given state, or has n packets when n >= 0
func readUpdate(t *testing.T, client *websocket.Conn, state session.State, n int) updateType {
	t.Helper()
	var ut updateType
	readUntil(t, client, func(op string, data []byte) bool {
		if op != "update" {
			return false
		}
		if err := json.Unmarshal(data, &ut); err != nil {
			t.Fatalf("Unexpected unmarshal error: %s", err.Error())
		}
		return ut.State == state && (n < 0 || len(ut.Packets) == n)
	})
	return ut
}

func TestRetrieveConfig(t *testing.T) {
	ctr, _ := CreateController(Options{Logger: quietLogger()})
	client, _ := openConn(t, ctr)

	writeTestMsg(t, client, "{\"OpCode\" : \"config\"}")
	data := readUntil(t, client, func(op string, _ []byte) bool { return op == "config" })

	var conf configData
	if err := json.Unmarshal(data, &conf); err != nil {
		t.Fatalf("Unexpected unmarshal error: %s", err.Error())
	}
	if !reflect.DeepEqual(conf, DefaultConfig()) {
		t.Errorf("Configs do not match error: \n%v, \n%v", conf, DefaultConfig())
	}
}

func TestUnknownOpCode(t *testing.T) {
	ctr, _ := CreateController(Options{Logger: quietLogger()})
	client, _ := openConn(t, ctr)

	writeTestMsg(t, client, "{\"OpCode\" : \"open\"}")
	checkMsgType(t, client, "error", "Unknown operation code")
	writeTestMsg(t, client, "not json")
	checkMsgType(t, client, "error", "")
}

func TestStateIdle(t *testing.T) {
	ctr, _ := CreateController(Options{Logger: quietLogger()})
	client, _ := openConn(t, ctr)

	writeTestMsg(t, client, "{\"OpCode\" : \"state\"}")
	data := readUntil(t, client, func(op string, _ []byte) bool { return op == "state" })
	var ut updateType
	if err := json.Unmarshal(data, &ut); err != nil {
		t.Fatalf("Unexpected unmarshal error: %s", err.Error())
	}
	if ut.State != session.Idle || ut.ID != "" {
		t.Errorf("state = %s %q; want idle with no session", ut.State, ut.ID)
	}
}

func TestStartHi(t *testing.T) {
	ctr, _ := CreateController(Options{Clock: timingtest.NewInstantClock(epoch), Logger: quietLogger()})
	client, _ := openConn(t, ctr)

	writeTestMsg(t, client, startType{OpCode: "start", Message: "Hi", Data: DefaultConfig().Data})
	ut := readUpdate(t, client, session.Complete, -1)

	if len(ut.Packets) != 16 {
		t.Errorf("len(Packets) = %d; want 16", len(ut.Packets))
	}
	if ut.Bits != "0100100001101001" {
		t.Errorf("Bits = %s; want 0100100001101001", ut.Bits)
	}
	if ut.Decoder.Text != "Hi" || ut.Decoder.BufferDisplay != "Empty" || ut.Decoder.StateLabel != "START" {
		t.Errorf("Decoder = %+v; want Hi with an empty buffer", ut.Decoder)
	}
	if ut.Decoder.BytesDecoded != 2 || ut.Stats.BytesDecoded != 2 {
		t.Errorf("BytesDecoded = %d/%d; want 2", ut.Decoder.BytesDecoded, ut.Stats.BytesDecoded)
	}
	if ut.Start != epoch.UnixMilli() {
		t.Errorf("Start = %d; want %d", ut.Start, epoch.UnixMilli())
	}

	writeTestMsg(t, client, "{\"OpCode\" : \"state\"}")
	data := readUntil(t, client, func(op string, _ []byte) bool { return op == "state" })
	var st updateType
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("Unexpected unmarshal error: %s", err.Error())
	}
	if st.ID != ut.ID || st.State != session.Complete {
		t.Errorf("state = %s %s; want %s complete", st.ID, st.State, ut.ID)
	}
}

func TestStartRejected(t *testing.T) {
	ctr, _ := CreateController(Options{Clock: timingtest.NewInstantClock(epoch), Logger: quietLogger()})
	client, _ := openConn(t, ctr)

	writeTestMsg(t, client, "{\"OpCode\" : \"start\", \"Message\" : \"  \"}")
	checkMsgType(t, client, "error", "Unable to start transmission: "+ErrBlankMessage.Error())

	writeTestMsg(t, client, "{\"OpCode\" : \"start\", \"Message\" : \"snow ☃\"}")
	enc := &codec.EncodingError{Index: 5, Char: '☃'}
	checkMsgType(t, client, "error", "Unable to start transmission: "+enc.Error())

	writeTestMsg(t, client, "{\"OpCode\" : \"start\", \"Message\" : \"a\", \"Data\" : {\"Channel\" : {\"ShortDelay\" : {\"Value\" : 0}}}}")
	checkMsgType(t, client, "error", "")

	// Nothing was started
	writeTestMsg(t, client, "{\"OpCode\" : \"stop\"}")
	checkMsgType(t, client, "stop", "No transmission in progress")
}

// Only values are taken from the client
func TestStartKeepsRanges(t *testing.T) {
	ctr, _ := CreateController(Options{Clock: timingtest.NewInstantClock(epoch), Logger: quietLogger()})
	client, _ := openConn(t, ctr)

	data := DefaultConfig().Data
	data.Channel.ShortDelay.Value = 20
	data.Channel.LongDelay.Value = 80
	data.Channel.LongDelay.Range = [2]uint64{0, 1}
	writeTestMsg(t, client, startType{OpCode: "start", Message: "A", Data: data})
	ut := readUpdate(t, client, session.Complete, -1)
	if ut.Packets[0].Delay != 20 || ut.Packets[1].Delay != 80 {
		t.Errorf("delays = %d/%d; want 20/80", ut.Packets[0].Delay, ut.Packets[1].Delay)
	}

	writeTestMsg(t, client, "{\"OpCode\" : \"config\"}")
	raw := readUntil(t, client, func(op string, _ []byte) bool { return op == "config" })
	var conf configData
	if err := json.Unmarshal(raw, &conf); err != nil {
		t.Fatalf("Unexpected unmarshal error: %s", err.Error())
	}
	if conf.Data.Channel.LongDelay.Value != 80 || conf.Data.Channel.LongDelay.Range != timing.GetDefault().LongDelay.Range {
		t.Errorf("LongDelay = %+v; want value 80 with the default range", conf.Data.Channel.LongDelay)
	}
}

func TestStopAndRestart(t *testing.T) {
	clock := timingtest.NewGatedClock(epoch)
	ctr, _ := CreateController(Options{Clock: clock, Logger: quietLogger()})
	client, _ := openConn(t, ctr)

	writeTestMsg(t, client, "{\"OpCode\" : \"start\", \"Message\" : \"Hi\"}")
	first := readUpdate(t, client, session.Transmitting, 0)
	for i := 0; i < 3; i++ {
		if !clock.TickTimeout(5 * time.Second) {
			t.Fatalf("Tick %d not consumed", i)
		}
	}
	readUpdate(t, client, session.Transmitting, 3)

	writeTestMsg(t, client, "{\"OpCode\" : \"stop\"}")
	ut := readUpdate(t, client, session.Cancelled, -1)
	if ut.ID != first.ID || len(ut.Packets) != 3 || ut.Decoder.Buffer != "010" {
		t.Errorf("cancelled update = %s %d %q; want %s with 3 packets", ut.ID, len(ut.Packets), ut.Decoder.Buffer, first.ID)
	}
	checkMsgType(t, client, "stop", "Stop success")

	writeTestMsg(t, client, "{\"OpCode\" : \"stop\"}")
	checkMsgType(t, client, "stop", "No transmission in progress")

	// Starting while transmitting replaces the running session
	writeTestMsg(t, client, "{\"OpCode\" : \"start\", \"Message\" : \"A\"}")
	second := readUpdate(t, client, session.Transmitting, 0)
	writeTestMsg(t, client, "{\"OpCode\" : \"start\", \"Message\" : \"B\"}")
	cancelled := readUpdate(t, client, session.Cancelled, -1)
	if cancelled.ID != second.ID {
		t.Errorf("cancelled %s; want %s", cancelled.ID, second.ID)
	}
	third := readUpdate(t, client, session.Transmitting, 0)
	if third.ID == second.ID {
		t.Errorf("restart reused session %s", third.ID)
	}
}

func TestArchiveRoutes(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("err = '%s'; want nil", err.Error())
	}
	defer store.Close()

	ctr, _ := CreateController(Options{Clock: timingtest.NewInstantClock(epoch), Archive: store, Logger: quietLogger()})
	client, srv := openConn(t, ctr)

	writeTestMsg(t, client, "{\"OpCode\" : \"start\", \"Message\" : \"Hi\"}")
	ut := readUpdate(t, client, session.Complete, -1)

	resp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("err = '%s'; want nil", err.Error())
	}
	var list []archive.Summary
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0].ID != ut.ID || list[0].Text != "Hi" || list[0].Packets != 16 {
		t.Errorf("sessions = %+v; want the completed session", list)
	}

	resp, err = http.Get(srv.URL + "/api/sessions/" + ut.ID)
	if err != nil {
		t.Fatalf("err = '%s'; want nil", err.Error())
	}
	var rec archive.Record
	json.NewDecoder(resp.Body).Decode(&rec)
	resp.Body.Close()
	if rec.State != session.Complete || rec.ShortDelay != 100 || rec.LongDelay != 300 || rec.Bits != ut.Bits {
		t.Errorf("record = %+v", rec)
	}

	// The capture can be demodulated by a receiver sharing the delays
	resp, err = http.Get(srv.URL + "/api/sessions/" + ut.ID + "/capture")
	if err != nil {
		t.Fatalf("err = '%s'; want nil", err.Error())
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	start, arrivals, err := capture.Read(bytes.NewReader(body), capture.DefaultCarrier())
	if err != nil {
		t.Fatalf("capture err = '%s'; want nil", err.Error())
	}
	ch, _ := timing.ToChannel(timing.GetDefault(), nil)
	bits, err := ch.Receive(start, arrivals)
	if err != nil {
		t.Fatalf("Receive err = '%s'; want nil", err.Error())
	}
	if text, _ := codec.Decode(bits); text != "Hi" {
		t.Errorf("captured text = %q; want \"Hi\"", text)
	}

	resp, _ = http.Get(srv.URL + "/api/sessions/missing")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d; want 404", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+ut.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("err = '%s'; want nil", err.Error())
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d; want 204", resp.StatusCode)
	}
	if _, err := store.Get(ut.ID); err != archive.ErrNotFound {
		t.Errorf("err = %v; want ErrNotFound after delete", err)
	}
}

func TestArchiveDisabled(t *testing.T) {
	ctr, _ := CreateController(Options{Logger: quietLogger()})
	_, srv := openConn(t, ctr)

	resp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("err = '%s'; want nil", err.Error())
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d; want 404", resp.StatusCode)
	}
}

func TestFailedWriteDropsClient(t *testing.T) {
	saved := writeWait
	// Every write misses its deadline
	writeWait = -time.Second
	t.Cleanup(func() { writeWait = saved })

	ctr, _ := CreateController(Options{Logger: quietLogger()})
	client, _ := openConn(t, ctr)

	writeTestMsg(t, client, "{\"OpCode\" : \"config\"}")
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Errorf("read err = nil; want the connection closed")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		ctr.clientLock.Lock()
		n := len(ctr.clients)
		ctr.clientLock.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d; want 0", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
