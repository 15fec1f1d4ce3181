package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/iris/internal/notification"
)

func newTestRouter(t *testing.T) (*Router, string) {
	t.Helper()
	r := NewRouter(Options{Logger: zaptest.NewLogger(t), AllowAnyOrigin: true})
	ts := httptest.NewServer(r.Routes())
	t.Cleanup(func() {
		r.Close()
		ts.Close()
	})
	return r, "ws" + strings.TrimPrefix(ts.URL, "http") + "/api"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// dialActive dials and waits until the server answers on the new
// connection, which only happens once it holds the active slot.
func dialActive(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws := dial(t, url)
	send(t, ws, `ping`)
	if got := readReply(t, ws); got.Event != "error" {
		t.Fatalf("handshake reply = %+v, want error", got)
	}
	return ws
}

func send(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func readReply(t *testing.T, ws *websocket.Conn) reply {
	t.Helper()
	var r reply
	readJSON(t, ws, &r)
	return r
}

type captured struct {
	mu   sync.Mutex
	cmds []Command
}

func (c *captured) handler(_ context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	return nil
}

func (c *captured) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cmds)
}

func (c *captured) last() Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmds[len(c.cmds)-1]
}

func TestDispatchesValidatedCommands(t *testing.T) {
	r, url := newTestRouter(t)
	got := &captured{}
	for _, k := range []Kind{KindCall, KindNotify, KindClearNotification, KindReplay} {
		r.Handle(k, got.handler)
	}
	ws := dialActive(t, url)

	send(t, ws, `{"command":"call","target":"mobile_app_pixel","payload":{"text":"Dinner is ready","actions":[{"id":"1","text":"Coming"}],"language":"nl"}}`)
	if rep := readReply(t, ws); rep.Event != "success" {
		t.Fatalf("call reply = %+v, want success", rep)
	}
	cmd := got.last()
	if cmd.Kind != KindCall || cmd.Target != "mobile_app_pixel" || cmd.Call.Text != "Dinner is ready" || cmd.Call.Language != "nl" {
		t.Fatalf("call command = %+v / %+v", cmd, cmd.Call)
	}
	if len(cmd.Call.Actions) != 1 || cmd.Call.Actions[0].ID != "1" {
		t.Fatalf("call actions = %+v", cmd.Call.Actions)
	}

	send(t, ws, `{"command":"notify","target":"phone","payload":{"id":"door","title":"Door","icon":"mdi:door","text":"Front door open","actions":[],"channel":"alerts","isPersistent":true,"isSticky":false}}`)
	if rep := readReply(t, ws); rep.Event != "success" {
		t.Fatalf("notify reply = %+v, want success", rep)
	}
	n := got.last().Notification()
	if n.ID != "door" || n.Target != "phone" || n.Channel != "alerts" || !n.IsPersistent {
		t.Fatalf("notification = %+v", n)
	}

	send(t, ws, `{"command":"unNotify","target":"phone","payload":{"id":"door"}}`)
	if rep := readReply(t, ws); rep.Event != "success" {
		t.Fatalf("unNotify reply = %+v, want success", rep)
	}
	if cmd := got.last(); cmd.Kind != KindClearNotification || cmd.Clear.ID != "door" {
		t.Fatalf("unNotify command = %+v", cmd)
	}

	send(t, ws, `{"command":"replay","target":"phone"}`)
	if rep := readReply(t, ws); rep.Event != "success" {
		t.Fatalf("replay reply = %+v, want success", rep)
	}
	if cmd := got.last(); cmd.Kind != KindReplay || cmd.Replay != nil {
		t.Fatalf("replay command = %+v", cmd)
	}

	send(t, ws, `{"command":"replay","target":"phone","payload":{"id":"door"}}`)
	readReply(t, ws)
	if cmd := got.last(); cmd.Replay == nil || cmd.Replay.ID != "door" {
		t.Fatalf("replay with id = %+v", cmd)
	}
}

func TestInvalidMessagesGetGenericErrorAndKeepConnection(t *testing.T) {
	r, url := newTestRouter(t)
	got := &captured{}
	r.Handle(KindNotify, got.handler)
	ws := dialActive(t, url)

	for _, raw := range []string{
		`not json`,
		`[1,2]`,
		`{"target":"phone"}`,
		`{"command":"dance","target":"phone"}`,
		`{"command":"notify","target":"phone","payload":{"id":"a"}}`,
		`{"command":"notify","target":"phone","payload":{"id":"a","title":"t","icon":"i","text":"x","actions":[],"isPersistent":"yes","isSticky":false}}`,
		`{"command":"clear-notification","target":"phone","payload":{"id":"a","extra":1}}`,
		`{"command":"call","payload":{"text":"hi","actions":[]}}`,
		`{"command":"call","target":"phone","payload":{"text":"hi","actions":null}}`,
		`{"command":"notify","target":"phone","payload":{"id":"a","title":"t","icon":"i","text":"x","actions":null,"isPersistent":false,"isSticky":false}}`,
	} {
		send(t, ws, raw)
		rep := readReply(t, ws)
		if rep.Event != "error" || rep.ErrorMessage != replyParseError {
			t.Fatalf("%s: reply = %+v, want parse error", raw, rep)
		}
	}

	send(t, ws, `{"command":"notify","target":"phone","payload":{"id":"a","title":"t","icon":"i","text":"x","actions":[],"isPersistent":false,"isSticky":false}}`)
	if rep := readReply(t, ws); rep.Event != "success" {
		t.Fatalf("reply after errors = %+v, want success", rep)
	}
	if n := got.count(); n != 1 {
		t.Fatalf("handled %d commands, want 1", n)
	}
}

func TestHandlerFailuresAreReported(t *testing.T) {
	r, url := newTestRouter(t)
	r.Handle(KindReplay, func(context.Context, Command) error { return errors.New("store offline") })
	r.Handle(KindCall, func(context.Context, Command) error { panic("boom") })
	ws := dialActive(t, url)

	for _, raw := range []string{
		`{"command":"replay","target":"phone"}`,
		`{"command":"call","target":"phone","payload":{"text":"hi","actions":[]}}`,
		`{"command":"clear-notification","target":"phone","payload":{"id":"x"}}`,
	} {
		send(t, ws, raw)
		rep := readReply(t, ws)
		if rep.Event != "error" || rep.ErrorMessage != replyHandlerError {
			t.Fatalf("%s: reply = %+v, want handler error", raw, rep)
		}
	}
	if !r.Connected() {
		t.Fatalf("handler failure closed the hub connection")
	}
}

func TestNewConnectionEvictsPrevious(t *testing.T) {
	r, url := newTestRouter(t)
	first := dialActive(t, url)
	second := dialActive(t, url)

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("first connection read error = %v, want close error", err)
	}
	if ce.Code != websocket.ClosePolicyViolation || ce.Text != closeReasonReplaced {
		t.Fatalf("close = %d %q, want %d %q", ce.Code, ce.Text, websocket.ClosePolicyViolation, closeReasonReplaced)
	}

	if err := r.UnNotify("phone", "a"); err != nil {
		t.Fatalf("UnNotify() error = %v", err)
	}
	var msg struct {
		Command string          `json:"command"`
		Payload unNotifyPayload `json:"payload"`
	}
	readJSON(t, second, &msg)
	if msg.Command != OutUnNotify || msg.Payload.Target != "phone" || msg.Payload.ID != "a" {
		t.Fatalf("outbound = %+v", msg)
	}
}

func TestEvictionCompletesBeforeSendsReachNewConnection(t *testing.T) {
	r, url := newTestRouter(t)
	dialActive(t, url)
	r.mu.Lock()
	oldConn := r.active
	r.mu.Unlock()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = r.UnNotify("phone", "busy")
			time.Sleep(time.Millisecond)
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	second := dial(t, url)
	for {
		var msg struct {
			Command string `json:"command"`
		}
		readJSON(t, second, &msg)
		if msg.Command == OutUnNotify {
			break
		}
	}
	if err := oldConn.write([]byte(`{}`)); err == nil {
		t.Fatalf("old connection still writable after the new one received a frame")
	}
}

func TestSendWithoutHubFails(t *testing.T) {
	r := NewRouter(Options{})
	if err := r.Notify(notification.Notification{ID: "a", Target: "phone"}); !errors.Is(err, ErrNoActiveConnection) {
		t.Fatalf("Notify() error = %v, want ErrNoActiveConnection", err)
	}
	if err := r.TriggerCall("phone", "ws://gw?token=x"); !errors.Is(err, ErrNoActiveConnection) {
		t.Fatalf("TriggerCall() error = %v, want ErrNoActiveConnection", err)
	}
}

func TestDisconnectEmptiesSlot(t *testing.T) {
	r, url := newTestRouter(t)
	ws := dialActive(t, url)
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for r.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("Connected() still true after client close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Send(OutNotify, map[string]string{}); !errors.Is(err, ErrNoActiveConnection) {
		t.Fatalf("Send() error = %v, want ErrNoActiveConnection", err)
	}
}

func TestCallServiceMessages(t *testing.T) {
	r, url := newTestRouter(t)
	ws := dialActive(t, url)

	if err := r.TriggerCall("mobile_app_pixel", "ws://gw:49190?token=abc"); err != nil {
		t.Fatalf("TriggerCall() error = %v", err)
	}
	var trigger map[string]any
	readJSON(t, ws, &trigger)
	payload := trigger["payload"].(map[string]any)
	data := payload["data"].(map[string]any)
	inner := data["data"].(map[string]any)
	if trigger["command"] != "call-service" || payload["action"] != "mobile_app_pixel" || data["message"] != "command_activity" {
		t.Fatalf("trigger = %v", trigger)
	}
	if inner["intent_uri"] != "iris://trigger-call?url=ws://gw:49190?token=abc" ||
		inner["intent_action"] != "android.intent.action.VIEW" ||
		inner["intent_package_name"] != "com.iris.companion" ||
		inner["priority"] != "high" || inner["ttl"] != float64(0) {
		t.Fatalf("command_activity data = %v", inner)
	}

	if err := r.ClearNotification("mobile_app_pixel", "call-1"); err != nil {
		t.Fatalf("ClearNotification() error = %v", err)
	}
	var clear map[string]any
	readJSON(t, ws, &clear)
	data = clear["payload"].(map[string]any)["data"].(map[string]any)
	inner = data["data"].(map[string]any)
	if data["message"] != "clear_notification" || inner["tag"] != "call-1" || inner["priority"] != "high" {
		t.Fatalf("clear_notification = %v", clear)
	}

	if err := r.CallState(CallStateUpdate{CallID: "1", Target: "mobile_app_pixel", State: "reply", Text: "yes"}); err != nil {
		t.Fatalf("CallState() error = %v", err)
	}
	var state struct {
		Command string          `json:"command"`
		Payload CallStateUpdate `json:"payload"`
	}
	readJSON(t, ws, &state)
	if state.Command != OutCallState || state.Payload.State != "reply" || state.Payload.Text != "yes" {
		t.Fatalf("callState = %+v", state)
	}
}
