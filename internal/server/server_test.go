package server_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/router"
	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/server"
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/config"
	"github.com/coder/websocket"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeJudge0 answers the submit/poll protocol immediately with the given
// stdout, or stays "Processing" forever when neverFinish is set.
func fakeJudge0(t *testing.T, stdout string, neverFinish bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submissions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("GET /submissions/tok", func(w http.ResponseWriter, r *http.Request) {
		if neverFinish {
			json.NewEncoder(w).Encode(map[string]any{
				"status": map[string]any{"id": 1, "description": "In Queue"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"stdout": base64.StdEncoding.EncodeToString([]byte(stdout)),
			"status": map[string]any{"id": 3, "description": "Accepted"},
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func fakeAI(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": answer}},
			},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.Server.Address = ":0"
	if cfg.Transport.ReadTimeout == 0 {
		cfg.Transport.ReadTimeout = 30 * time.Second
	}
	if cfg.Judge0.PollInterval == 0 {
		cfg.Judge0.PollInterval = 5 * time.Millisecond
	}
	if cfg.Judge0.MaxPollAttempts == 0 {
		cfg.Judge0.MaxPollAttempts = 20
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 2 * time.Second
	}

	app := server.NewApp(newTestLogger(), context.Background(), cfg)
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "")
	})
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event, payload string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg := fmt.Sprintf(`{"event": %q, "payload": %s}`, event, payload)
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) router.ClientMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg router.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return msg
}

func expectEvent(t *testing.T, conn *websocket.Conn, event string) router.ClientMessage {
	t.Helper()
	msg := readEvent(t, conn)
	if msg.Event != event {
		t.Fatalf("expected %s, got %s (payload %s)", event, msg.Event, msg.Payload)
	}
	return msg
}

type presence struct {
	Users []struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	} `json:"users"`
	Message string `json:"message"`
}

func decodePresence(t *testing.T, msg router.ClientMessage) presence {
	t.Helper()
	var p presence
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("bad presence payload: %v", err)
	}
	return p
}

func decodeLoadCode(t *testing.T, msg router.ClientMessage) string {
	t.Helper()
	var text string
	if err := json.Unmarshal(msg.Payload, &text); err != nil {
		t.Fatalf("bad load-code payload: %v", err)
	}
	return text
}

// join sends join-room and consumes the joiner's own user-joined and
// load-code events, returning the snapshot text.
func join(t *testing.T, conn *websocket.Conn, roomID, username string) string {
	t.Helper()
	sendEvent(t, conn, "join-room", fmt.Sprintf(`{"roomId": %q, "username": %q}`, roomID, username))
	expectEvent(t, conn, "user-joined")
	return decodeLoadCode(t, expectEvent(t, conn, "load-code"))
}

func TestRoomScenario(t *testing.T) {
	ts := newTestServer(t, nil)

	// A joins r1 and gets the presence broadcast plus an empty snapshot.
	connA := dial(t, ts)
	sendEvent(t, connA, "join-room", `{"roomId": "r1", "username": "alice"}`)
	joined := decodePresence(t, expectEvent(t, connA, "user-joined"))
	if len(joined.Users) != 1 || joined.Users[0].Username != "alice" {
		t.Fatalf("unexpected presence: %+v", joined)
	}
	if text := decodeLoadCode(t, expectEvent(t, connA, "load-code")); text != "" {
		t.Fatalf("new room should start empty, got %q", text)
	}

	// B joins; both sides converge on the same two-member list.
	connB := dial(t, ts)
	if text := join(t, connB, "r1", "bob"); text != "" {
		t.Fatalf("B's snapshot should be empty, got %q", text)
	}
	joined = decodePresence(t, expectEvent(t, connA, "user-joined"))
	if len(joined.Users) != 2 {
		t.Fatalf("A should see 2 members, got %+v", joined)
	}

	// A edits; B receives the update.
	sendEvent(t, connA, "code-change", `{"roomId": "r1", "code": "print(1)"}`)
	update := expectEvent(t, connB, "code-update")
	var code struct {
		Code string `json:"code"`
	}
	json.Unmarshal(update.Payload, &code)
	if code.Code != "print(1)" {
		t.Fatalf("B got wrong code: %q", code.Code)
	}

	// B disconnects. A's next event must be user-left — not a code-update
	// echo, which proves the sender exclusion held.
	connB.Close(websocket.StatusNormalClosure, "")
	left := decodePresence(t, expectEvent(t, connA, "user-left"))
	if len(left.Users) != 1 || left.Users[0].Username != "alice" {
		t.Fatalf("unexpected user-left presence: %+v", left)
	}
	if !strings.Contains(left.Message, "bob") {
		t.Fatalf("user-left message should name bob: %q", left.Message)
	}

	// A disconnects too; the room must be destroyed, so a later join finds
	// a fresh room with empty text instead of "print(1)".
	connA.Close(websocket.StatusNormalClosure, "")
	time.Sleep(200 * time.Millisecond)

	connC := dial(t, ts)
	if text := join(t, connC, "r1", "carol"); text != "" {
		t.Fatalf("destroyed room leaked its text: %q", text)
	}
}

func TestLateJoinerReceivesSnapshot(t *testing.T) {
	ts := newTestServer(t, nil)

	connA := dial(t, ts)
	join(t, connA, "r1", "alice")
	sendEvent(t, connA, "code-change", `{"roomId": "r1", "code": "x = 42"}`)

	// Writes are applied on the sender's read loop before the next event is
	// handled, but give the server a beat to process before B joins.
	time.Sleep(100 * time.Millisecond)

	connB := dial(t, ts)
	if text := join(t, connB, "r1", "bob"); text != "x = 42" {
		t.Fatalf("late joiner should get the current text, got %q", text)
	}
}

func TestCursorFanOut(t *testing.T) {
	ts := newTestServer(t, nil)

	connA := dial(t, ts)
	join(t, connA, "r1", "alice")
	connB := dial(t, ts)
	join(t, connB, "r1", "bob")
	expectEvent(t, connA, "user-joined") // from B's join

	sendEvent(t, connA, "cursor-move", `{"roomId": "r1", "position": {"lineNumber": 3, "column": 7}}`)

	update := expectEvent(t, connB, "cursor-update")
	var cursor struct {
		UserID   string `json:"userId"`
		Position struct {
			LineNumber int `json:"lineNumber"`
			Column     int `json:"column"`
		} `json:"position"`
	}
	if err := json.Unmarshal(update.Payload, &cursor); err != nil {
		t.Fatalf("bad cursor payload: %v", err)
	}
	if cursor.UserID == "" {
		t.Error("cursor-update missing userId")
	}
	if cursor.Position.LineNumber != 3 || cursor.Position.Column != 7 {
		t.Errorf("position not forwarded verbatim: %+v", cursor.Position)
	}
}

func TestRejoinReplaysSnapshot(t *testing.T) {
	ts := newTestServer(t, nil)

	connA := dial(t, ts)
	join(t, connA, "r1", "alice")
	sendEvent(t, connA, "code-change", `{"roomId": "r1", "code": "v1"}`)
	time.Sleep(100 * time.Millisecond)

	// Joining the same room again is idempotent on membership but replays
	// the presence broadcast and snapshot.
	sendEvent(t, connA, "join-room", `{"roomId": "r1", "username": "alice"}`)
	rejoined := decodePresence(t, expectEvent(t, connA, "user-joined"))
	if len(rejoined.Users) != 1 {
		t.Fatalf("re-join duplicated the member: %+v", rejoined)
	}
	if text := decodeLoadCode(t, expectEvent(t, connA, "load-code")); text != "v1" {
		t.Fatalf("re-join snapshot should carry current text, got %q", text)
	}
}

func TestJoinMovesConnectionBetweenRooms(t *testing.T) {
	ts := newTestServer(t, nil)

	connA := dial(t, ts)
	join(t, connA, "room-a", "alice")
	connB := dial(t, ts)
	join(t, connB, "room-a", "bob")
	expectEvent(t, connA, "user-joined")

	// B moves to room-b without an explicit leave; A learns of it.
	join(t, connB, "room-b", "bob")
	left := decodePresence(t, expectEvent(t, connA, "user-left"))
	if len(left.Users) != 1 || left.Users[0].Username != "alice" {
		t.Fatalf("unexpected remaining members: %+v", left)
	}
}

func TestAIRelayIsUnicast(t *testing.T) {
	aiBackend := fakeAI(t, "AI says hi")
	ts := newTestServer(t, &config.Config{
		AI: config.AIConfig{BaseURL: aiBackend.URL, Model: "test"},
	})

	connA := dial(t, ts)
	join(t, connA, "r1", "alice")
	connB := dial(t, ts)
	join(t, connB, "r1", "bob")
	expectEvent(t, connA, "user-joined")

	sendEvent(t, connA, "ai-request", `{"prompt": "help", "code": "x=1", "language": "python"}`)
	response := expectEvent(t, connA, "ai-response")
	var ai struct {
		Response string `json:"response"`
	}
	json.Unmarshal(response.Payload, &ai)
	if ai.Response != "AI says hi" {
		t.Fatalf("unexpected AI response: %q", ai.Response)
	}

	// B must not have received the AI response: the next thing B sees after
	// an edit from A is the code-update, nothing in between.
	sendEvent(t, connA, "code-change", `{"roomId": "r1", "code": "done"}`)
	expectEvent(t, connB, "code-update")
}

func TestRunRequestOverSocket(t *testing.T) {
	judge0Backend := fakeJudge0(t, "7\n", false)
	ts := newTestServer(t, &config.Config{
		Judge0: config.Judge0Config{BaseURL: judge0Backend.URL},
	})

	connA := dial(t, ts)
	join(t, connA, "r1", "alice")

	sendEvent(t, connA, "run-request", `{"code": "print(3+4)", "language": "python"}`)
	response := expectEvent(t, connA, "run-response")
	var result struct {
		Stdout string `json:"stdout"`
		Status string `json:"status"`
	}
	json.Unmarshal(response.Payload, &result)
	if result.Stdout != "7\n" || result.Status != "Accepted" {
		t.Fatalf("unexpected run-response: %+v", result)
	}
}

func TestRunCodeEndpoint(t *testing.T) {
	judge0Backend := fakeJudge0(t, "hello\n", false)
	ts := newTestServer(t, &config.Config{
		Judge0: config.Judge0Config{BaseURL: judge0Backend.URL},
	})

	body := bytes.NewBufferString(`{"code": "print('hello')", "language": "python"}`)
	resp, err := http.Post(ts.URL+"/api/run-code", "application/json", body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result struct {
		Stdout string `json:"stdout"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if result.Stdout != "hello\n" || result.Status != "Accepted" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunCodeEndpointValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, body := range []string{`{}`, `{"code": ""}`, `not json`} {
		resp, err := http.Post(ts.URL+"/api/run-code", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestRunCodeEndpointTimeout(t *testing.T) {
	judge0Backend := fakeJudge0(t, "", true)
	ts := newTestServer(t, &config.Config{
		Judge0: config.Judge0Config{
			BaseURL:         judge0Backend.URL,
			PollInterval:    5 * time.Millisecond,
			MaxPollAttempts: 2,
		},
	})

	body := bytes.NewBufferString(`{"code": "while True: pass"}`)
	resp, err := http.Post(ts.URL+"/api/run-code", "application/json", body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

func TestConnectionLimiterRejects(t *testing.T) {
	ts := newTestServer(t, &config.Config{
		Server: config.ServerConfig{
			ConnectionLimit: config.ConnectionLimitConfig{MaxPerIP: 1, Mode: "reject"},
		},
	})

	connA := dial(t, ts)
	// Make sure the first connection is fully registered before dialing again.
	join(t, connA, "r1", "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := websocket.Dial(ctx, wsURL(ts.URL), nil); err == nil {
		t.Fatal("second connection from the same IP should have been rejected")
	}
}
