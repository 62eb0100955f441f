package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/saathi/internal/bridge"
	"github.com/normanking/saathi/internal/config"
	"github.com/normanking/saathi/internal/intent"
	"github.com/normanking/saathi/internal/logging"
	"github.com/normanking/saathi/internal/metrics"
	"github.com/normanking/saathi/internal/stt"
	"github.com/normanking/saathi/internal/tts"
	"github.com/normanking/saathi/internal/voice"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.HelloTimeout = 200 * time.Millisecond
	cfg.Server.AllowedOrigins = []string{"http://allowed.example"}
	cfg.Timing = config.TimingConfig{
		ThinkingDelay:   30 * time.Millisecond,
		SpeakDelay:      10 * time.Millisecond,
		TranscriptDelay: 10 * time.Millisecond,
		WelcomeDelay:    10 * time.Millisecond,
	}
	return cfg
}

func testServer(t *testing.T) *Server {
	t.Helper()
	return New(testConfig(), nil, "test", zerolog.Nop())
}

func startTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Sessions().CloseAll()
		ts.Close()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn

	mu     sync.Mutex
	frames []bridge.Frame
}

func dial(t *testing.T, ts *httptest.Server, hello bridge.Hello) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: t, conn: conn}
	go func() {
		for {
			var f bridge.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			c.mu.Lock()
			c.frames = append(c.frames, f)
			c.mu.Unlock()
		}
	}()

	c.send(bridge.FrameHello, hello)
	c.waitFor("welcome", func(f bridge.Frame) bool { return f.Type == FrameWelcome })
	return c
}

func (c *testClient) send(typ string, v any) {
	c.t.Helper()
	f, err := bridge.NewFrame(typ, v)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(f))
}

// waitFor returns the first received frame matching pred
func (c *testClient) waitFor(desc string, pred func(bridge.Frame) bool) bridge.Frame {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, f := range c.frames {
			if pred(f) {
				c.mu.Unlock()
				return f
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatalf("timed out waiting for %s", desc)
	return bridge.Frame{}
}

func (c *testClient) waitSnapshot(desc string, pred func(voice.Snapshot) bool) voice.Snapshot {
	c.t.Helper()
	var snap voice.Snapshot
	c.waitFor(desc, func(f bridge.Frame) bool {
		if f.Type != FrameSnapshot {
			return false
		}
		var s voice.Snapshot
		if json.Unmarshal(f.Data, &s) != nil || !pred(s) {
			return false
		}
		snap = s
		return true
	})
	return snap
}

func (c *testClient) waitUtterance(text string) tts.Utterance {
	c.t.Helper()
	var u tts.Utterance
	c.waitFor("speak "+text, func(f bridge.Frame) bool {
		return f.Type == bridge.FrameTTSSpeak && json.Unmarshal(f.Data, &u) == nil && u.Text == text
	})
	return u
}

func (c *testClient) waitResult(command string) ResultPayload {
	c.t.Helper()
	var res ResultPayload
	c.waitFor("result "+command, func(f bridge.Frame) bool {
		return f.Type == FrameResult && json.Unmarshal(f.Data, &res) == nil && res.Command == command
	})
	return res
}

func lastOf(s voice.Snapshot) voice.Message {
	return s.Messages[len(s.Messages)-1]
}

func TestNew(t *testing.T) {
	srv := testServer(t)
	require.NotNil(t, srv)
	assert.Equal(t, "127.0.0.1:0", srv.httpServer.Addr)
}

func TestHealthHandler(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.healthHandler(w, req)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hr HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hr))
	assert.Equal(t, "healthy", hr.Status)
	assert.Equal(t, "test", hr.Version)
	assert.Zero(t, hr.Sessions)
	assert.True(t, hr.Services["intent"].Healthy)
}

func TestHandlersRejectNonGet(t *testing.T) {
	srv := testServer(t)
	for _, path := range []string{"/health", "/api/quick-actions", "/api/topics", "/api/logs"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}

func TestQuickActionsHandler(t *testing.T) {
	srv := testServer(t)
	w := httptest.NewRecorder()
	srv.quickActionsHandler(w, httptest.NewRequest(http.MethodGet, "/api/quick-actions", nil))

	var resp QuickActionsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, intent.QuickActions(), resp.QuickActions)
}

func TestTopicsHandler(t *testing.T) {
	srv := testServer(t)
	w := httptest.NewRecorder()
	srv.topicsHandler(w, httptest.NewRequest(http.MethodGet, "/api/topics", nil))

	var resp TopicsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Topics, len(intent.DefaultTopics()))
	assert.Equal(t, intent.TopicElectricity, resp.Topics[0].Name)
	assert.Equal(t, intent.FallbackReply, resp.Fallback)
}

func testLogs(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(&logging.Config{Level: logging.LevelDebug, MaxHistory: 50})
	require.NoError(t, err)
	return l
}

func TestLogsHandler(t *testing.T) {
	srv := testServer(t)

	get := func(target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	w := get("/api/logs")
	require.Equal(t, http.StatusOK, w.Code)
	var resp LogsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.Entries, "no logger attached")

	logs := testLogs(t)
	srv.AttachLogs(logs)
	for _, msg := range []string{"one", "two", "three"} {
		logs.Info("serve", msg, nil)
	}
	comp := logs.Component("voice")
	comp.Warn().Msg("four")

	w = get("/api/logs?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	resp = LogsResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "three", resp.Entries[0].Message)
	assert.Equal(t, "four", resp.Entries[1].Message)
	assert.Equal(t, "voice", resp.Entries[1].Component)

	assert.Equal(t, http.StatusBadRequest, get("/api/logs?limit=x").Code)
}

func TestWebUIHandler(t *testing.T) {
	srv := testServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), "speechSynthesis")

	for _, path := range []string{"/missing.js", "/api/unknown"} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "saathi_active_sessions")
}

func TestCheckOrigin(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://allowed.example", true},
		{"http://example.com:8790", true}, // same host
		{"http://evil.example", false},
	}

	for _, tc := range tests {
		t.Run(tc.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example.com:8790/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.want, srv.checkOrigin(r))
		})
	}

	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"*"}
	srv.UpdateConfig(cfg)
	r := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	r.Header.Set("Origin", "http://evil.example")
	assert.True(t, srv.checkOrigin(r))
}

func TestWebSocket_HelloRequired(t *testing.T) {
	_, ts := startTestServer(t)

	tests := []struct {
		name  string
		first *bridge.Frame
	}{
		{"wrong first frame", &bridge.Frame{Type: CmdOpen}},
		{"hello timeout", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
			require.NoError(t, err)
			defer conn.Close()

			if tc.first != nil {
				require.NoError(t, conn.WriteJSON(tc.first))
			}
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err = conn.ReadMessage()
			require.Error(t, err)
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
		})
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	_, ts := startTestServer(t)
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocket_Conversation(t *testing.T) {
	srv, ts := startTestServer(t)
	c := dial(t, ts, bridge.Hello{
		SpeechSynthesis: true,
		Voices: []tts.Voice{
			{ID: "samantha", Name: "Samantha", Language: "en-US"},
			{ID: "lekha", Name: "Lekha", Language: "hi-IN"},
		},
	})
	assert.Equal(t, 1, srv.Sessions().Count())

	initial := c.waitSnapshot("initial", func(s voice.Snapshot) bool { return true })
	require.Len(t, initial.Messages, 1)
	assert.Equal(t, voice.GreetingID, initial.Messages[0].ID)
	assert.True(t, initial.Capabilities.VoiceOutput)
	assert.False(t, initial.Capabilities.VoiceInput)

	c.waitSnapshot("voice", func(s voice.Snapshot) bool { return s.Voice.Matched && s.Voice.Voice.Name == "Lekha" })

	c.send(CmdOpen, nil)
	assert.True(t, c.waitResult(CmdOpen).OK)
	c.waitSnapshot("open", func(s voice.Snapshot) bool { return s.Open })

	greeting := c.waitUtterance(voice.DefaultConfig().Greeting)
	assert.Equal(t, "hi-IN", greeting.Language)
	assert.Equal(t, 0.8, greeting.Rate)

	c.send(bridge.FrameTTSEvent, bridge.SpeechEvent{Utterance: greeting.ID, Kind: "start"})
	speaking := c.waitSnapshot("speaking", func(s voice.Snapshot) bool {
		return s.Output == voice.OutputSpeaking && s.SpeakingMessageID == voice.GreetingID
	})
	c.send(bridge.FrameTTSEvent, bridge.SpeechEvent{Utterance: greeting.ID, Kind: "end"})
	c.waitSnapshot("silent", func(s voice.Snapshot) bool {
		return s.Version > speaking.Version && s.Output == voice.OutputIdle && s.SpeakingMessageID == ""
	})

	c.send(CmdSubmit, TextPayload{Text: "बिजली का बिल"})
	assert.True(t, c.waitResult(CmdSubmit).OK)

	reply := intent.DefaultResponder().Respond("बिजली")
	done := c.waitSnapshot("reply", func(s voice.Snapshot) bool {
		return len(s.Messages) == 3 && lastOf(s).Text == reply
	})
	assert.Equal(t, voice.PhaseIdle, done.Phase)
	assert.Equal(t, "बिजली का बिल", done.Messages[1].Text)
	c.waitUtterance(reply)
}

func TestWebSocket_QuickActions(t *testing.T) {
	_, ts := startTestServer(t)
	c := dial(t, ts, bridge.Hello{})

	idx := 1
	c.send(CmdQuickAction, QuickActionPayload{Index: &idx})
	assert.True(t, c.waitResult(CmdQuickAction).OK)

	action := intent.QuickActions()[idx]
	c.waitSnapshot("quick action reply", func(s voice.Snapshot) bool {
		return len(s.Messages) == 3 &&
			s.Messages[1].Text == action &&
			lastOf(s).Text == intent.DefaultResponder().Respond(action)
	})
}

func TestWebSocket_CommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		command string
		payload any
		want    string
	}{
		{"quick action out of range", CmdQuickAction, map[string]int{"index": 99}, "unknown quick action"},
		{"blank submit", CmdSubmit, TextPayload{Text: "   "}, "rejected"},
		{"replay unknown", CmdReplay, ReplayPayload{MessageID: "nope"}, voice.ErrMessageNotFound.Error()},
		{"mic unavailable", CmdMic, nil, stt.ErrCapabilityUnavailable.Error()},
		{"missing payload", CmdDraft, nil, "missing data"},
		{"unknown command", "dance", nil, "unknown frame type"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ts := startTestServer(t)
			c := dial(t, ts, bridge.Hello{})

			c.send(tc.command, tc.payload)
			res := c.waitResult(tc.command)
			assert.False(t, res.OK)
			assert.Contains(t, res.Error, tc.want)
		})
	}
}

func TestWebSocket_MicrophoneTranscript(t *testing.T) {
	_, ts := startTestServer(t)
	c := dial(t, ts, bridge.Hello{SpeechRecognition: true})

	c.send(CmdOpen, nil)
	c.send(CmdMic, nil)
	assert.True(t, c.waitResult(CmdMic).OK)

	var start bridge.RecognitionStart
	c.waitFor("stt.start", func(f bridge.Frame) bool {
		return f.Type == bridge.FrameSTTStart && f.Decode(&start) == nil
	})
	assert.Equal(t, "hi-IN", start.Language)
	c.waitSnapshot("listening", func(s voice.Snapshot) bool { return s.Input == voice.InputListening })

	for _, ev := range []bridge.RecognitionEvent{
		{Session: start.Session, Kind: "start"},
		{Session: start.Session, Kind: "result", Transcript: "पानी नहीं आ रहा"},
		{Session: start.Session, Kind: "end"},
	} {
		c.send(bridge.FrameSTTEvent, ev)
	}

	snap := c.waitSnapshot("voice reply", func(s voice.Snapshot) bool {
		return len(s.Messages) == 3 && lastOf(s).Role == voice.RoleAssistant
	})
	assert.Equal(t, "पानी नहीं आ रहा", snap.Messages[1].Text)
	assert.True(t, snap.Messages[1].ViaVoice)
	assert.Equal(t, intent.DefaultResponder().Respond("पानी"), lastOf(snap).Text)
	assert.Equal(t, voice.InputIdle, snap.Input)
	assert.Empty(t, snap.Draft)
}

func TestWebSocket_RecognitionErrorNotice(t *testing.T) {
	_, ts := startTestServer(t)
	c := dial(t, ts, bridge.Hello{SpeechRecognition: true})

	c.send(CmdMic, nil)
	var start bridge.RecognitionStart
	c.waitFor("stt.start", func(f bridge.Frame) bool {
		return f.Type == bridge.FrameSTTStart && f.Decode(&start) == nil
	})

	c.send(bridge.FrameSTTEvent, bridge.RecognitionEvent{Session: start.Session, Kind: "error", Error: stt.CodeNotAllowed})
	c.send(bridge.FrameSTTEvent, bridge.RecognitionEvent{Session: start.Session, Kind: "end"})

	snap := c.waitSnapshot("notice", func(s voice.Snapshot) bool {
		return s.Notice != nil && s.Input == voice.InputIdle
	})
	assert.Equal(t, voice.NoticeRecognitionError, snap.Notice.Kind)
	assert.Equal(t, stt.ClassifyError(stt.CodeNotAllowed).Message, snap.Notice.Text)
}

func TestWebSocket_ShellLogFrames(t *testing.T) {
	srv, ts := startTestServer(t)
	logs := testLogs(t)
	srv.AttachLogs(logs)
	warnings := metrics.LogEntries.WithLabelValues("warn")
	before := testutil.ToFloat64(warnings)

	c := dial(t, ts, bridge.Hello{SpeechSynthesis: true})
	c.send(FrameLog, LogPayload{
		Level:     "warn",
		Component: "mic",
		Message:   "permission prompt dismissed",
		Data:      map[string]interface{}{"code": "not-allowed"},
	})

	var entry logging.LogEntry
	require.Eventually(t, func() bool {
		for _, e := range logs.GetHistory(0) {
			if e.Component == "shell.mic" {
				entry = e
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "warn", entry.Level)
	assert.Equal(t, "permission prompt dismissed", entry.Message)
	assert.Contains(t, entry.Data, "code=not-allowed")
	assert.Contains(t, entry.Data, "session=")

	require.Eventually(t, func() bool { return testutil.ToFloat64(warnings) > before }, time.Second, 5*time.Millisecond)

	// log frames are not commands and get no result
	time.Sleep(30 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.frames {
		assert.NotEqual(t, FrameResult, f.Type)
	}
}

type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func TestWebSocket_ConversationEventsLogged(t *testing.T) {
	var buf syncBuffer
	srv := New(testConfig(), nil, "test", zerolog.New(&buf))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Sessions().CloseAll()
		ts.Close()
	})

	c := dial(t, ts, bridge.Hello{})
	c.send(CmdOpen, nil)
	c.waitResult(CmdOpen)
	c.send(CmdSubmit, TextPayload{Text: "पानी"})
	c.waitResult(CmdSubmit)

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), `"event":"conversation.message_appended"`)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_SessionRemovedOnDisconnect(t *testing.T) {
	srv, ts := startTestServer(t)
	c := dial(t, ts, bridge.Hello{})
	require.Equal(t, 1, srv.Sessions().Count())

	require.NoError(t, c.conn.Close())
	assert.Eventually(t, func() bool { return srv.Sessions().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	srv := testServer(t)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}
