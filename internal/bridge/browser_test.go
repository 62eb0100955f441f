package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/saathi/internal/stt"
	"github.com/normanking/saathi/internal/tts"
)

type captureSender struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (c *captureSender) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *captureSender) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.frames {
		out = append(out, f.Type)
	}
	return out
}

func (c *captureSender) last() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[len(c.frames)-1]
}

func frame(t *testing.T, typ string, v any) Frame {
	t.Helper()
	f, err := NewFrame(typ, v)
	require.NoError(t, err)
	return f
}

func newTestBrowser() (*Browser, *captureSender) {
	s := &captureSender{}
	return NewBrowser(s, zerolog.Nop()), s
}

func TestBrowser_HelloSetsCapabilities(t *testing.T) {
	b, _ := newTestBrowser()
	assert.False(t, b.Speech().Available())
	assert.False(t, b.Recognition().Available())

	require.NoError(t, b.HandleFrame(frame(t, FrameHello, Hello{
		SpeechSynthesis: true,
		Voices:          []tts.Voice{{ID: "lekha", Name: "Lekha", Language: "hi-IN"}},
	})))

	assert.True(t, b.Speech().Available())
	assert.False(t, b.Recognition().Available())

	voices, err := b.Speech().Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, "Lekha", voices[0].Name)
}

func TestBrowser_VoicesChanged(t *testing.T) {
	b, _ := newTestBrowser()
	b.SetHello(Hello{SpeechSynthesis: true})

	e := tts.NewEngine(b.Speech(), tts.DefaultConfig(), zerolog.Nop())
	assert.False(t, e.Watch(context.Background()).Matched)

	require.NoError(t, b.HandleFrame(frame(t, FrameTTSVoices, VoicesPayload{
		Voices: []tts.Voice{{Name: "Samantha", Language: "en-US"}, {Name: "Lekha", Language: "hi-IN"}},
	})))

	p := e.Profile()
	require.True(t, p.Matched)
	assert.Equal(t, "Lekha", p.Voice.Name)
}

func TestBrowser_SpeakSendsUtterance(t *testing.T) {
	b, s := newTestBrowser()
	b.SetHello(Hello{SpeechSynthesis: true})

	var events []tts.Event
	u := tts.Utterance{ID: "u1", Text: "नमस्ते", Language: "hi-IN", Rate: 0.8, Pitch: 1, Volume: 1}
	require.NoError(t, b.Speech().Speak(context.Background(), u, func(ev tts.Event) { events = append(events, ev) }))

	f := s.last()
	assert.Equal(t, FrameTTSSpeak, f.Type)
	var sent tts.Utterance
	require.NoError(t, json.Unmarshal(f.Data, &sent))
	assert.Equal(t, u, sent)

	require.NoError(t, b.HandleFrame(frame(t, FrameTTSEvent, SpeechEvent{Utterance: "u1", Kind: "start"})))
	require.NoError(t, b.HandleFrame(frame(t, FrameTTSEvent, SpeechEvent{Utterance: "u1", Kind: "end"})))

	require.Len(t, events, 2)
	assert.Equal(t, tts.EventStarted, events[0].Kind)
	assert.Equal(t, tts.EventEnded, events[1].Kind)

	// nothing active, so cancel stays local
	b.Speech().Cancel()
	assert.Equal(t, []string{FrameTTSSpeak}, s.types())
}

func TestBrowser_SpeechErrors(t *testing.T) {
	tests := []struct {
		code     string
		canceled bool
	}{
		{"interrupted", true},
		{"canceled", true},
		{"synthesis-failed", false},
		{"audio-busy", false},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			b, _ := newTestBrowser()
			var got tts.Event
			require.NoError(t, b.Speech().Speak(context.Background(), tts.Utterance{ID: "u1", Text: "x"}, func(ev tts.Event) { got = ev }))
			require.NoError(t, b.HandleFrame(frame(t, FrameTTSEvent, SpeechEvent{Utterance: "u1", Kind: "error", Error: tc.code})))

			assert.Equal(t, tts.EventFailed, got.Kind)
			assert.Equal(t, tc.canceled, errors.Is(got.Err, tts.ErrCanceled))
			assert.Contains(t, got.Err.Error(), map[bool]string{true: "canceled", false: tc.code}[tc.canceled])
		})
	}
}

func TestBrowser_CancelSendsFrameWhileActive(t *testing.T) {
	b, s := newTestBrowser()
	require.NoError(t, b.Speech().Speak(context.Background(), tts.Utterance{ID: "u1", Text: "x"}, func(tts.Event) {}))

	b.Speech().Cancel()
	b.Speech().Cancel()
	assert.Equal(t, []string{FrameTTSSpeak, FrameTTSCancel}, s.types())
}

func TestBrowser_SpeakSendError(t *testing.T) {
	b, s := newTestBrowser()
	s.err = errors.New("closed")

	err := b.Speech().Speak(context.Background(), tts.Utterance{ID: "u1"}, func(tts.Event) {})
	assert.Error(t, err)

	s.err = nil
	b.Speech().Cancel()
	assert.Empty(t, s.types())
}

func TestBrowser_Recognition(t *testing.T) {
	b, s := newTestBrowser()
	b.SetHello(Hello{SpeechRecognition: true})

	var events []stt.Event
	r := b.Recognition()
	require.NoError(t, r.Start(context.Background(), "s1", stt.Options{Language: "hi-IN"}, func(ev stt.Event) { events = append(events, ev) }))

	f := s.last()
	assert.Equal(t, FrameSTTStart, f.Type)
	var start RecognitionStart
	require.NoError(t, f.Decode(&start))
	assert.Equal(t, RecognitionStart{Session: "s1", Language: "hi-IN"}, start)

	for _, ev := range []RecognitionEvent{
		{Session: "s1", Kind: "start"},
		{Session: "s1", Kind: "result", Transcript: "मौसम"},
		{Session: "s1", Kind: "end"},
	} {
		require.NoError(t, b.HandleFrame(frame(t, FrameSTTEvent, ev)))
	}

	require.Len(t, events, 3)
	assert.Equal(t, stt.EventStart, events[0].Kind)
	assert.Equal(t, stt.EventTranscript, events[1].Kind)
	assert.Equal(t, "मौसम", events[1].Text)
	assert.Equal(t, stt.EventEnd, events[2].Kind)

	// ended sessions need no stop frame
	r.Stop()
	assert.Equal(t, []string{FrameSTTStart}, s.types())
}

func TestBrowser_RecognitionErrorClassified(t *testing.T) {
	b, _ := newTestBrowser()

	var got stt.Event
	require.NoError(t, b.Recognition().Start(context.Background(), "s1", stt.Options{}, func(ev stt.Event) { got = ev }))
	require.NoError(t, b.HandleFrame(frame(t, FrameSTTEvent, RecognitionEvent{Session: "s1", Kind: "error", Error: stt.CodeNotAllowed})))

	assert.Equal(t, stt.EventError, got.Kind)
	require.NotNil(t, got.Err)
	assert.Equal(t, stt.ErrorAccessDenied, got.Err.Kind)
}

func TestBrowser_StopSendsSession(t *testing.T) {
	b, s := newTestBrowser()
	r := b.Recognition()
	require.NoError(t, r.Start(context.Background(), "s1", stt.Options{}, func(stt.Event) {}))

	r.Stop()
	r.Stop()

	assert.Equal(t, []string{FrameSTTStart, FrameSTTStop}, s.types())
	var stop RecognitionStop
	require.NoError(t, s.last().Decode(&stop))
	assert.Equal(t, "s1", stop.Session)
}

func TestBrowser_RecognitionThroughEngine(t *testing.T) {
	b, s := newTestBrowser()
	b.SetHello(Hello{SpeechRecognition: true})

	e := stt.NewEngine(b.Recognition(), "hi-IN", zerolog.Nop())
	var events []stt.Event
	e.SetEventSink(func(ev stt.Event) { events = append(events, ev) })

	session, err := e.Start(context.Background())
	require.NoError(t, err)

	var start RecognitionStart
	require.NoError(t, s.last().Decode(&start))
	assert.Equal(t, session, start.Session)
	assert.False(t, start.Continuous)
	assert.False(t, start.InterimResults)

	require.NoError(t, b.HandleFrame(frame(t, FrameSTTEvent, RecognitionEvent{Session: session, Kind: "result", Transcript: "खेती"})))
	require.NoError(t, b.HandleFrame(frame(t, FrameSTTEvent, RecognitionEvent{Session: session, Kind: "end"})))

	require.Len(t, events, 2)
	assert.Equal(t, "खेती", events[0].Text)
	assert.Empty(t, e.Session())
}

func TestBrowser_UnknownFrame(t *testing.T) {
	b, _ := newTestBrowser()
	assert.ErrorIs(t, b.HandleFrame(Frame{Type: "bogus"}), ErrUnknownFrame)
	assert.Error(t, b.HandleFrame(Frame{Type: FrameTTSEvent}))
	assert.Error(t, b.HandleFrame(Frame{Type: FrameSTTEvent, Data: json.RawMessage(`{`)}))
}
