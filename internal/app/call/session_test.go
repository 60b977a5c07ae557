package call_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call_reminder/internal/app/call"
	"call_reminder/internal/testutil"
)

type recordingHooks struct {
	mu       sync.Mutex
	declined []int64
	results  []call.Result
}

func (h *recordingHooks) Declined(id int64, _ string) {
	h.mu.Lock()
	h.declined = append(h.declined, id)
	h.mu.Unlock()
}

func (h *recordingHooks) Finished(res call.Result) {
	h.mu.Lock()
	h.results = append(h.results, res)
	h.mu.Unlock()
}

func (h *recordingHooks) Results() []call.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]call.Result(nil), h.results...)
}

type harness struct {
	session *call.Session
	clock   *testutil.FakeClock
	speech  *testutil.FakeSpeech
	audio   *testutil.FakeAudio
	hooks   *recordingHooks
	conn    *testutil.FakeConnection
}

func newHarness(t *testing.T, cfg call.Config, speech *testutil.FakeSpeech) *harness {
	t.Helper()
	if speech == nil {
		speech = &testutil.FakeSpeech{}
	}
	h := &harness{
		clock:  testutil.NewFakeClock(time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)),
		speech: speech,
		audio:  testutil.NewFakeAudio(),
		hooks:  &recordingHooks{},
		conn:   &testutil.FakeConnection{},
	}
	if cfg.ReminderID == 0 {
		cfg.ReminderID = 7
	}
	if cfg.Message == "" {
		cfg.Message = "Take the pills"
	}
	seq := 0
	h.session = call.NewSession(cfg, call.Deps{
		Clock:  h.clock,
		Speech: h.speech,
		Audio:  h.audio,
		Hooks:  h.hooks,
		NewUtteranceID: func() string {
			seq++
			return "utt-" + string(rune('0'+seq))
		},
	})
	return h
}

func (h *harness) ringAndAnswer() {
	h.session.Handle(call.Registered{Conn: h.conn})
	h.session.Answer()
}

func TestAnsweredCallAnnouncesAfterSpeakDelay(t *testing.T) {
	h := newHarness(t, call.Config{SpeakDelay: 5 * time.Second, SpeechRate: 1.5, Device: call.DeviceInfo{Manufacturer: "Google"}}, nil)

	h.session.Handle(call.Registered{Conn: h.conn})
	assert.Equal(t, call.StateRinging, h.session.State())
	assert.Equal(t, 1, h.conn.Ringing)

	h.session.Answer()
	assert.Equal(t, call.StateAnswered, h.session.State())
	assert.Equal(t, 1, h.conn.Active)

	h.clock.Advance(4 * time.Second)
	assert.Equal(t, call.StateAnswered, h.session.State())
	assert.Nil(t, h.speech.Last())

	h.clock.Advance(time.Second)
	assert.Equal(t, call.StateAnnouncing, h.session.State())
	engine := h.speech.Last()
	require.NotNil(t, engine)
	assert.Equal(t, call.AudioModeInCommunication, h.audio.Mode())
	assert.Equal(t, 1, h.audio.FocusHeld())

	engine.Ready(nil)
	spoken := engine.Spoken()
	require.Len(t, spoken, 1)
	assert.Equal(t, "Take the pills", spoken[0].Text)
	assert.Equal(t, call.StreamVoiceCall, spoken[0].Stream)
	assert.Equal(t, 1.5, engine.Rate)
	assert.Equal(t, call.DefaultLocale, engine.Locale)

	engine.Complete(0, nil)

	assert.Equal(t, call.StateTerminated, h.session.State())
	assert.Equal(t, call.OutcomeCompleted, h.session.Result().Outcome)
	assert.Equal(t, call.PathCall, h.session.Result().Path)
	assert.Equal(t, 1, h.conn.DestroyCount())
	assert.Equal(t, call.AudioModeNormal, h.audio.Mode())
	assert.Equal(t, 0, h.audio.FocusHeld())
	assert.Equal(t, 1, engine.ShutdownCount())
	assert.Equal(t, 0, h.clock.Pending())
	assert.Len(t, h.hooks.Results(), 1)

	select {
	case <-h.session.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestAbortDuringSpeakDelayCancelsSpeech(t *testing.T) {
	h := newHarness(t, call.Config{SpeakDelay: 5 * time.Second}, nil)
	h.ringAndAnswer()

	h.clock.Advance(2 * time.Second)
	h.session.Abort()

	assert.Equal(t, call.StateTerminated, h.session.State())
	assert.Equal(t, call.OutcomeAborted, h.session.Result().Outcome)

	h.clock.Advance(10 * time.Second)
	assert.Nil(t, h.speech.Last(), "speech must not start after abort")
	assert.Equal(t, 1, h.conn.DestroyCount())
	assert.Equal(t, 0, h.clock.Pending())
}

func TestVoiceRouteSilenceRespeaksOnMedia(t *testing.T) {
	h := newHarness(t, call.Config{SpeakDelay: 0}, nil)
	h.ringAndAnswer()
	h.clock.Advance(0)

	engine := h.speech.Last()
	require.NotNil(t, engine)
	engine.Ready(nil)

	h.clock.Advance(call.VoiceRouteTimeout)

	spoken := engine.Spoken()
	require.Len(t, spoken, 2)
	assert.Equal(t, call.StreamVoiceCall, spoken[0].Stream)
	assert.Equal(t, call.StreamMedia, spoken[1].Stream)
	assert.Equal(t, 1, engine.StopCount)

	// completion of the abandoned voice-stream utterance is stale
	engine.Complete(0, nil)
	assert.Equal(t, call.StateAnnouncing, h.session.State())

	engine.Complete(1, nil)
	assert.Equal(t, call.StateTerminated, h.session.State())
	assert.Equal(t, call.OutcomeFallbackCompleted, h.session.Result().Outcome)
	assert.True(t, h.session.Result().Outcome.Delivered())
}

func TestHardTimeoutIsRearmedOnReroute(t *testing.T) {
	h := newHarness(t, call.Config{SpeakDelay: 0}, nil)
	h.ringAndAnswer()
	h.clock.Advance(0)
	h.speech.Last().Ready(nil)

	h.clock.Advance(call.VoiceRouteTimeout)
	require.Len(t, h.speech.Last().Spoken(), 2)

	h.clock.Advance(call.HardTimeoutAfter - time.Second)
	assert.Equal(t, call.StateAnnouncing, h.session.State())

	h.clock.Advance(time.Second)
	assert.Equal(t, call.StateTerminated, h.session.State())
	assert.Equal(t, call.OutcomeTimedOut, h.session.Result().Outcome)
	assert.Equal(t, 1, h.speech.Last().ShutdownCount())
}

func TestMediaVendorSkipsVoiceSilenceTimer(t *testing.T) {
	h := newHarness(t, call.Config{Device: call.DeviceInfo{Manufacturer: "xiaomi"}}, nil)
	h.ringAndAnswer()
	h.clock.Advance(0)
	h.speech.Last().Ready(nil)

	h.clock.Advance(call.VoiceRouteTimeout)

	spoken := h.speech.Last().Spoken()
	require.Len(t, spoken, 1)
	assert.Equal(t, call.StreamMedia, spoken[0].Stream)
	assert.Equal(t, 1, h.clock.Pending(), "only the hard timeout stays armed")
}

func TestDeclinedCallRunsDeclineHookOnce(t *testing.T) {
	h := newHarness(t, call.Config{}, nil)
	h.session.Handle(call.Registered{Conn: h.conn})

	h.session.Reject()
	h.session.Reject()

	assert.Equal(t, []int64{7}, h.hooks.declined)
	assert.Equal(t, call.OutcomeDeclined, h.session.Result().Outcome)
	assert.Equal(t, 1, h.conn.DestroyCount())
	assert.Len(t, h.hooks.Results(), 1)
}

func TestFallbackNotificationOpenAnnouncesOnMedia(t *testing.T) {
	h := newHarness(t, call.Config{}, nil)

	h.session.Handle(call.FallbackPosted{})
	assert.Equal(t, call.StateNotifiedFallback, h.session.State())

	h.session.Handle(call.Opened{})
	assert.Equal(t, call.StateAnnouncing, h.session.State())
	assert.Empty(t, h.audio.ModeLog, "notification path leaves the audio mode alone")

	engine := h.speech.Last()
	engine.Ready(nil)
	require.Len(t, engine.Spoken(), 1)
	assert.Equal(t, call.StreamMedia, engine.Spoken()[0].Stream)

	engine.Complete(0, nil)
	assert.Equal(t, call.OutcomeCompleted, h.session.Result().Outcome)
	assert.Equal(t, call.PathNotification, h.session.Result().Path)
	assert.Equal(t, 0, h.audio.FocusHeld())
}

func TestFallbackDismissDeclines(t *testing.T) {
	h := newHarness(t, call.Config{}, nil)
	h.session.Handle(call.FallbackPosted{})

	h.session.Handle(call.Declined{})

	assert.Equal(t, []int64{7}, h.hooks.declined)
	assert.Equal(t, call.StateTerminated, h.session.State())
}

func TestSpeechFailuresTerminateAndRestoreAudio(t *testing.T) {
	tests := []struct {
		name   string
		speech *testutil.FakeSpeech
	}{
		{name: "open fails", speech: &testutil.FakeSpeech{OpenErr: errors.New("no engine")}},
		{name: "init fails", speech: &testutil.FakeSpeech{AutoReady: true, InitErr: errors.New("init failed")}},
		{name: "speak fails", speech: &testutil.FakeSpeech{AutoReady: true, SpeakErr: errors.New("busy")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, call.Config{}, tt.speech)
			h.ringAndAnswer()
			h.clock.Advance(0)

			res := h.session.Result()
			assert.Equal(t, call.StateTerminated, h.session.State())
			assert.Equal(t, call.OutcomeSpeechError, res.Outcome)
			assert.Error(t, res.Err)
			assert.Equal(t, call.AudioModeNormal, h.audio.Mode())
			assert.Equal(t, 0, h.audio.FocusHeld())
			assert.Equal(t, 1, h.conn.DestroyCount())
			assert.Equal(t, 0, h.clock.Pending())
		})
	}
}

func TestSynchronousCallbacksAreQueued(t *testing.T) {
	h := newHarness(t, call.Config{}, &testutil.FakeSpeech{AutoReady: true, AutoComplete: true})
	h.ringAndAnswer()

	h.clock.Advance(0)

	assert.Equal(t, call.StateTerminated, h.session.State())
	assert.Equal(t, call.OutcomeCompleted, h.session.Result().Outcome)
}

func TestTerminationRunsOnce(t *testing.T) {
	h := newHarness(t, call.Config{}, &testutil.FakeSpeech{AutoReady: true, AutoComplete: true})
	h.ringAndAnswer()
	h.clock.Advance(0)

	h.session.Abort()
	h.session.Disconnect()
	h.session.Handle(call.HardTimeout{})

	assert.Len(t, h.hooks.Results(), 1)
	assert.Equal(t, 1, h.conn.DestroyCount())
	assert.Equal(t, 1, h.speech.Last().ShutdownCount())
	assert.Equal(t, 1, h.audio.Abandoned)
}

func TestConcurrentTerminationRunsOnce(t *testing.T) {
	h := newHarness(t, call.Config{SpeakDelay: time.Minute}, nil)
	h.ringAndAnswer()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				h.session.Abort()
			} else {
				h.session.Disconnect()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.hooks.Results(), 1)
	assert.Equal(t, 1, h.conn.DestroyCount())
}

func TestEventsOutOfOrderAreIgnored(t *testing.T) {
	h := newHarness(t, call.Config{}, nil)

	h.session.Answer()
	assert.Equal(t, call.StateIdle, h.session.State())

	h.session.Handle(call.Registered{Conn: h.conn})
	h.session.Handle(call.SpeakDelayElapsed{})
	assert.Equal(t, call.StateRinging, h.session.State())
	assert.Nil(t, h.speech.Last())
}

type panickyConn struct{ testutil.FakeConnection }

func (c *panickyConn) Destroy() { panic("connection already gone") }

func TestPanickingCleanupStillTerminates(t *testing.T) {
	h := newHarness(t, call.Config{}, nil)
	h.session.Handle(call.Registered{Conn: &panickyConn{}})

	h.session.Abort()

	assert.Equal(t, call.StateTerminated, h.session.State())
	assert.Len(t, h.hooks.Results(), 1)
}
