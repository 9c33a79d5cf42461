package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/assistant"
	"github.com/friendsincode/voxqueue/internal/auth"
	"github.com/friendsincode/voxqueue/internal/events"
	"github.com/friendsincode/voxqueue/internal/models"
	"github.com/friendsincode/voxqueue/internal/orchestrator"
	"github.com/friendsincode/voxqueue/internal/queue"
	"github.com/friendsincode/voxqueue/internal/settings"
	"github.com/friendsincode/voxqueue/internal/transport"
)

var testSecret = []byte("api-test-secret")

type fakeController struct {
	mu       sync.Mutex
	plays    []orchestrator.PlayRequest
	playRes  orchestrator.PlayResult
	playErr  error
	cmdErr   error
	calls    []string
	seek     time.Duration
	loop     int
	sessions map[string]orchestrator.Status
}

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.cmdErr
}

func (f *fakeController) Play(_ context.Context, req orchestrator.PlayRequest) (orchestrator.PlayResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, req)
	return f.playRes, f.playErr
}

func (f *fakeController) JoinLive(ctx context.Context, req orchestrator.PlayRequest) (orchestrator.PlayResult, error) {
	req.Item.Source.Tag = transport.SourceLive
	return f.Play(ctx, req)
}

func (f *fakeController) Skip(context.Context, string) error { return f.record("skip") }
func (f *fakeController) ChangeStream(context.Context, string, queue.Item) error {
	return f.record("stream")
}

func (f *fakeController) Seek(_ context.Context, _ string, to time.Duration) error {
	f.seek = to
	return f.record("seek")
}

func (f *fakeController) SetLoop(_ context.Context, _ string, n int) error {
	f.loop = n
	return f.record("loop")
}

func (f *fakeController) Pause(context.Context, string) error  { return f.record("pause") }
func (f *fakeController) Resume(context.Context, string) error { return f.record("resume") }
func (f *fakeController) Mute(context.Context, string) error   { return f.record("mute") }
func (f *fakeController) Unmute(context.Context, string) error { return f.record("unmute") }
func (f *fakeController) Stop(context.Context, string) error   { return f.record("stop") }
func (f *fakeController) ForceStop(context.Context, string)    { _ = f.record("force-stop") }

func (f *fakeController) Status(chatID string) (orchestrator.Status, bool) {
	st, ok := f.sessions[chatID]
	return st, ok
}

func (f *fakeController) Sessions() []orchestrator.Status {
	out := make([]orchestrator.Status, 0, len(f.sessions))
	for _, st := range f.sessions {
		out = append(out, st)
	}
	return out
}

type fakePinger struct {
	rtt time.Duration
	err error
}

func (p fakePinger) Ping(context.Context) (time.Duration, error) { return p.rtt, p.err }
func (p fakePinger) Slots() []int                                { return []int{1, 2} }

type fakeSettings struct {
	quality map[string]settings.Quality
	autoEnd bool
	cleanup bool
	history []models.PlayHistory
}

func (s *fakeSettings) GetQuality(_ context.Context, chatID string) (settings.Quality, error) {
	if q, ok := s.quality[chatID]; ok {
		return q, nil
	}
	return settings.Quality{AudioBitrate: 96, VideoBitrate: 480}, nil
}

func (s *fakeSettings) SetQuality(_ context.Context, chatID string, q settings.Quality) error {
	s.quality[chatID] = q
	return nil
}

func (s *fakeSettings) IsAutoEndEnabled(context.Context) (bool, error) { return s.autoEnd, nil }
func (s *fakeSettings) SetAutoEnd(_ context.Context, v bool) error    { s.autoEnd = v; return nil }
func (s *fakeSettings) IsCleanupEnabled(context.Context) (bool, error) { return s.cleanup, nil }
func (s *fakeSettings) SetCleanup(_ context.Context, v bool) error    { s.cleanup = v; return nil }

func (s *fakeSettings) ActiveChats(context.Context) ([]models.ActiveChat, error) {
	return []models.ActiveChat{{ChatID: "c1", Slot: 1}}, nil
}

func (s *fakeSettings) History(_ context.Context, chatID string, limit int) ([]models.PlayHistory, error) {
	return s.history, nil
}

type testEnv struct {
	bus      *events.Bus
	ctrl     *fakeController
	settings *fakeSettings
	api      *API
	router   http.Handler
	operator string
	viewer   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ctrl:     &fakeController{sessions: map[string]orchestrator.Status{}},
		settings: &fakeSettings{quality: map[string]settings.Quality{}},
		bus:      events.NewBus(),
	}
	a := New(env.ctrl, fakePinger{rtt: 2 * time.Millisecond}, env.settings, env.bus, testSecret, zerolog.Nop())
	r := chi.NewRouter()
	a.Routes(r)
	env.api = a
	env.router = r

	var err error
	if env.operator, err = auth.Issue(testSecret, "ops", []string{auth.RoleOperator}, time.Hour); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if env.viewer, err = auth.Issue(testSecret, "watcher", []string{auth.RoleViewer}, time.Hour); err != nil {
		t.Fatalf("issue: %v", err)
	}
	return env
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/api/v1/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if decodeBody(t, rr)["status"] != "ok" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestSessionsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(http.MethodGet, "/api/v1/sessions", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/api/v1/sessions", env.viewer, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for viewer, got %d", rr.Code)
	}
}

func TestCommandsRequireOperator(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/api/v1/sessions/c1/skip", env.viewer, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", rr.Code)
	}
	if len(env.ctrl.calls) != 0 {
		t.Fatalf("controller should not be called, got %v", env.ctrl.calls)
	}
}

func TestPlayStartsAndQueues(t *testing.T) {
	env := newTestEnv(t)
	env.ctrl.playRes = orchestrator.PlayResult{Position: 0, Slot: 2, ItemID: "i1"}

	body := `{"ref":"https://cdn/a.mp3","kind":"video","title":"A","duration_seconds":90,"origin_chat":"cmd"}`
	rr := env.do(http.MethodPost, "/api/v1/sessions/c1/play", env.operator, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := decodeBody(t, rr)
	if got["status"] != "playing" || got["slot"] != float64(2) {
		t.Fatalf("unexpected body %v", got)
	}

	req := env.ctrl.plays[0]
	if req.ChatID != "c1" || req.OriginChat != "cmd" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Item.Kind != transport.AudioVideo || req.Item.Duration != 90*time.Second || req.Item.RequestedBy != "ops" {
		t.Fatalf("unexpected item %+v", req.Item)
	}

	env.ctrl.playRes = orchestrator.PlayResult{Position: 2, Slot: 2, ItemID: "i2"}
	rr = env.do(http.MethodPost, "/api/v1/sessions/c1/play", env.operator, `{"ref":"b"}`)
	if rr.Code != http.StatusAccepted || decodeBody(t, rr)["status"] != "queued" {
		t.Fatalf("expected queued 202, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPlayValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		body string
		code string
	}{
		{`not json`, "invalid_json"},
		{`{}`, "ref_required"},
		{`{"ref":"a","tag":"torrent"}`, "invalid_tag"},
	}
	for _, tt := range tests {
		rr := env.do(http.MethodPost, "/api/v1/sessions/c1/play", env.operator, tt.body)
		if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error"] != tt.code {
			t.Errorf("body %q: got %d %s, want 400 %s", tt.body, rr.Code, rr.Body.String(), tt.code)
		}
	}
}

func TestLiveForcesLiveTag(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/api/v1/sessions/c1/live", env.operator, `{"ref":"chan"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if env.ctrl.plays[0].Item.Source.Tag != transport.SourceLive {
		t.Fatalf("expected live tag, got %q", env.ctrl.plays[0].Item.Source.Tag)
	}
}

func TestUserErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{&orchestrator.UserError{Kind: orchestrator.KindNoActiveCall, Message: "no call"}, http.StatusConflict, "no_active_call"},
		{&orchestrator.UserError{Kind: orchestrator.KindAlreadyJoined, Message: "joined"}, http.StatusConflict, "already_joined"},
		{&orchestrator.UserError{Kind: orchestrator.KindNotPlaying, Message: "idle"}, http.StatusNotFound, "not_playing"},
		{&orchestrator.UserError{Kind: orchestrator.KindInvalid, Message: "bad"}, http.StatusBadRequest, "invalid_request"},
		{&orchestrator.UserError{Kind: orchestrator.KindResolve, Message: "gone"}, http.StatusBadGateway, "resolve_failed"},
		{&orchestrator.UserError{Kind: orchestrator.KindTransport, Message: "engine down"}, http.StatusBadGateway, "transport_failed"},
		{assistant.ErrNoAssistants, http.StatusServiceUnavailable, "no_assistants"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		env := newTestEnv(t)
		env.ctrl.playErr = tt.err
		rr := env.do(http.MethodPost, "/api/v1/sessions/c1/play", env.operator, `{"ref":"a"}`)
		if rr.Code != tt.want {
			t.Errorf("%v: got %d, want %d", tt.err, rr.Code, tt.want)
			continue
		}
		if got := decodeBody(t, rr)["error"]; got != tt.code {
			t.Errorf("%v: error code %v, want %s", tt.err, got, tt.code)
		}
	}
}

func TestSimpleCommands(t *testing.T) {
	env := newTestEnv(t)
	env.ctrl.sessions["c1"] = orchestrator.Status{ChatID: "c1", State: "playing"}

	for _, cmd := range []string{"skip", "pause", "resume", "mute", "unmute", "stop", "force-stop"} {
		rr := env.do(http.MethodPost, "/api/v1/sessions/c1/"+cmd, env.operator, "")
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d body=%s", cmd, rr.Code, rr.Body.String())
		}
	}
	if len(env.ctrl.calls) != 7 {
		t.Fatalf("calls = %v", env.ctrl.calls)
	}

	env.ctrl.cmdErr = &orchestrator.UserError{Kind: orchestrator.KindNotPlaying, Message: "nothing is playing"}
	rr := env.do(http.MethodPost, "/api/v1/sessions/c1/skip", env.operator, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if decodeBody(t, rr)["message"] != "nothing is playing" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestSeekAndLoop(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(http.MethodPost, "/api/v1/sessions/c1/seek", env.operator, `{"seconds":75}`); rr.Code != http.StatusOK {
		t.Fatalf("seek: %d", rr.Code)
	}
	if env.ctrl.seek != 75*time.Second {
		t.Fatalf("seek = %s", env.ctrl.seek)
	}
	if rr := env.do(http.MethodPost, "/api/v1/sessions/c1/loop", env.operator, `{"count":3}`); rr.Code != http.StatusOK {
		t.Fatalf("loop: %d", rr.Code)
	}
	if env.ctrl.loop != 3 {
		t.Fatalf("loop = %d", env.ctrl.loop)
	}
}

func TestSessionGet(t *testing.T) {
	env := newTestEnv(t)
	env.ctrl.sessions["c1"] = orchestrator.Status{ChatID: "c1", State: "playing", Assistant: 1}

	rr := env.do(http.MethodGet, "/api/v1/sessions/c1", env.viewer, "")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["state"] != "playing" {
		t.Fatalf("got %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(http.MethodGet, "/api/v1/sessions/c9", env.viewer, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAssistantsPing(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/api/v1/assistants/ping", env.viewer, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["rtt_ms"]; got != float64(2) {
		t.Fatalf("rtt_ms = %v", got)
	}
}

func TestSystemSettings(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPut, "/api/v1/system", env.operator, `{"autoend_enabled":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	got := decodeBody(t, rr)
	if got["autoend_enabled"] != true || got["cleanup_downloads"] != false {
		t.Fatalf("unexpected body %v", got)
	}
	if !env.settings.autoEnd || env.settings.cleanup {
		t.Fatal("only autoend should change")
	}
}

func TestQualitySettings(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPut, "/api/v1/chats/c1/quality", env.operator, `{"audio_bitrate":128,"video_bitrate":720}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = env.do(http.MethodGet, "/api/v1/chats/c1/quality", env.viewer, "")
	if got := decodeBody(t, rr); got["audio_bitrate"] != float64(128) {
		t.Fatalf("unexpected body %v", got)
	}
	rr = env.do(http.MethodPut, "/api/v1/chats/c1/quality", env.operator, `{"audio_bitrate":0,"video_bitrate":720}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHistoryLimitValidation(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(http.MethodGet, "/api/v1/chats/c1/history?limit=x", env.viewer, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/api/v1/chats/c1/history?limit=5", env.viewer, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestParseEventTypes(t *testing.T) {
	got := parseEventTypes("session.joined, bogus ,session.autoend")
	if len(got) != 2 || got[0] != events.EventSessionJoined || got[1] != events.EventAutoEnd {
		t.Fatalf("got %v", got)
	}
	if all := parseEventTypes(""); len(all) != len(events.All) {
		t.Fatalf("empty filter should select every type, got %v", all)
	}
}
