package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlate/voxlate/internal/admission"
	"github.com/voxlate/voxlate/internal/audio"
	"github.com/voxlate/voxlate/internal/broadcast"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/jobs"
	"github.com/voxlate/voxlate/internal/observability"
	"github.com/voxlate/voxlate/internal/protocol"
	"github.com/voxlate/voxlate/internal/realtime"
	"github.com/voxlate/voxlate/internal/session"
	"github.com/voxlate/voxlate/internal/speech"
)

// Prometheus collectors register globally, so all tests share one instance.
var (
	metricsOnce sync.Once
	testMetrics *observability.Metrics
)

func sharedMetrics() *observability.Metrics {
	metricsOnce.Do(func() {
		testMetrics = observability.NewMetrics("voxlate_test")
	})
	return testMetrics
}

func testConfig() config.Config {
	return config.Config{
		AllowAnyOrigin:      true,
		DefaultLanguage:     "en",
		SampleRate:          16000,
		MaxBufferDuration:   100 * time.Millisecond,
		VADAggressiveness:   2,
		VADSilenceFrames:    10,
		MaxConnectionsPerIP: 5,
		ConnectionCountTTL:  time.Hour,
		MaxUploadBytes:      10 << 20,
		MaxUploadDuration:   time.Minute,
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(session.NewInMemoryStore())
	hub := broadcast.NewHub()
	provider := &speech.MockProvider{Transcript: "hello"}
	pipeline := speech.NewPipeline(provider, speech.PipelineOptions{RetryMax: 1, RetryBase: time.Millisecond})

	opts := realtime.TranslateOptions{
		SampleRate:        cfg.SampleRate,
		MaxBufferDuration: cfg.MaxBufferDuration,
		VADAggressiveness: cfg.VADAggressiveness,
		SilenceFrames:     cfg.VADSilenceFrames,
	}
	translator := realtime.NewTranslator(pipeline, opts)
	rooms := realtime.NewRooms(registry, hub, pipeline, opts)

	jobService := jobs.NewService(provider, jobs.Options{
		Workers:           1,
		QueueSize:         8,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		MaxUploadDuration: cfg.MaxUploadDuration,
		RetryMax:          1,
		RetryBase:         time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	jobService.Start(ctx)
	t.Cleanup(cancel)

	limiter := admission.NewLocalLimiter(cfg.MaxConnectionsPerIP, cfg.ConnectionCountTTL)
	srv := httptest.NewServer(New(cfg, registry, translator, rooms, jobService, limiter, sharedMetrics()).Router())
	t.Cleanup(srv.Close)
	return srv, registry
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame returns the message type for JSON frames, "binary" for binary
// frames, and the raw payload.
func readFrame(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if msgType == websocket.BinaryMessage {
		return "binary", data
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return string(env.Type), data
}

func readUntil(t *testing.T, conn *websocket.Conn, wantType string) []byte {
	t.Helper()
	for i := 0; i < 20; i++ {
		typ, data := readFrame(t, conn)
		if typ == wantType {
			return data
		}
	}
	t.Fatalf("never received %s frame", wantType)
	return nil
}

func TestSessionRESTLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	var created sessionResponse
	if code := postJSON(t, srv.URL+"/api/sessions", createSessionRequest{SenderName: "Alice", SourceLanguage: "en"}, &created); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if len(created.RoomCode) != 6 || created.Role != "sender" {
		t.Fatalf("created = %+v", created)
	}

	var joined sessionResponse
	if code := postJSON(t, srv.URL+"/api/sessions/join", joinSessionRequest{RoomCode: created.RoomCode, Name: "Bob", TargetLanguage: "es"}, &joined); code != http.StatusOK {
		t.Fatalf("join status = %d", code)
	}
	if joined.Role != "receiver" || joined.TargetLanguage != "es" {
		t.Fatalf("joined = %+v", joined)
	}

	var got sessionResponse
	if code := getJSON(t, srv.URL+"/api/sessions/"+created.RoomCode, &got); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if got.Participants != 2 || !got.Active {
		t.Fatalf("get = %+v, want 2 active participants", got)
	}

	if code := getJSON(t, srv.URL+"/api/sessions/ZZZZZZ", nil); code != http.StatusNotFound {
		t.Fatalf("get unknown status = %d, want 404", code)
	}

	// Sender leaving ends the session for everyone.
	var leave struct {
		SessionEnded bool `json:"session_ended"`
	}
	if code := postJSON(t, srv.URL+"/api/sessions/"+created.RoomCode+"/leave", map[string]string{"participant_id": created.ParticipantID}, &leave); code != http.StatusOK {
		t.Fatalf("leave status = %d", code)
	}
	if !leave.SessionEnded {
		t.Fatalf("sender leave did not end session")
	}

	if code := postJSON(t, srv.URL+"/api/sessions/join", joinSessionRequest{RoomCode: created.RoomCode, Name: "Carol", TargetLanguage: "fr"}, nil); code != http.StatusBadRequest {
		t.Fatalf("join ended session status = %d, want 400", code)
	}
}

func TestCreateSessionEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	// Creating a session needs no request body; defaults fill in.
	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var created sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.SourceLanguage != "en" {
		t.Fatalf("source language = %q, want default en", created.SourceLanguage)
	}
	if len(created.RoomCode) != 6 {
		t.Fatalf("room code = %q, want 6 characters", created.RoomCode)
	}
}

func TestTranslateWebSocketFlow(t *testing.T) {
	cfg := testConfig()
	srv, _ := newTestServer(t, cfg)
	conn := dialWS(t, wsURL(srv, "/ws/translate"))

	readUntil(t, conn, string(protocol.TypeConnectionEstablished))

	if err := conn.WriteJSON(protocol.Configure{Type: protocol.TypeConfigure, SourceLanguage: "en", TargetLanguage: "es"}); err != nil {
		t.Fatalf("write configure: %v", err)
	}
	readUntil(t, conn, string(protocol.TypeConfigured))

	// One chunk over the buffer cap completes the utterance immediately.
	chunk := make([]byte, cfg.SampleRate*2/5)
	if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	readUntil(t, conn, string(protocol.TypeProcessing))
	var tr protocol.Transcription
	if err := json.Unmarshal(readUntil(t, conn, string(protocol.TypeTranscription)), &tr); err != nil {
		t.Fatalf("decode transcription: %v", err)
	}
	if tr.Text != "hello" {
		t.Fatalf("transcription = %+v", tr)
	}
	var trans protocol.Translation
	if err := json.Unmarshal(readUntil(t, conn, string(protocol.TypeTranslation)), &trans); err != nil {
		t.Fatalf("decode translation: %v", err)
	}
	if trans.Text != "[es] hello" {
		t.Fatalf("translation = %+v", trans)
	}
	if data := readUntil(t, conn, "binary"); len(data) == 0 {
		t.Fatalf("binary audio frame is empty")
	}
	readUntil(t, conn, string(protocol.TypeAudioComplete))
}

func TestRoomWebSocketFanOut(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	var created sessionResponse
	postJSON(t, srv.URL+"/api/sessions", createSessionRequest{SenderName: "Alice", SourceLanguage: "en"}, &created)
	var joined sessionResponse
	postJSON(t, srv.URL+"/api/sessions/join", joinSessionRequest{RoomCode: created.RoomCode, Name: "Bob", TargetLanguage: "es"}, &joined)

	receiver := dialWS(t, wsURL(srv, "/ws/session/"+created.RoomCode+"?participant_id="+joined.ParticipantID))
	readUntil(t, receiver, string(protocol.TypeConnectionEstablished))

	sender := dialWS(t, wsURL(srv, "/ws/session/"+created.RoomCode+"?participant_id="+created.ParticipantID))
	readUntil(t, sender, string(protocol.TypeConnectionEstablished))
	readUntil(t, receiver, string(protocol.TypeParticipantJoined))

	payload := base64.StdEncoding.EncodeToString([]byte("recorded audio"))
	if err := sender.WriteJSON(protocol.AudioFile{Type: protocol.TypeAudioFile, AudioData: payload}); err != nil {
		t.Fatalf("write audio_file: %v", err)
	}

	var msg protocol.NewMessage
	if err := json.Unmarshal(readUntil(t, receiver, string(protocol.TypeNewMessage)), &msg); err != nil {
		t.Fatalf("decode new_message: %v", err)
	}
	if msg.SenderName != "Alice" || msg.Transcription != "hello" || msg.Translation != "[es] hello" {
		t.Fatalf("new_message = %+v", msg)
	}
	if msg.Audio == "" {
		t.Fatalf("new_message has no audio")
	}
}

func TestRoomWebSocketRejectsUnknownParticipant(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	var created sessionResponse
	postJSON(t, srv.URL+"/api/sessions", createSessionRequest{SenderName: "Alice"}, &created)

	url := wsURL(srv, "/ws/session/"+created.RoomCode+"?participant_id=nope")
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("dial with unknown participant should fail")
	} else if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("dial response = %+v, want 404", resp)
	}
}

func TestAdmissionLimitClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerIP = 1
	srv, _ := newTestServer(t, cfg)

	first := dialWS(t, wsURL(srv, "/ws/translate"))
	readUntil(t, first, string(protocol.TypeConnectionEstablished))

	second := dialWS(t, wsURL(srv, "/ws/translate"))
	_ = second.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := second.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("second connection error = %v, want close %d", err, websocket.ClosePolicyViolation)
	}
}

func TestJobEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	pcm := make([]byte, 16000*2)
	wav, err := audio.EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "speech.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(wav); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = mw.WriteField("source_language", "en")
	_ = mw.WriteField("target_language", "es")
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/jobs", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /api/jobs: %v", err)
	}
	var job jobs.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		getJSON(t, fmt.Sprintf("%s/api/jobs/%s", srv.URL, job.ID), &job)
		if job.Status == jobs.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed, last = %+v", job)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if job.Translation != "[es] hello" || job.Progress != 100 {
		t.Fatalf("completed job = %+v", job)
	}

	audioResp, err := http.Get(fmt.Sprintf("%s/api/jobs/%s/audio", srv.URL, job.ID))
	if err != nil {
		t.Fatalf("GET job audio: %v", err)
	}
	defer audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusOK {
		t.Fatalf("audio status = %d", audioResp.StatusCode)
	}
	if ct := audioResp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("audio content type = %q", ct)
	}

	if code := getJSON(t, srv.URL+"/api/jobs/doesnotexist", nil); code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", code)
	}
}
