package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-cap-alerts/internal/blobstore"
	"github.com/mr1hm/go-cap-alerts/internal/broadcast"
	"github.com/mr1hm/go-cap-alerts/internal/cap"
	"github.com/mr1hm/go-cap-alerts/internal/dispatch"
	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/msglog"
	"github.com/mr1hm/go-cap-alerts/internal/ratelimit"
	"github.com/mr1hm/go-cap-alerts/internal/recipient"
	"github.com/mr1hm/go-cap-alerts/internal/repository"
	"github.com/mr1hm/go-cap-alerts/internal/sender"
)

const testDirectory = `
persons:
  - id: ops-lead
    preferred: EMAIL
    contacts:
      EMAIL: lead@example.org
      SMS: "+15550100"
  - id: duty-officer
    contacts:
      EMAIL: duty@example.org
groups:
  - id: ops
    members: [ops-lead, duty-officer]
`

const floodCAP = `<?xml version="1.0" encoding="UTF-8"?>
<alert xmlns="urn:oasis:names:tc:emergency:cap:1.2">
  <identifier>EOC-FLOOD-1</identifier>
  <sender>eoc@example.org</sender>
  <sent>2026-04-02T09:30:00-05:00</sent>
  <status>Actual</status>
  <msgType>Alert</msgType>
  <scope>Public</scope>
  <info>
    <category>Met</category>
    <event>Flood Warning</event>
    <urgency>Expected</urgency>
    <severity>Severe</severity>
    <certainty>Likely</certainty>
    <headline>Flood Warning issued for Green River</headline>
    <area>
      <areaDesc>Green River at Munfordville</areaDesc>
    </area>
  </info>
</alert>`

type mockBlobs struct {
	content map[string][]byte
}

func (m *mockBlobs) Get(uriOrDigest string) ([]byte, string, error) {
	c, ok := m.content[uriOrDigest]
	if !ok {
		return nil, "", blobstore.ErrNotFound
	}
	return c, "image/png", nil
}

type testEnv struct {
	db       *repository.SQLiteDB
	router   *gin.Engine
	events   *broadcast.Broadcaster
	recorder *msglog.Recorder
}

func okSender() sender.Sender {
	return sender.SenderFunc(func(ctx context.Context, address string, channel models.Channel, c sender.Content) error {
		return nil
	})
}

func setupTestEnv(t *testing.T, snd sender.Sender, ceiling int) *testEnv {
	t.Helper()
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	dir, err := recipient.ParseYAMLDirectory([]byte(testDirectory))
	if err != nil {
		t.Fatalf("ParseYAMLDirectory failed: %v", err)
	}
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ceiling, time.Hour)
	if err != nil {
		t.Fatalf("ratelimit.New failed: %v", err)
	}

	events := broadcast.NewBroadcaster()
	fanout := dispatch.NewFanout(db, db, limiter, snd, events, dispatch.Config{Workers: 2, QueueSize: 8, SendTimeout: time.Second})
	fanout.Start(context.Background())
	recorder := msglog.NewRecorder(db)
	senders := sender.NewRegistry()
	senders.Register(models.ChannelEmail, sender.NewBreaker("smtp", snd, sender.DefaultBreakerConfig()))

	t.Cleanup(func() {
		fanout.Stop()
		events.Close()
		db.Close()
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(Deps{
		Alerts:    db,
		Outbox:    db,
		Recorder:  recorder,
		Assembler: cap.NewAssembler(nil),
		Resolver:  recipient.NewResolver(dir),
		Fanout:    fanout,
		Events:    events,
		Blobs:     &mockBlobs{content: map[string][]byte{"abc123": []byte("png-bytes")}},
		Limiter:   limiter,
		Senders:   senders,
	})
	handler.RegisterRoutes(router)
	return &testEnv{db: db, router: router, events: events, recorder: recorder}
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) newMessage(t *testing.T) string {
	t.Helper()
	id, err := e.recorder.Record(context.Background(), models.DirectionOutbound, msglog.Content{
		Subject: "Flood Warning",
		Body:    "River expected to crest at 5.2m by 18:00",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	return id
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)

	w := env.do(t, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Status    string `json:"status"`
		RateLimit struct {
			Ceiling int    `json:"ceiling"`
			Window  string `json:"window"`
		} `json:"rateLimit"`
		Senders map[string]string `json:"senders"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %s", resp.Status)
	}
	if resp.RateLimit.Ceiling != 10 || resp.RateLimit.Window != "1h0m0s" {
		t.Errorf("unexpected rate limit %+v", resp.RateLimit)
	}
	if resp.Senders["EMAIL"] != "closed" {
		t.Errorf("expected closed EMAIL breaker, got %v", resp.Senders)
	}
}

func TestMetrics(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)
	env.do(t, "POST", "/api/alerts", "application/xml", floodCAP)

	w := env.do(t, "GET", "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "capalerts_alerts_ingested_total") {
		t.Error("expected capalerts metrics in exposition")
	}
}

func TestCreateAlert_XML(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)

	w := env.do(t, "POST", "/api/alerts", "application/xml", floodCAP)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != capContentType {
		t.Errorf("expected content-type %s, got %s", capContentType, ct)
	}
	id := w.Header().Get("X-Alert-ID")
	if id == "" {
		t.Fatal("expected X-Alert-ID header")
	}

	created, err := cap.Unmarshal(w.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not a CAP document: %v", err)
	}
	if created.Identifier != "EOC-FLOOD-1" || created.Sent().IsZero() {
		t.Errorf("unexpected alert: identifier=%s sent=%v", created.Identifier, created.Sent())
	}

	w = env.do(t, "GET", "/api/alerts/"+id, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	fetched, err := cap.Unmarshal(w.Body.Bytes())
	if err != nil {
		t.Fatalf("stored alert is not a CAP document: %v", err)
	}
	if !fetched.Sent().Equal(created.Sent()) {
		t.Errorf("stored sent %v differs from created %v", fetched.Sent(), created.Sent())
	}

	w = env.do(t, "GET", "/api/alerts?direction=Outbound", "", "")
	var list []alertSummary
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(list) != 1 || list[0].Headline != "Flood Warning issued for Green River" {
		t.Errorf("unexpected alert list: %+v", list)
	}
}

func TestCreateAlert_InvalidReportsEveryField(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)

	doc := strings.Replace(floodCAP, "<status>Actual</status>", "<status>Real</status>", 1)
	doc = strings.Replace(doc, "<severity>Severe</severity>", "<severity>Bad</severity>", 1)

	w := env.do(t, "POST", "/api/alerts", "application/xml", doc)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Fields []cap.FieldError `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	found := map[string]bool{}
	for _, f := range resp.Fields {
		found[f.Field] = true
	}
	if !found["status"] || !found["info[0].severity"] {
		t.Errorf("expected status and severity violations, got %+v", resp.Fields)
	}

	w = env.do(t, "GET", "/api/alerts", "", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("rejected alert must not be stored, got %s", w.Body.String())
	}
}

func TestCreateAlert_RawJSON(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)

	body := `{
		"identifier": "EOC-2026-0001",
		"sender": "eoc@example.org",
		"status": "Exercise",
		"msgType": "Alert",
		"scope": "Public",
		"infoIds": ["en"],
		"infos": {"en": {"categories": ["Safety"], "event": "Drill", "urgency": "Future", "severity": "Minor", "certainty": "Possible", "areaIds": ["a"]}},
		"areas": {"a": {"description": "Downtown"}}
	}`
	w := env.do(t, "POST", "/api/alerts", "application/json", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	body = strings.Replace(body, `"areaIds": ["a"]`, `"areaIds": ["a", "b"]`, 1)
	body = strings.Replace(body, "EOC-2026-0001", "EOC-2026-0002", 1)
	w = env.do(t, "POST", "/api/alerts", "application/json", body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422 for dangling area, got %d", w.Code)
	}
}

func TestCreateAlert_Duplicate(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)

	if w := env.do(t, "POST", "/api/alerts", "application/xml", floodCAP); w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/alerts", "application/xml", floodCAP); w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestDeriveAlert(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)

	w := env.do(t, "POST", "/api/alerts", "application/xml", floodCAP)
	priorID := w.Header().Get("X-Alert-ID")
	prior, _ := cap.Unmarshal(w.Body.Bytes())

	w = env.do(t, "POST", "/api/alerts/"+priorID+"/derive", "application/json", `{"msgType":"Cancel"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	derived, err := cap.Unmarshal(w.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not a CAP document: %v", err)
	}
	if derived.MsgType != cap.MsgTypeCancel || derived.Identifier == prior.Identifier {
		t.Errorf("unexpected derived alert: %s %s", derived.MsgType, derived.Identifier)
	}
	if len(derived.References) != 1 || derived.References[0].Identifier != prior.Identifier {
		t.Errorf("expected reference to prior, got %+v", derived.References)
	}

	if w := env.do(t, "POST", "/api/alerts/"+priorID+"/derive", "application/json", `{"msgType":"Alert"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for msgType Alert, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/alerts/missing/derive", "application/json", `{"msgType":"Update"}`); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestMessageLifecycle(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)

	long := strings.Repeat("a", 100)
	w := env.do(t, "POST", "/api/messages", "application/json", `{"body":"`+long+`","priority":3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]string
	json.Unmarshal(w.Body.Bytes(), &created)
	id := created["id"]

	w = env.do(t, "GET", "/api/messages/"+id, "", "")
	var resp messageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Display != strings.Repeat("a", 76)+"..." {
		t.Errorf("unexpected display form %q", resp.Display)
	}
	if resp.Message.Priority != models.PriorityHigh || resp.Message.Direction != models.DirectionOutbound {
		t.Errorf("unexpected message: %+v", resp.Message)
	}

	w = env.do(t, "POST", "/api/messages/"+id+"/verify", "application/json", `{"comment":"confirmed by phone"}`)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Message.Verified || resp.Message.VerifiedComment != "confirmed by phone" {
		t.Errorf("expected verified message, got %+v", resp.Message)
	}

	w = env.do(t, "POST", "/api/messages/"+id+"/reply", "application/json", `{"reply":"acknowledged"}`)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Message.Reply != "acknowledged" {
		t.Errorf("expected reply to be set, got %q", resp.Message.Reply)
	}

	if w := env.do(t, "POST", "/api/messages/missing/actioned", "application/json", `{}`); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestCreateMessage_Rejects(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)

	tests := []struct {
		name string
		body string
	}{
		{"empty", `{}`},
		{"priority out of range", `{"body":"x","priority":7}`},
		{"not json", `body`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, "POST", "/api/messages", "application/json", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestDispatchMessage(t *testing.T) {
	snd := sender.SenderFunc(func(ctx context.Context, address string, channel models.Channel, c sender.Content) error {
		if address == "duty@example.org" {
			return &sender.Failure{Channel: channel, Address: address, Reason: "mailbox full"}
		}
		return nil
	})
	env := setupTestEnv(t, snd, 10)
	msgID := env.newMessage(t)

	w := env.do(t, "POST", "/api/messages/"+msgID+"/dispatch", "application/json",
		`{"targets":["group:ops","entity:ghost"],"channel":"email"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Report     dispatch.Report    `json:"report"`
		Unresolved []unresolvedTarget `json:"unresolved"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Report.Counts[models.StatusSent] != 1 || resp.Report.Counts[models.StatusInvalid] != 1 {
		t.Errorf("expected {Sent:1, Invalid:1}, got %v", resp.Report.Counts)
	}
	if len(resp.Unresolved) != 1 || resp.Unresolved[0].Target != "entity:ghost" {
		t.Errorf("expected entity:ghost unresolved, got %+v", resp.Unresolved)
	}

	w = env.do(t, "GET", "/api/messages/"+msgID+"/outbox", "", "")
	var entries []models.OutboxEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(entries) != 2 || entries[0].Address != "lead@example.org" || entries[1].Address != "duty@example.org" {
		t.Errorf("expected entries in group order, got %+v", entries)
	}
}

func TestDispatchMessage_Errors(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)
	msgID := env.newMessage(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"no targets", "/api/messages/" + msgID + "/dispatch", `{"targets":[]}`, http.StatusBadRequest},
		{"unknown channel", "/api/messages/" + msgID + "/dispatch", `{"targets":["group:ops"],"channel":"pigeon"}`, http.StatusBadRequest},
		{"nothing resolved", "/api/messages/" + msgID + "/dispatch", `{"targets":["group:nobody"]}`, http.StatusUnprocessableEntity},
		{"unknown message", "/api/messages/missing/dispatch", `{"targets":["email:ops@example.org"]}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, "POST", tt.path, "application/json", tt.body); w.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestDraftAndRetryOutbox(t *testing.T) {
	env := setupTestEnv(t, okSender(), 1)
	msgID := env.newMessage(t)

	w := env.do(t, "POST", "/api/messages/"+msgID+"/dispatch", "application/json", `{"targets":["group:ops"],"channel":"EMAIL"}`)
	var resp dispatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Report.Deferred) != 1 {
		t.Fatalf("expected one deferred entry, got %+v", resp.Report)
	}
	deferred := resp.Report.Deferred[0]
	var sent string
	for _, id := range resp.Report.EntryIDs {
		if id != deferred {
			sent = id
		}
	}

	if w := env.do(t, "POST", "/api/outbox/"+deferred+"/draft", "", ""); w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, "POST", "/api/outbox/"+deferred+"/draft", "", ""); w.Code != http.StatusConflict {
		t.Errorf("expected status 409 for a Draft entry, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/outbox/"+sent+"/draft", "", ""); w.Code != http.StatusConflict {
		t.Errorf("expected status 409 for a Sent entry, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/outbox/missing/draft", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/outbox/retry", "application/json", `{"entryIds":["`+deferred+`","`+sent+`"]}`)
	var report dispatch.Report
	json.Unmarshal(w.Body.Bytes(), &report)
	if len(report.Skipped) != 2 {
		t.Errorf("expected Draft and Sent entries to be skipped, got %+v", report)
	}
}

func TestGetBlob(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)

	w := env.do(t, "GET", "/api/blobs/abc123", "", "")
	if w.Code != http.StatusOK || w.Body.String() != "png-bytes" {
		t.Errorf("unexpected blob response %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected content-type image/png, got %s", ct)
	}
	if w := env.do(t, "GET", "/api/blobs/nope", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestStream_FiltersByMessage(t *testing.T) {
	env := setupTestEnv(t, okSender(), 10)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/stream?message_id=m-2", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.events.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	env.events.Publish(models.OutboxEvent{EntryID: "e-1", MessageID: "m-1", Status: models.StatusSent})
	env.events.Publish(models.OutboxEvent{EntryID: "e-2", MessageID: "m-2", Status: models.StatusInvalid})

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var e models.OutboxEvent
		if err := json.Unmarshal(bytes.TrimSpace([]byte(strings.TrimPrefix(line, "data:"))), &e); err != nil {
			t.Fatalf("bad event payload %q: %v", line, err)
		}
		if e.EntryID != "e-2" || e.Status != models.StatusInvalid {
			t.Errorf("expected only the m-2 event, got %+v", e)
		}
		return
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stream read failed: %v", err)
	}
	t.Fatal("stream closed without an event")
}
