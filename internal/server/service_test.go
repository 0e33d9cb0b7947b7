package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/theirongolddev/chatstate/internal/model"
	"github.com/theirongolddev/chatstate/internal/store"
)

func newTestServer(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	st := store.NewMemoryStore(nil)
	svc := New(Config{EventsBuffer: 50}, st, nil, nil)
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = st.Close()
	})
	return svc, ts
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestChatLifecycle(t *testing.T) {
	_, ts := newTestServer(t)
	chatURL := ts.URL + "/v1/chats/c1"

	resp := do(t, http.MethodGet, chatURL, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET unknown status = %d, want 404", resp.StatusCode)
	}

	resp = do(t, http.MethodPut, chatURL, saveRequest{
		Messages:       []model.Message{{Role: model.RoleUser, Content: "hello"}},
		InitialRequest: "hello",
		ProjectRoot:    "/home/u",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT status = %d, want 204", resp.StatusCode)
	}

	resp = do(t, http.MethodPut, chatURL+"/cache", model.CacheInfo{TokensCached: 120})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT cache status = %d, want 204", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, chatURL, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", resp.StatusCode)
	}
	var sess model.ChatSession
	decode(t, resp, &sess)
	if len(sess.Messages) != 1 || sess.ProjectRoot != "/home/u" {
		t.Fatalf("session = %+v", sess)
	}
	if sess.CacheInfo == nil || sess.CacheInfo.TokensCached != 120 {
		t.Fatalf("cache info = %+v", sess.CacheInfo)
	}

	resp = do(t, http.MethodDelete, chatURL, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, chatURL, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET after clear status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateChatAssignsID(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/v1/chats", saveRequest{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out map[string]string
	decode(t, resp, &out)
	if out["chat_id"] == "" {
		t.Fatal("no chat_id returned")
	}

	resp = do(t, http.MethodGet, ts.URL+"/v1/chats", nil)
	var chats []model.ChatSummary
	decode(t, resp, &chats)
	if len(chats) != 1 || chats[0].ChatID != out["chat_id"] || chats[0].MessageCount != 1 {
		t.Fatalf("list = %+v", chats)
	}
}

func TestExchangeFlow(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/v1/chats/c1/exchanges", beginRequest{Model: "claude-sonnet-4-5"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("begin status = %d, want 201", resp.StatusCode)
	}
	var ex model.Exchange
	decode(t, resp, &ex)
	if ex.ExchangeID == 0 {
		t.Fatal("exchange id not assigned")
	}

	finishURL := ts.URL + "/v1/exchanges/" + strconv.FormatInt(ex.ExchangeID, 10) + "/finish"
	resp = do(t, http.MethodPost, finishURL, finishRequest{Usage: model.Usage{InputTokens: 1_000_000}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finish status = %d, want 200", resp.StatusCode)
	}
	var done model.Exchange
	decode(t, resp, &done)
	if !done.Cost.Priced || done.Cost.EstimatedCost != 3.0 {
		t.Fatalf("cost = %+v", done.Cost)
	}

	resp = do(t, http.MethodPost, finishURL, finishRequest{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second finish status = %d, want 404", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, ts.URL+"/v1/chats/c1/exchanges", nil)
	var exs []model.Exchange
	decode(t, resp, &exs)
	if len(exs) != 1 || exs[0].Cost.EstimatedCost != 3.0 {
		t.Fatalf("exchanges = %+v", exs)
	}

	resp = do(t, http.MethodGet, ts.URL+"/v1/status", nil)
	var st Status
	decode(t, resp, &st)
	if st.Backend != store.KindMemory || st.Summary.Exchanges != 1 || st.Summary.EstimatedCostUSD != 3.0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestBeginExchangeRequiresModel(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/v1/chats/c1/exchanges", beginRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMalformedBody(t *testing.T) {
	_, ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/chats/c1", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEventsRecorded(t *testing.T) {
	_, ts := newTestServer(t)
	do(t, http.MethodPut, ts.URL+"/v1/chats/c1", saveRequest{})
	do(t, http.MethodDelete, ts.URL+"/v1/chats/c1", nil)

	resp := do(t, http.MethodGet, ts.URL+"/v1/events", nil)
	var events []Event
	decode(t, resp, &events)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventChatSaved || events[1].Type != EventChatCleared {
		t.Fatalf("types = %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].ID >= events[1].ID {
		t.Fatalf("ids not increasing: %d, %d", events[0].ID, events[1].ID)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	rd := bufio.NewReader(resp.Body)

	if typ := readSSEType(t, rd); typ != EventSnapshot {
		t.Fatalf("first event = %q, want %q", typ, EventSnapshot)
	}

	do(t, http.MethodPut, ts.URL+"/v1/chats/c1", saveRequest{})
	if typ := readSSEType(t, rd); typ != EventChatSaved {
		t.Fatalf("second event = %q, want %q", typ, EventChatSaved)
	}
}

func readSSEType(t *testing.T, rd *bufio.Reader) string {
	t.Helper()
	var typ string
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return typ
		}
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			typ = v
		}
	}
}

func TestPublishEventRingBuffer(t *testing.T) {
	s := New(Config{EventsBuffer: 2}, store.NewMemoryStore(nil), nil, nil)

	s.emit(Event{Type: EventChatSaved})
	s.emit(Event{Type: EventChatSaved})
	s.emit(Event{Type: EventChatSaved})

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) != 2 {
		t.Fatalf("events len = %d, want 2", len(s.events))
	}
	if s.events[0].ID != 2 || s.events[1].ID != 3 {
		t.Fatalf("events ring contains IDs [%d, %d], want [2, 3]", s.events[0].ID, s.events[1].ID)
	}
}

func TestConcurrentEmitKeepsIDOrder(t *testing.T) {
	const n = 200
	s := New(Config{EventsBuffer: n}, store.NewMemoryStore(nil), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.emit(Event{Type: EventChatSaved})
		}()
	}
	wg.Wait()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) != n {
		t.Fatalf("events len = %d, want %d", len(s.events), n)
	}
	for i, ev := range s.events {
		if ev.ID != int64(i+1) {
			t.Fatalf("events[%d].ID = %d, want %d", i, ev.ID, i+1)
		}
	}
}
