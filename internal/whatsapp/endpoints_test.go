package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/REFFIX-BR/acaiteria-sub001/config"
)

// requestLog captures method+path pairs in arrival order.
type requestLog struct {
	mu   sync.Mutex
	seen []string
}

func (l *requestLog) add(r *http.Request) {
	l.mu.Lock()
	l.seen = append(l.seen, r.Method+" "+r.URL.Path)
	l.mu.Unlock()
}

func (l *requestLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.seen))
	copy(out, l.seen)
	return out
}

func newTestProber(t *testing.T, ts *httptest.Server) *Prober {
	t.Helper()
	cfg := config.WhatsappConfig{GatewayURL: ts.URL, Apikey: "test-key"}
	return NewProber(ts.URL, NewNegotiator(cfg, ts.Client()), ts.Client())
}

func TestCallProbesCandidatesInOrder(t *testing.T) {
	log := &requestLog{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		if r.URL.Path != "/v1/instance/create" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("<html><body>Cannot POST</body></html>"))
			return
		}
		w.Write([]byte(`{"instance":{"instanceName":"loja_7"},"hash":"tok-7"}`))
	}))
	defer ts.Close()

	p := newTestProber(t, ts)
	resp, err := p.Call(context.Background(), OpCreate, "loja_7", "", map[string]interface{}{"instanceName": "loja_7"}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Data == nil {
		t.Fatal("expected decoded JSON data")
	}
	want := []string{
		"POST /instance/create",
		"POST /instances/create",
		"POST /v1/instance/create",
	}
	got := log.list()
	if len(got) != len(want) {
		t.Fatalf("expected probing to stop at first success, got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempt %d was %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCallExhaustsAllCandidates(t *testing.T) {
	log := &requestLog{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("<html>404</html>"))
	}))
	defer ts.Close()

	p := newTestProber(t, ts)
	_, err := p.Call(context.Background(), OpStatus, "loja_7", "", nil, nil)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if n := len(log.list()); n != len(operationCandidates[OpStatus]) {
		t.Fatalf("expected every candidate tried, got %d attempts", n)
	}
}

func TestCallConflictOnCreate(t *testing.T) {
	log := &requestLog{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"Conflict","message":"Instance already exists"}`))
	}))
	defer ts.Close()

	p := newTestProber(t, ts)
	_, err := p.Call(context.Background(), OpCreate, "loja_7", "", nil, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if n := len(log.list()); n != 1 {
		t.Fatalf("409 must stop probing immediately, got %d attempts", n)
	}
}

func TestCallStructured404IsNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":404,"error":"Not Found","message":"instance does not exist"}`))
	}))
	defer ts.Close()

	p := newTestProber(t, ts)
	_, err := p.Call(context.Background(), OpStatus, "loja_7", "", nil, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for structured 404, got %v", err)
	}
}

func TestCallHTMLBodyOnSuccessContinues(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/instance/connectionState/loja_7" {
			w.Write([]byte("<html>proxy landing page</html>"))
			return
		}
		w.Write([]byte(`{"state":"open"}`))
	}))
	defer ts.Close()

	p := newTestProber(t, ts)
	resp, err := p.Call(context.Background(), OpStatus, "loja_7", "", nil, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !ConnectedState(resp) {
		t.Fatal("expected the JSON candidate to win over the HTML one")
	}
}

func TestCallBareBase64AcceptedForConnect(t *testing.T) {
	payload := strings.Repeat("iVBORw0KGgoAAAANSUhEUg", 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer ts.Close()

	p := newTestProber(t, ts)
	resp, err := p.Call(context.Background(), OpConnect, "loja_7", "", nil, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Data != nil {
		t.Fatal("bare base64 must not be decoded as JSON")
	}
	art, ok := ExtractArtifact(resp, "loja_7")
	if !ok || !strings.HasPrefix(art.QRCode, "data:image/png;base64,") {
		t.Fatalf("expected a data URL artifact, got %+v ok=%v", art, ok)
	}
}

func TestCallSessionTokenPresentedAsApikey(t *testing.T) {
	var mu sync.Mutex
	var apikey, bearer string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		apikey = r.Header.Get("apikey")
		bearer = r.Header.Get("Authorization")
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	p := newTestProber(t, ts)
	if _, err := p.Call(context.Background(), OpStatus, "loja_7", "sess-tok-1", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if apikey != "sess-tok-1" || bearer != "" {
		t.Fatalf("session token must ride the apikey header, got apikey=%q auth=%q", apikey, bearer)
	}
}

func TestCallEmptyBodySuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	p := newTestProber(t, ts)
	resp, err := p.Call(context.Background(), OpDelete, "loja_7", "", nil, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Code != http.StatusOK || resp.Data != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}
