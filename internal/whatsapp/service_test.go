package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
)

// fakeGateway emulates the session gateway's HTTP surface with per-test
// switches for the failure modes the orchestrator must absorb.
type fakeGateway struct {
	mu sync.Mutex

	createCalls  int
	connectCalls int
	statusCalls  int
	deleteCalls  int
	logoutCalls  int

	// createFailFirstCandidate forces an HTML 404 on /instance/create so the
	// second route variant has to win.
	createFailFirstCandidate bool
	// createConflictOnce answers the first create with a 409.
	createConflictOnce bool
	// statusOpenAfter is how many status calls report "connecting" before
	// "open"; negative means never open.
	statusOpenAfter int
	// statusGone makes every status call a structured 404.
	statusGone bool
	// deleteFail makes every delete candidate answer 500.
	deleteFail bool

	token string
	qr    string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		token:           "sess-tok-1",
		qr:              strings.Repeat("iVBORw0KGgoAAAANSUhEUg", 3),
		statusOpenAfter: -1,
	}
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	path := r.URL.Path
	switch {
	case strings.Contains(path, "/create"):
		g.createCalls++
		if g.createConflictOnce {
			g.createConflictOnce = false
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"Conflict","message":"Instance already exists"}`))
			return
		}
		if g.createFailFirstCandidate && path == "/instance/create" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("<html>Cannot POST /instance/create</html>"))
			return
		}
		w.Write([]byte(`{"instance":{"instanceName":"loja_42"},"hash":"` + g.token + `"}`))
	case strings.Contains(path, "/connectionState/") || strings.Contains(path, "/status/"):
		g.statusCalls++
		if g.statusGone {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":404,"error":"Not Found","message":"instance does not exist"}`))
			return
		}
		if g.statusOpenAfter >= 0 && g.statusCalls > g.statusOpenAfter {
			w.Write([]byte(`{"instance":{"state":"open"}}`))
			return
		}
		w.Write([]byte(`{"instance":{"state":"connecting"}}`))
	case strings.Contains(path, "/connect/") || strings.Contains(path, "/qrcode/"):
		g.connectCalls++
		w.Write([]byte(`{"qrcode":{"base64":"` + g.qr + `"}}`))
	case strings.Contains(path, "/logout/"):
		g.logoutCalls++
		w.Write([]byte(`{}`))
	case strings.Contains(path, "/delete/"):
		g.deleteCalls++
		if g.deleteFail {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"Internal Server Error"}`))
			return
		}
		w.Write([]byte(`{"status":"SUCCESS"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("<html>404</html>"))
	}
}

func (g *fakeGateway) counts() (create, connect, status, del, logout int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.connectCalls, g.statusCalls, g.deleteCalls, g.logoutCalls
}

func waitForConnected(t *testing.T, svc *Service, tenantID int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, connected, err := svc.Status(context.Background(), tenantID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if connected {
			if state.Status != StateConnected {
				t.Fatalf("connected but state is %q", state.Status)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("instance never reached the connected state")
}

func TestRequestConnectionQRCodeFlow(t *testing.T) {
	gw := newFakeGateway()
	gw.createFailFirstCandidate = true
	gw.statusOpenAfter = 2
	ts := httptest.NewServer(gw)
	defer ts.Close()

	store := &fakeStore{}
	svc := newTestService(t, ts.URL, store)
	tenant := testTenant()

	inst, art, err := svc.RequestConnection(context.Background(), tenant, ModeQRCode, "")
	if err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}
	if inst.InstanceName != "acaiteria_centro_42" {
		t.Fatalf("instance name = %q", inst.InstanceName)
	}
	if inst.InstanceToken != "sess-tok-1" {
		t.Fatalf("session token not captured: %q", inst.InstanceToken)
	}
	if art == nil || !strings.HasPrefix(art.QRCode, "data:image/png;base64,") {
		t.Fatalf("expected a QR data URL, got %+v", art)
	}

	state, connected, err := svc.Status(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if connected || state.Status != StateWaiting {
		t.Fatalf("expected waiting right after the request, got %+v", state)
	}
	if state.QRCode == "" {
		t.Fatal("waiting state must carry the artifact")
	}

	waitForConnected(t, svc, tenant.ID)

	persisted, err := store.GetInstanceByTenant(context.Background(), tenant.ID)
	if err != nil || persisted == nil {
		t.Fatalf("GetInstanceByTenant: %v %v", persisted, err)
	}
	if persisted.Status != domain.InstanceConnected {
		t.Fatalf("persisted status = %q", persisted.Status)
	}
	if persisted.InstanceToken != "sess-tok-1" {
		t.Fatal("status transition must not clobber the session token")
	}
	if persisted.TenantId != tenant.ID {
		t.Fatalf("tenant id drifted: %d", persisted.TenantId)
	}
	if persisted.LastSeenAt == nil {
		t.Fatal("connected transition must stamp last_seen_at")
	}
}

func TestRequestConnectionPairingMode(t *testing.T) {
	gw := newFakeGateway()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/connect/") {
			w.Write([]byte(`{"pairingCode":"WZYEH1YY"}`))
			return
		}
		gw.ServeHTTP(w, r)
	}))
	defer ts.Close()

	store := &fakeStore{}
	svc := newTestService(t, ts.URL, store)
	defer svc.Cancel(context.Background(), 42)

	inst, art, err := svc.RequestConnection(context.Background(), testTenant(), ModePairing, "5511999990000")
	if err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}
	if art == nil || art.PairingCode != "WZYE-H1YY" {
		t.Fatalf("expected a formatted pairing code, got %+v", art)
	}
	if inst.PhoneNumber != "5511999990000" {
		t.Fatalf("phone not persisted: %q", inst.PhoneNumber)
	}
}

func TestRequestConnectionConflictRetriesOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.createConflictOnce = true
	ts := httptest.NewServer(gw)
	defer ts.Close()

	store := &fakeStore{}
	svc := newTestService(t, ts.URL, store)
	defer svc.Cancel(context.Background(), 42)

	inst, _, err := svc.RequestConnection(context.Background(), testTenant(), ModeQRCode, "")
	if err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}
	if inst.InstanceToken != "sess-tok-1" {
		t.Fatalf("token = %q", inst.InstanceToken)
	}
	create, _, _, del, _ := gw.counts()
	if create != 2 {
		t.Fatalf("expected conflict then exactly one retry, got %d creates", create)
	}
	if del != 1 {
		t.Fatalf("expected exactly one stale-session delete, got %d", del)
	}
}

func TestRequestConnectionRejectsActiveSession(t *testing.T) {
	gw := newFakeGateway()
	ts := httptest.NewServer(gw)
	defer ts.Close()

	store := &fakeStore{}
	store.instances = append(store.instances, &domain.WhatsappInstance{
		ID:            1,
		TenantId:      42,
		InstanceName:  "acaiteria_centro_42",
		Status:        domain.InstanceConnected,
		InstanceToken: "old-tok",
	})
	svc := newTestService(t, ts.URL, store)

	_, _, err := svc.RequestConnection(context.Background(), testTenant(), ModeQRCode, "")
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	create, _, _, _, _ := gw.counts()
	if create != 0 {
		t.Fatalf("no create call may happen while the session is live, got %d", create)
	}
}

func TestRequestConnectionReconcilesStaleRecord(t *testing.T) {
	gw := newFakeGateway()
	gw.statusGone = true
	ts := httptest.NewServer(gw)
	defer ts.Close()

	store := &fakeStore{}
	store.instances = append(store.instances, &domain.WhatsappInstance{
		ID:            1,
		TenantId:      42,
		InstanceName:  "acaiteria_centro_42",
		Status:        domain.InstanceConnecting,
		InstanceToken: "stale-tok",
	})
	svc := newTestService(t, ts.URL, store)
	svc.pollWindow = 50 * time.Millisecond
	defer svc.Cancel(context.Background(), 42)

	inst, _, err := svc.RequestConnection(context.Background(), testTenant(), ModeQRCode, "")
	if err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}
	if inst.InstanceToken != "sess-tok-1" {
		t.Fatalf("reconciled row must carry the fresh token, got %q", inst.InstanceToken)
	}
	active := store.activeInstances()
	if len(active) != 1 {
		t.Fatalf("expected exactly one live row after reconcile, got %d", len(active))
	}
	if active[0].Status != domain.InstanceConnecting {
		t.Fatalf("reconciled status = %q", active[0].Status)
	}
}

func TestConcurrentRequestsOneWins(t *testing.T) {
	gw := newFakeGateway()
	ts := httptest.NewServer(gw)
	defer ts.Close()

	store := &fakeStore{}
	svc := newTestService(t, ts.URL, store)
	defer svc.Cancel(context.Background(), 42)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _, err := svc.RequestConnection(context.Background(), testTenant(), ModeQRCode, "")
			errs <- err
		}()
	}
	var okCount, activeCount int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrSessionActive):
			activeCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || activeCount != 1 {
		t.Fatalf("expected one winner and one ErrSessionActive, got ok=%d active=%d", okCount, activeCount)
	}
	if n := len(store.activeInstances()); n != 1 {
		t.Fatalf("expected one live instance, got %d", n)
	}
}

func TestCancelStopsPollingAndIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	ts := httptest.NewServer(gw)
	defer ts.Close()

	store := &fakeStore{}
	svc := newTestService(t, ts.URL, store)

	if _, _, err := svc.RequestConnection(context.Background(), testTenant(), ModeQRCode, ""); err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}
	// let the poller take at least one tick
	time.Sleep(3 * svc.pollInterval)

	if err := svc.Cancel(context.Background(), 42); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, _, before, _, _ := gw.counts()
	time.Sleep(5 * svc.pollInterval)
	_, _, after, _, _ := gw.counts()
	if after > before+1 {
		t.Fatalf("poller kept running after cancel: %d -> %d status calls", before, after)
	}

	state, connected, err := svc.Status(context.Background(), 42)
	if err != nil || connected || state.Status != StateDisconnected {
		t.Fatalf("expected disconnected after cancel, got %+v connected=%v err=%v", state, connected, err)
	}
	persisted, _ := store.GetInstanceByTenant(context.Background(), 42)
	if persisted == nil || persisted.Status != domain.InstanceDisconnected {
		t.Fatalf("persisted status after cancel: %+v", persisted)
	}

	// a second cancel, and one with no attempt at all, are both no-ops
	if err := svc.Cancel(context.Background(), 42); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if err := svc.Cancel(context.Background(), 99); err != nil {
		t.Fatalf("Cancel without attempt: %v", err)
	}
}

func TestLogout(t *testing.T) {
	gw := newFakeGateway()
	ts := httptest.NewServer(gw)
	defer ts.Close()

	store := &fakeStore{}
	store.instances = append(store.instances, &domain.WhatsappInstance{
		ID:            7,
		TenantId:      42,
		InstanceName:  "acaiteria_centro_42",
		Status:        domain.InstanceConnected,
		InstanceToken: "sess-tok-1",
	})
	svc := newTestService(t, ts.URL, store)

	if err := svc.Logout(context.Background(), 42); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	_, _, _, _, logouts := gw.counts()
	if logouts != 1 {
		t.Fatalf("expected one gateway logout, got %d", logouts)
	}
	persisted, _ := store.GetInstanceByTenant(context.Background(), 42)
	if persisted == nil || persisted.Status != domain.InstanceDisconnected {
		t.Fatalf("logout must keep the row and mark it disconnected: %+v", persisted)
	}

	if err := svc.Logout(context.Background(), 99); !errors.Is(err, ErrNoInstance) {
		t.Fatalf("expected ErrNoInstance, got %v", err)
	}
}

func TestDestroy(t *testing.T) {
	t.Run("gateway confirms", func(t *testing.T) {
		gw := newFakeGateway()
		ts := httptest.NewServer(gw)
		defer ts.Close()

		store := &fakeStore{}
		store.instances = append(store.instances, &domain.WhatsappInstance{
			ID: 7, TenantId: 42, InstanceName: "acaiteria_centro_42",
			Status: domain.InstanceConnected, InstanceToken: "sess-tok-1",
		})
		svc := newTestService(t, ts.URL, store)

		confirmed, err := svc.Destroy(context.Background(), 42)
		if err != nil {
			t.Fatalf("Destroy: %v", err)
		}
		if !confirmed {
			t.Fatal("expected gateway confirmation")
		}
		if n := len(store.activeInstances()); n != 0 {
			t.Fatalf("expected the row soft-deleted, %d still live", n)
		}
	})

	t.Run("gateway unreachable still deletes locally", func(t *testing.T) {
		gw := newFakeGateway()
		gw.deleteFail = true
		ts := httptest.NewServer(gw)
		defer ts.Close()

		store := &fakeStore{}
		store.instances = append(store.instances, &domain.WhatsappInstance{
			ID: 7, TenantId: 42, InstanceName: "acaiteria_centro_42",
			Status: domain.InstanceConnected, InstanceToken: "sess-tok-1",
		})
		svc := newTestService(t, ts.URL, store)

		confirmed, err := svc.Destroy(context.Background(), 42)
		if err != nil {
			t.Fatalf("Destroy: %v", err)
		}
		if confirmed {
			t.Fatal("gateway failed every delete candidate, must not report confirmed")
		}
		if n := len(store.activeInstances()); n != 0 {
			t.Fatal("local soft delete is authoritative regardless of the gateway")
		}
	})
}

func TestStatusFallsBackToPersistedRecord(t *testing.T) {
	gw := newFakeGateway()
	ts := httptest.NewServer(gw)
	defer ts.Close()

	store := &fakeStore{}
	svc := newTestService(t, ts.URL, store)

	state, connected, err := svc.Status(context.Background(), 42)
	if err != nil || connected || state.Status != StateDisconnected {
		t.Fatalf("no record: got %+v connected=%v err=%v", state, connected, err)
	}

	store.instances = append(store.instances, &domain.WhatsappInstance{
		ID: 7, TenantId: 42, InstanceName: "acaiteria_centro_42",
		Status: domain.InstanceConnected,
	})
	state, connected, err = svc.Status(context.Background(), 42)
	if err != nil || !connected || state.Status != StateConnected {
		t.Fatalf("connected record: got %+v connected=%v err=%v", state, connected, err)
	}
}

func TestRefreshAll(t *testing.T) {
	gw := newFakeGateway()
	gw.statusGone = true
	ts := httptest.NewServer(gw)
	defer ts.Close()

	store := &fakeStore{}
	store.instances = append(store.instances, &domain.WhatsappInstance{
		ID: 7, TenantId: 42, InstanceName: "acaiteria_centro_42",
		Status: domain.InstanceConnected, InstanceToken: "sess-tok-1",
	})
	svc := newTestService(t, ts.URL, store)

	if err := svc.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	persisted, _ := store.GetInstanceByTenant(context.Background(), 42)
	if persisted.Status != domain.InstanceDisconnected {
		t.Fatalf("gone at the gateway must demote the record, got %q", persisted.Status)
	}
}

func TestInstanceNameFor(t *testing.T) {
	cases := []struct {
		tenant domain.Tenant
		want   string
	}{
		{domain.Tenant{ID: 42, Slug: "acaiteria_centro"}, "acaiteria_centro_42"},
		{domain.Tenant{ID: 7, Name: "Açaí do Zé"}, "a_a_do_z_7"},
		{domain.Tenant{ID: 9, Name: "Loja  Nova!"}, "loja_nova_9"},
	}
	for _, tc := range cases {
		if got := InstanceNameFor(&tc.tenant); got != tc.want {
			t.Errorf("InstanceNameFor(%+v) = %q, want %q", tc.tenant, got, tc.want)
		}
	}
}
