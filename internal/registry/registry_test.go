package registry

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/models"
	"github.com/BritoCeo/londa-rides-relay/internal/protocol"
)

type fakeTransport struct {
	mu         sync.Mutex
	sent       []protocol.Envelope
	failWrites bool
	closed     bool
}

func (f *fakeTransport) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("write failed")
	}
	if env, ok := v.(protocol.Envelope); ok {
		f.sent = append(f.sent, env)
	}
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("ping failed")
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddEnforcesGlobalCeiling(t *testing.T) {
	r := NewRegistry(2, 2, 2, testLogger())
	if !r.Add("c1", &fakeTransport{}, "", "") || !r.Add("c2", &fakeTransport{}, "", "") {
		t.Fatal("adds under ceiling failed")
	}
	if r.Add("c3", &fakeTransport{}, "", "") {
		t.Fatal("add over ceiling succeeded")
	}
	if r.Count() != 2 {
		t.Fatalf("size exceeded ceiling: %d", r.Count())
	}
}

func TestAddRoleCeilingRollsBackGlobalInsert(t *testing.T) {
	r := NewRegistry(10, 1, 10, testLogger())
	if !r.Add("c1", &fakeTransport{}, models.RoleDriver, "d1") {
		t.Fatal("first driver add failed")
	}
	if r.Add("c2", &fakeTransport{}, models.RoleDriver, "d2") {
		t.Fatal("driver add over role ceiling succeeded")
	}
	if r.Count() != 1 {
		t.Fatalf("global insert not rolled back: %d", r.Count())
	}
}

func TestBindSupersedesPriorConnection(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	r.Add("old", &fakeTransport{}, "", "")
	r.Add("new", &fakeTransport{}, "", "")

	if _, ok := r.Bind("old", models.RoleDriver, "d1"); !ok {
		t.Fatal("first bind failed")
	}
	superseded, ok := r.Bind("new", models.RoleDriver, "d1")
	if !ok {
		t.Fatal("second bind failed")
	}
	if superseded == nil || superseded.ID != "old" {
		t.Fatalf("expected old connection superseded, got %+v", superseded)
	}
	if _, exists := r.Get("old"); exists {
		t.Fatal("superseded connection still registered")
	}
	c, exists := r.GetByRole(models.RoleDriver, "d1")
	if !exists || c.ID != "new" {
		t.Fatal("role index does not point at new connection")
	}
}

func TestBindRejectsRebindToDifferentDomainID(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	r.Add("c1", &fakeTransport{}, "", "")
	if _, ok := r.Bind("c1", models.RoleDriver, "d1"); !ok {
		t.Fatal("first bind failed")
	}

	if _, ok := r.Bind("c1", models.RoleDriver, "d2"); ok {
		t.Fatal("rebind to a different domain id succeeded")
	}
	if _, ok := r.Bind("c1", models.RoleUser, "u1"); ok {
		t.Fatal("rebind to a different role succeeded")
	}

	c, ok := r.GetByRole(models.RoleDriver, "d1")
	if !ok || c.ID != "c1" {
		t.Fatal("original binding lost")
	}
	if _, ok := r.GetByRole(models.RoleDriver, "d2"); ok {
		t.Fatal("rejected rebind claimed a role slot")
	}
}

func TestBindSameBindingIsIdempotent(t *testing.T) {
	r := NewRegistry(10, 1, 5, testLogger())
	r.Add("c1", &fakeTransport{}, "", "")
	if _, ok := r.Bind("c1", models.RoleDriver, "d1"); !ok {
		t.Fatal("first bind failed")
	}

	// Role index is full; repeating the same binding needs no new slot.
	superseded, ok := r.Bind("c1", models.RoleDriver, "d1")
	if !ok {
		t.Fatal("repeat bind rejected")
	}
	if superseded != nil {
		t.Fatalf("repeat bind superseded itself: %+v", superseded)
	}
	if r.CountByRole(models.RoleDriver) != 1 {
		t.Fatalf("role slot duplicated: %d", r.CountByRole(models.RoleDriver))
	}
}

func TestBindRespectsRoleCeiling(t *testing.T) {
	r := NewRegistry(10, 1, 5, testLogger())
	r.Add("c1", &fakeTransport{}, "", "")
	r.Add("c2", &fakeTransport{}, "", "")
	if _, ok := r.Bind("c1", models.RoleDriver, "d1"); !ok {
		t.Fatal("bind under ceiling failed")
	}
	if _, ok := r.Bind("c2", models.RoleDriver, "d2"); ok {
		t.Fatal("bind over role ceiling succeeded")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	r.Add("c1", &fakeTransport{}, models.RoleDriver, "d1")
	if !r.Remove("c1") {
		t.Fatal("remove failed")
	}
	if r.Remove("c1") {
		t.Fatal("second remove reported success")
	}
	if _, ok := r.GetByRole(models.RoleDriver, "d1"); ok {
		t.Fatal("role index entry survived remove")
	}
}

func TestSendToEvictsOnWriteFailure(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	ft := &fakeTransport{failWrites: true}
	r.Add("c1", ft, "", "")
	if r.SendTo("c1", protocol.Status("hi", nil)) {
		t.Fatal("send reported success on failing transport")
	}
	if _, ok := r.Get("c1"); ok {
		t.Fatal("failed connection not evicted")
	}
	if !ft.closed {
		t.Fatal("failed transport not closed")
	}
}

func TestBroadcastContinuesPastFailures(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	good1, bad, good2 := &fakeTransport{}, &fakeTransport{failWrites: true}, &fakeTransport{}
	r.Add("g1", good1, "", "")
	r.Add("bad", bad, "", "")
	r.Add("g2", good2, "", "")

	sent := r.Broadcast(protocol.Status("hello", nil), "")
	if sent != 2 {
		t.Fatalf("expected 2 sends, got %d", sent)
	}
	if _, ok := r.Get("bad"); ok {
		t.Fatal("failing connection not evicted during broadcast")
	}
	if good1.sentCount() != 1 || good2.sentCount() != 1 {
		t.Fatal("healthy connections missed the broadcast")
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	self, other := &fakeTransport{}, &fakeTransport{}
	r.Add("self", self, "", "")
	r.Add("other", other, "", "")
	if sent := r.Broadcast(protocol.Status("x", nil), "self"); sent != 1 {
		t.Fatalf("expected 1 send, got %d", sent)
	}
	if self.sentCount() != 0 {
		t.Fatal("excluded connection received broadcast")
	}
}

func TestEvictStaleRemovesOnlyIdleConnections(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	idle := &fakeTransport{}
	r.Add("idle", idle, models.RoleDriver, "d1")
	r.Add("fresh", &fakeTransport{}, "", "")

	r.mu.Lock()
	r.conns["idle"].LastActive = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	if n := r.EvictStale(10 * time.Minute); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if !idle.closed {
		t.Fatal("evicted transport not closed")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Fatal("fresh connection evicted")
	}
	if _, ok := r.GetByRole(models.RoleDriver, "d1"); ok {
		t.Fatal("role index entry survived eviction")
	}
}

func TestEvictStaleRemovesPingFailedConnections(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	dead := &fakeTransport{failWrites: true}
	r.Add("dead", dead, "", "")
	r.Add("live", &fakeTransport{}, "", "")

	r.PingAll()

	// Both connections are recent; only the one that failed the probe goes.
	if n := r.EvictStale(10 * time.Minute); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, ok := r.Get("dead"); ok {
		t.Fatal("ping-failed connection survived eviction")
	}
	if !dead.closed {
		t.Fatal("evicted transport not closed")
	}
	if _, ok := r.Get("live"); !ok {
		t.Fatal("healthy connection evicted")
	}
}

func TestPingAllMarksFailedConnectionsStale(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	bad := &fakeTransport{failWrites: true}
	r.Add("bad", bad, "", "")
	r.Add("good", &fakeTransport{}, "", "")

	r.PingAll()

	c, _ := r.Get("bad")
	if c.Alive {
		t.Fatal("failed ping did not mark connection stale")
	}
	c, _ = r.Get("good")
	if !c.Alive {
		t.Fatal("healthy connection marked stale")
	}
}

func TestTouchRestoresLiveness(t *testing.T) {
	r := NewRegistry(10, 5, 5, testLogger())
	r.Add("c1", &fakeTransport{}, "", "")
	r.MarkStale("c1")
	r.Touch("c1")
	c, _ := r.Get("c1")
	if !c.Alive {
		t.Fatal("touch did not restore liveness")
	}
}
