package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/devinv/internal/cache"
	"github.com/kalambet/devinv/internal/connectivity"
	"github.com/kalambet/devinv/internal/queue"
	"github.com/kalambet/devinv/internal/records"
	"github.com/kalambet/devinv/internal/resolve"
	"github.com/kalambet/devinv/internal/storage"
)

type mockGateway struct {
	mu       sync.Mutex
	calls    []string
	submitFn func(ctx context.Context, p records.Payload) (records.Record, error)
}

func (m *mockGateway) Submit(ctx context.Context, p records.Payload) (records.Record, error) {
	m.mu.Lock()
	m.calls = append(m.calls, p.Name)
	n := len(m.calls)
	m.mu.Unlock()
	if m.submitFn != nil {
		return m.submitFn(ctx, p)
	}
	return records.Record{ID: fmt.Sprintf("srv-%d", n), Name: p.Name}, nil
}

func (m *mockGateway) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type fixture struct {
	store   *storage.Store
	queue   *queue.Manager
	sensor  *connectivity.StaticSensor
	gateway *mockGateway
	lkg     *cache.LastKnownGood
	rec     *Reconciler
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:   s,
		queue:   queue.NewManager(s),
		sensor:  connectivity.NewStaticSensor(online),
		gateway: &mockGateway{},
		lkg:     cache.NewLastKnownGood(s),
	}
	f.rec = New(Deps{
		Conn:      f.sensorChecker(),
		Gateway:   f.gateway,
		Queue:     f.queue,
		Consumers: []RemapConsumer{f.lkg},
		Recorder:  s,
	})
	return f
}

func (f *fixture) sensorChecker() Checker {
	return connectivity.NewOracle(f.sensor, 0)
}

func (f *fixture) enqueue(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		p := records.Payload{Name: name, Attributes: map[string]any{records.AttrYear: "2020", records.AttrPrice: "10"}}
		if _, err := f.queue.Enqueue(context.Background(), p); err != nil {
			t.Fatalf("Enqueue(%s): %v", name, err)
		}
	}
}

func TestReplay_EmptyQueue(t *testing.T) {
	f := newFixture(t, true)

	rep, err := f.rec.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if rep.Synced != 0 || rep.Failed != 0 || rep.Remaining != 0 {
		t.Errorf("report = %+v, want zero counts", rep)
	}
	if f.gateway.callCount() != 0 {
		t.Errorf("gateway called %d times for an empty queue", f.gateway.callCount())
	}
}

func TestReplay_AllSucceed(t *testing.T) {
	f := newFixture(t, true)
	f.enqueue(t, "a", "b", "c")
	ctx := context.Background()

	rep, err := f.rec.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if rep.Synced != 3 || rep.Failed != 0 || rep.Remaining != 0 {
		t.Errorf("report = %+v, want synced=3 failed=0 remaining=0", rep)
	}
	want := map[string]string{"offline-1": "srv-1", "offline-2": "srv-2", "offline-3": "srv-3"}
	if len(rep.IDMap) != len(want) {
		t.Fatalf("IDMap = %v, want %v", rep.IDMap, want)
	}
	for k, v := range want {
		if rep.IDMap[k] != v {
			t.Errorf("IDMap[%s] = %q, want %q", k, rep.IDMap[k], v)
		}
	}

	for _, key := range []string{storage.KeyPendingPayloads, storage.KeyTaggedRecords} {
		if _, ok, _ := f.store.Get(ctx, key); ok {
			t.Errorf("%s still persisted after full sync", key)
		}
	}

	// Queue order is submission order.
	for i, name := range []string{"a", "b", "c"} {
		if f.gateway.calls[i] != name {
			t.Errorf("call %d = %s, want %s", i, f.gateway.calls[i], name)
		}
	}
}

func TestReplay_PartialFailure(t *testing.T) {
	f := newFixture(t, true)
	f.enqueue(t, "a", "b", "c", "d")
	f.gateway.submitFn = func(_ context.Context, p records.Payload) (records.Record, error) {
		if p.Name == "b" {
			return records.Record{}, errors.New("Server error. Please try again later.")
		}
		return records.Record{ID: "id-" + p.Name, Name: p.Name}, nil
	}
	ctx := context.Background()

	rep, err := f.rec.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if rep.Synced != 3 || rep.Failed != 1 || rep.Remaining != 1 {
		t.Errorf("report = %+v, want synced=3 failed=1 remaining=1", rep)
	}
	if len(rep.RemainingPayloads) != 1 || rep.RemainingPayloads[0].Name != "b" {
		t.Errorf("RemainingPayloads = %+v, want [b]", rep.RemainingPayloads)
	}
	if _, ok := rep.IDMap["offline-2"]; ok {
		t.Error("IDMap contains the failed item")
	}
	if len(rep.IDMap) != 3 || rep.IDMap["offline-4"] != "id-d" {
		t.Errorf("IDMap = %v", rep.IDMap)
	}
	if f.gateway.callCount() != 4 {
		t.Errorf("gateway called %d times, want 4 (no short-circuit)", f.gateway.callCount())
	}

	payloads, tagged, err := f.queue.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(payloads) != 1 || payloads[0].Name != "b" || tagged[0].ID != "offline-2" {
		t.Errorf("persisted queue = %+v / %+v, want only b/offline-2", payloads, tagged)
	}
}

func TestReplay_Offline(t *testing.T) {
	f := newFixture(t, false)
	f.enqueue(t, "a", "b")
	ctx := context.Background()

	before, _, _ := f.store.Get(ctx, storage.KeyTaggedRecords)

	_, err := f.rec.Replay(ctx)
	if !errors.Is(err, ErrStillOffline) {
		t.Fatalf("err = %v, want ErrStillOffline", err)
	}
	if f.gateway.callCount() != 0 {
		t.Error("gateway called while offline")
	}
	after, _, _ := f.store.Get(ctx, storage.KeyTaggedRecords)
	if before != after {
		t.Errorf("queue mutated while offline:\n before %s\n after  %s", before, after)
	}
	if f.rec.State() != Idle {
		t.Errorf("State = %v after replay, want idle", f.rec.State())
	}
}

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, ids []string) ([]records.Record, error) {
	out := make([]records.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, records.Record{ID: id, Name: "server " + id})
	}
	return out, nil
}

func TestReplay_RemapsRecordsReadBeforeSync(t *testing.T) {
	f := newFixture(t, false)
	f.enqueue(t, "laptop")
	ctx := context.Background()
	res := resolve.New(f.sensorChecker(), stubFetcher{}, f.queue, f.lkg)

	f.sensor.Set(true)
	got, err := res.Resolve(ctx, []string{"offline-1", "5"})
	if err != nil {
		t.Fatalf("online Resolve: %v", err)
	}
	if len(got.Records) != 2 {
		t.Fatalf("online records = %+v, want 2", got.Records)
	}

	f.gateway.submitFn = func(_ context.Context, p records.Payload) (records.Record, error) {
		return records.Record{ID: "123", Name: p.Name}, nil
	}
	rep, err := f.rec.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if rep.IDMap["offline-1"] != "123" {
		t.Fatalf("IDMap = %v, want offline-1 -> 123", rep.IDMap)
	}

	f.sensor.Set(false)
	got, err = res.Resolve(ctx, []string{"123", "5"})
	if err != nil {
		t.Fatalf("offline Resolve: %v", err)
	}
	if !got.Offline || !got.Stale {
		t.Errorf("Offline=%v Stale=%v, want true/true", got.Offline, got.Stale)
	}
	if len(got.Records) != 2 {
		t.Fatalf("offline records = %+v, want 2", got.Records)
	}
	if got.Records[0].ID != "123" || got.Records[0].Name != "laptop" {
		t.Errorf("records[0] = %+v, want laptop under 123", got.Records[0])
	}
	if got.Records[1].ID != "5" {
		t.Errorf("unrelated cached record touched: %+v", got.Records[1])
	}
}

func TestReplay_RecordsRun(t *testing.T) {
	f := newFixture(t, true)
	f.enqueue(t, "a", "b")
	ctx := context.Background()

	if _, err := f.rec.Replay(ctx); err != nil {
		t.Fatal(err)
	}
	runs, err := f.store.RecentSyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSyncRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Synced != 2 {
		t.Errorf("runs = %+v, want one run with synced=2", runs)
	}
}

func TestReplay_ConcurrentTriggersDoNotInterleave(t *testing.T) {
	f := newFixture(t, true)
	f.enqueue(t, "a", "b", "c")

	entered := make(chan struct{}, 10)
	release := make(chan struct{})
	f.gateway.submitFn = func(_ context.Context, p records.Payload) (records.Record, error) {
		entered <- struct{}{}
		<-release
		return records.Record{ID: "id-" + p.Name}, nil
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], _ = f.rec.Replay(ctx)
	}()
	<-entered
	if f.rec.State() != Draining {
		t.Errorf("State = %v during drain, want draining", f.rec.State())
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], _ = f.rec.Replay(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := f.gateway.callCount(); got != 3 {
		t.Errorf("gateway called %d times, want 3", got)
	}
	if reports[0].Synced != 3 {
		t.Errorf("first report synced = %d, want 3", reports[0].Synced)
	}
}

type brokenRemoveQueue struct {
	*queue.Manager
}

func (brokenRemoveQueue) Remove(context.Context, string) error {
	return errors.New("disk full")
}

func TestReplay_PersistFailureStopsDrain(t *testing.T) {
	f := newFixture(t, true)
	f.enqueue(t, "a", "b", "c")
	ctx := context.Background()
	if err := f.lkg.Save(ctx, []records.Record{{ID: "offline-1", Name: "a"}}); err != nil {
		t.Fatal(err)
	}
	r := New(Deps{
		Conn:      f.sensorChecker(),
		Gateway:   f.gateway,
		Queue:     brokenRemoveQueue{f.queue},
		Consumers: []RemapConsumer{f.lkg},
	})

	rep, err := r.Replay(ctx)
	if !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("err = %v, want ErrSyncFailed", err)
	}
	if f.gateway.callCount() != 1 {
		t.Errorf("gateway called %d times, want 1", f.gateway.callCount())
	}

	// The accepted item could not be dequeued, so the report matches what
	// is still persisted.
	n, _ := f.queue.Len(ctx)
	if n != 3 {
		t.Errorf("queue length = %d, want 3", n)
	}
	if rep.Synced != 0 || rep.Remaining != n || len(rep.RemainingPayloads) != n {
		t.Errorf("report = %+v, want synced=0 remaining=%d", rep, n)
	}
	if len(rep.IDMap) != 0 {
		t.Errorf("IDMap = %v, want empty", rep.IDMap)
	}
	cached, _ := f.lkg.Load(ctx)
	if len(cached) != 1 || cached[0].ID != "offline-1" {
		t.Errorf("cache = %+v, want offline-1 untouched", cached)
	}
}

func TestSubscribe_ReplaysOnReconnect(t *testing.T) {
	f := newFixture(t, false)
	oracle := connectivity.NewOracle(f.sensor, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unsubscribe := f.rec.Subscribe(ctx, oracle)
	defer unsubscribe()

	oracle.Observe(ctx) // baseline offline
	f.enqueue(t, "a", "b")
	f.rec.Wait()
	if f.gateway.callCount() != 0 {
		t.Fatal("replay ran while offline")
	}

	f.sensor.Set(true)
	oracle.Observe(ctx)
	f.rec.Wait()

	if f.gateway.callCount() != 2 {
		t.Errorf("gateway called %d times after reconnect, want 2", f.gateway.callCount())
	}
	if n, _ := f.queue.Len(ctx); n != 0 {
		t.Errorf("queue length = %d after reconnect, want 0", n)
	}
}

func TestSubscribe_ReplaysAtStartupWhenOnline(t *testing.T) {
	f := newFixture(t, true)
	f.enqueue(t, "a")
	oracle := connectivity.NewOracle(f.sensor, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer f.rec.Subscribe(ctx, oracle)()
	oracle.Observe(ctx)
	f.rec.Wait()

	if f.gateway.callCount() != 1 {
		t.Errorf("gateway called %d times, want 1", f.gateway.callCount())
	}
}

func TestSubscribe_EmptyQueueDoesNotReplay(t *testing.T) {
	f := newFixture(t, true)
	oracle := connectivity.NewOracle(f.sensor, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks atomic.Int32
	f.rec.deps.Conn = checkerFunc(func(ctx context.Context) bool {
		checks.Add(1)
		return true
	})

	defer f.rec.Subscribe(ctx, oracle)()
	oracle.Observe(ctx)
	f.rec.Wait()

	if checks.Load() != 0 {
		t.Error("replay started for an empty queue")
	}
}

type checkerFunc func(ctx context.Context) bool

func (f checkerFunc) Check(ctx context.Context) bool { return f(ctx) }

func TestReportSummary(t *testing.T) {
	tests := []struct {
		rep  Report
		want string
	}{
		{Report{}, ""},
		{Report{Synced: 2}, "2 object(s) synced successfully."},
		{Report{Synced: 2, Failed: 1, Remaining: 1}, "2 synced, 1 failed. 1 remaining in queue."},
		{Report{Failed: 3, Remaining: 3}, "Failed to sync 3 object(s). 3 remaining in queue."},
	}
	for _, tt := range tests {
		if got := tt.rep.Summary(); got != tt.want {
			t.Errorf("Summary(%+v) = %q, want %q", tt.rep, got, tt.want)
		}
	}
}
