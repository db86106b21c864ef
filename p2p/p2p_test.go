package p2p

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rocketbitz/collective/status"
)

func TestTagLayout(t *testing.T) {
	tag := MakeTag(0xABCDEF, 12345, 77)
	seq, rank, group := SplitTag(tag)
	if seq != 0xABCDEF || rank != 12345 || group != 77 {
		t.Fatalf("SplitTag = %#x %d %d", seq, rank, group)
	}
	if tag&TagMarkerMask == 0 {
		t.Fatal("marker bits not set")
	}
	other := MakeTag(0x800001, 12345, 77)
	if Match(other, tag, 0) {
		t.Fatal("different sequences matched without mask")
	}
	if !Match(other, tag, SenderMask) {
		t.Fatal("sender mask should ignore the sequence")
	}
	if Match(MakeTag(1, 12346, 77), tag, SenderMask) {
		t.Fatal("sender mask must keep the rank")
	}
	if Match(MakeTag(1, 12345, 78), tag, SenderMask) {
		t.Fatal("sender mask must keep the group")
	}
}

func TestRequestIDsWrap(t *testing.T) {
	var ids RequestIDs
	if got := ids.Next(); got != RequestIDBase {
		t.Fatalf("first id %#x", got)
	}
	ids.next = RequestIDEnd - 1
	if got := ids.Next(); got != RequestIDEnd-1 {
		t.Fatalf("last id %#x", got)
	}
	if got := ids.Next(); got != RequestIDBase+1 {
		t.Fatalf("wrapped id %#x want %#x", got, RequestIDBase+1)
	}
}

func drain(t *testing.T, ep *Endpoint, st *State) error {
	t.Helper()
	for i := 0; i < 1000; i++ {
		err := ep.Test(st)
		if !status.IsInProgress(err) {
			return err
		}
	}
	t.Fatal("state did not drain")
	return nil
}

func TestEndpointSendReceive(t *testing.T) {
	fabric := NewFabric(2)
	a := NewEndpoint(fabric.Port(0), Config{})
	b := NewEndpoint(fabric.Port(1), Config{})
	tag := MakeTag(RequestIDBase, 0, 3)

	var sst, rst State
	// unexpected path: send before the receive is posted
	if err := a.Isend([]byte("first"), 1, tag, &sst); err != nil {
		t.Fatalf("Isend: %v", err)
	}
	if err := a.Isend([]byte("second"), 1, tag, &sst); err != nil {
		t.Fatalf("Isend: %v", err)
	}
	one := make([]byte, 5)
	two := make([]byte, 6)
	if err := b.Irecv(one, 0, tag, &rst); err != nil {
		t.Fatalf("Irecv: %v", err)
	}
	if err := b.Irecv(two, 0, tag, &rst); err != nil {
		t.Fatalf("Irecv: %v", err)
	}
	if err := drain(t, a, &sst); err != nil {
		t.Fatalf("send state: %v", err)
	}
	if err := drain(t, b, &rst); err != nil {
		t.Fatalf("recv state: %v", err)
	}
	if string(one) != "first" || string(two) != "second" {
		t.Fatalf("fifo violated: %q %q", one, two)
	}

	sStats := a.Stats()
	if sStats.SendPosted != 2 || sStats.SendCompleted != 2 || sStats.SendErrored != 0 {
		t.Fatalf("unexpected sender stats: %+v", sStats)
	}
	rStats := b.Stats()
	if rStats.ReceivePosted != 2 || rStats.ReceiveMatched != 2 || rStats.ReceiveErrored != 0 {
		t.Fatalf("unexpected receiver stats: %+v", rStats)
	}
}

func TestEndpointZeroLengthNotPosted(t *testing.T) {
	fabric := NewFabric(2)
	ep := NewEndpoint(fabric.Port(0), Config{})
	var st State
	if err := ep.Isend(nil, 1, 0, &st); err != nil {
		t.Fatalf("Isend: %v", err)
	}
	if err := ep.Irecv([]byte{}, 1, 0, &st); err != nil {
		t.Fatalf("Irecv: %v", err)
	}
	if st.Pending() != 0 {
		t.Fatalf("zero-length transfers were counted: %d", st.Pending())
	}
	if sends, recvs := fabric.Port(0).Posted(); sends != 0 || recvs != 0 {
		t.Fatalf("zero-length transfers reached the transport: %d %d", sends, recvs)
	}
	if err := ep.Test(&st); err != nil {
		t.Fatalf("Test on empty state: %v", err)
	}
}

func TestEndpointFirstErrorWins(t *testing.T) {
	fabric := NewFabric(2)
	ep := NewEndpoint(fabric.Port(0), Config{})
	boom := errors.New("link down")
	fabric.Port(0).FailNextSend(boom)
	fabric.Port(0).FailNextSend(errors.New("second failure"))

	var st State
	for i := 0; i < 3; i++ {
		if err := ep.Isend([]byte{byte(i)}, 1, MakeTag(RequestIDBase, 0, 1), &st); err != nil {
			t.Fatalf("Isend: %v", err)
		}
	}
	err := drain(t, ep, &st)
	if !errors.Is(err, status.IOError) || !errors.Is(err, boom) {
		t.Fatalf("expected io error wrapping boom, got %v", err)
	}
	var terr *TransferError
	if !errors.As(err, &terr) || terr.Kind != OperationSend || terr.Peer != 1 {
		t.Fatalf("unexpected transfer error %#v", terr)
	}
	if got := ep.Stats(); got.SendErrored != 2 || got.SendCompleted != 1 {
		t.Fatalf("unexpected stats %+v", got)
	}
}

func TestEndpointTruncation(t *testing.T) {
	fabric := NewFabric(2)
	a := NewEndpoint(fabric.Port(0), Config{})
	b := NewEndpoint(fabric.Port(1), Config{})
	var sst, rst State
	buf := make([]byte, 2)
	if err := b.Irecv(buf, 0, 9, &rst); err != nil {
		t.Fatalf("Irecv: %v", err)
	}
	if err := a.Isend([]byte("abcd"), 1, 9, &sst); err != nil {
		t.Fatalf("Isend: %v", err)
	}
	if err := drain(t, b, &rst); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected truncation, got %v", err)
	}
	if !bytes.Equal(buf, []byte("ab")) {
		t.Fatalf("partial payload %q", buf)
	}
}

func TestEndpointStructuredLoggingAndMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core).Sugar()
	metrics := newMetricRecorder()

	fabric := NewFabric(2)
	a := NewEndpoint(fabric.Port(0), Config{Logger: logger, Metrics: metrics})
	b := NewEndpoint(fabric.Port(1), Config{StructuredLogger: logger, Metrics: metrics, Name: "receiver"})

	var sst, rst State
	if err := b.Irecv(make([]byte, 3), 0, 5, &rst); err != nil {
		t.Fatalf("Irecv: %v", err)
	}
	if err := a.Isend([]byte("abc"), 1, 5, &sst); err != nil {
		t.Fatalf("Isend: %v", err)
	}
	if err := drain(t, a, &sst); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := drain(t, b, &rst); err != nil {
		t.Fatalf("recv: %v", err)
	}

	events := map[string]bool{}
	for _, entry := range logs.All() {
		if evt, ok := entry.ContextMap()["event"].(string); ok {
			events[evt] = true
		}
	}
	for _, want := range []string{"isend", "irecv", "completion"} {
		if !events[want] {
			t.Fatalf("missing %q log event in %v", want, events)
		}
	}

	snapshot := metrics.Snapshot()
	if snapshot.SendCompleted != 1 || snapshot.ReceiveCompleted != 1 || snapshot.SendFailed != 0 || snapshot.ReceiveFailed != 0 {
		t.Fatalf("unexpected metrics %+v", snapshot)
	}
	if snapshot.Endpoints["receiver"] != 1 || snapshot.Endpoints["rank-0"] != 1 {
		t.Fatalf("unexpected endpoint labels %v", snapshot.Endpoints)
	}
}

func TestEndpointClosed(t *testing.T) {
	fabric := NewFabric(1)
	ep := NewEndpoint(fabric.Port(0), Config{})
	_ = ep.Close()
	var st State
	if err := ep.Isend([]byte{1}, 0, 0, &st); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	fabric2 := NewFabric(1)
	fabric2.Close()
	ep2 := NewEndpoint(fabric2.Port(0), Config{})
	if err := ep2.Isend([]byte{1}, 0, 0, &st); !errors.Is(err, status.NoResource) {
		t.Fatalf("expected no resource, got %v", err)
	}
}

type metricRecorder struct {
	mu               sync.Mutex
	sendCompleted    int
	sendFailed       int
	receiveCompleted int
	receiveFailed    int
	endpoints        map[string]int
}

func newMetricRecorder() *metricRecorder {
	return &metricRecorder{endpoints: make(map[string]int)}
}

func (m *metricRecorder) SendCompleted(attrs map[string]string) {
	m.mu.Lock()
	m.sendCompleted++
	m.endpoints[attrs["endpoint"]]++
	m.mu.Unlock()
}

func (m *metricRecorder) SendFailed(_ error, _ map[string]string) {
	m.mu.Lock()
	m.sendFailed++
	m.mu.Unlock()
}

func (m *metricRecorder) ReceiveCompleted(attrs map[string]string) {
	m.mu.Lock()
	m.receiveCompleted++
	m.endpoints[attrs["endpoint"]]++
	m.mu.Unlock()
}

func (m *metricRecorder) ReceiveFailed(_ error, _ map[string]string) {
	m.mu.Lock()
	m.receiveFailed++
	m.mu.Unlock()
}

func (m *metricRecorder) OpStarted(map[string]string)       {}
func (m *metricRecorder) OpCompleted(map[string]string)     {}
func (m *metricRecorder) OpFailed(error, map[string]string) {}
func (m *metricRecorder) PlanFallback(map[string]string)    {}

func (m *metricRecorder) Snapshot() metricSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoints := make(map[string]int, len(m.endpoints))
	for k, v := range m.endpoints {
		endpoints[k] = v
	}
	return metricSnapshot{
		SendCompleted:    m.sendCompleted,
		SendFailed:       m.sendFailed,
		ReceiveCompleted: m.receiveCompleted,
		ReceiveFailed:    m.receiveFailed,
		Endpoints:        endpoints,
	}
}

type metricSnapshot struct {
	SendCompleted    int
	SendFailed       int
	ReceiveCompleted int
	ReceiveFailed    int
	Endpoints        map[string]int
}
