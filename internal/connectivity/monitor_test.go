package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestState_Online(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"disconnected", State{Connected: false}, false},
		{"disconnected but reachable", State{Connected: false, Reachable: Bool(true)}, false},
		{"connected unknown", State{Connected: true}, true},
		{"connected reachable", State{Connected: true, Reachable: Bool(true)}, true},
		{"connected unreachable", State{Connected: true, Reachable: Bool(false)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Online(); got != tt.want {
				t.Errorf("Online() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =====================================================
// Monitor
// =====================================================

func TestMonitor_subscribe(t *testing.T) {
	m := NewMonitor(State{})
	var got []bool
	unsubscribe := m.Subscribe(func(online bool) { got = append(got, online) })

	m.Update(State{Connected: true})
	m.Update(State{Connected: true}) // unchanged, no emission
	m.Update(State{Connected: true, Reachable: Bool(false)})
	unsubscribe()
	m.Update(State{Connected: true, Reachable: Bool(true)})

	want := []bool{true, false}
	if len(got) != len(want) {
		t.Fatalf("emissions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("emission[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if !m.IsOnline() {
		t.Error("IsOnline() should follow the last update")
	}
}

func TestMonitor_onOnlineEdgeOnly(t *testing.T) {
	m := NewMonitor(State{Connected: false})
	edges := 0
	m.OnOnline(func() { edges++ })

	m.Update(State{Connected: true})                         // edge
	m.Update(State{Connected: true, Reachable: Bool(true)})  // still online
	m.Update(State{Connected: false})                        // offline
	m.Update(State{Connected: true, Reachable: Bool(false)}) // connected but unreachable
	m.Update(State{Connected: true, Reachable: Bool(true)})  // edge

	if edges != 2 {
		t.Errorf("edges = %d, want 2", edges)
	}
}

func TestMonitor_subscriberMayReadState(t *testing.T) {
	m := NewMonitor(State{})
	var seen bool
	m.Subscribe(func(bool) { seen = m.IsOnline() })

	m.Update(State{Connected: true})
	if !seen {
		t.Error("subscriber should observe the new state")
	}
}

// =====================================================
// Prober
// =====================================================

type stubChecker struct{ err error }

func (s *stubChecker) Ping(context.Context) error { return s.err }

func TestProber_Probe(t *testing.T) {
	m := NewMonitor(State{})
	checker := &stubChecker{}
	p := NewProber(m, checker, 0)

	if st := p.Probe(context.Background()); !st.Online() {
		t.Errorf("Probe() = %+v, want online", st)
	}

	checker.err = errors.New("no route")
	p.Probe(context.Background())
	if m.IsOnline() {
		t.Error("monitor should be offline after failed probe")
	}
}

func TestProber_nilCheckerIsUnknown(t *testing.T) {
	m := NewMonitor(State{})
	st := NewProber(m, nil, 0).Probe(context.Background())
	if st.Reachable != nil || !m.IsOnline() {
		t.Errorf("Probe() = %+v, want connected with unknown reachability", st)
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := (HTTPChecker{URL: srv.URL}).Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v, want nil for any response", err)
	}

	url := srv.URL
	srv.Close()
	if err := (HTTPChecker{URL: url}).Ping(context.Background()); err == nil {
		t.Error("Ping() to closed server should fail")
	}
}
