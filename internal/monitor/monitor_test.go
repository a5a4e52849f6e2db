package monitor

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"gpudeploy/internal/notify"
	"gpudeploy/internal/record"
)

// fakeStatus returns a scripted sequence of statuses, repeating the last
// entry forever.
type fakeStatus struct {
	mu       sync.Mutex
	statuses []string
	polls    int
}

func (f *fakeStatus) InstanceStatus(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.polls++
	return f.statuses[i], nil
}

// fakeFeed replays scripted messages.
type fakeFeed struct {
	messages []string
	delay    time.Duration
}

func (f *fakeFeed) Subscribe(ctx context.Context, topic string) (<-chan notify.Event, error) {
	ch := make(chan notify.Event)
	go func() {
		defer close(ch)
		for _, msg := range f.messages {
			if f.delay > 0 {
				time.Sleep(f.delay)
			}
			select {
			case ch <- notify.Event{Kind: "message", Topic: topic, Message: msg}:
			case <-ctx.Done():
				return
			}
		}
		// Keep the stream open so phases end by keyword or ceiling.
		<-ctx.Done()
	}()
	return ch, nil
}

type fakeRunner struct {
	output string
	err    error
}

func (f *fakeRunner) Run(command string) (string, error) { return f.output, f.err }
func (f *fakeRunner) Close() error                       { return nil }

func tinyBudgets() Budgets {
	return Budgets{
		BootTimeout:      200 * time.Millisecond,
		BootPoll:         10 * time.Millisecond,
		InstallFirstMsg:  100 * time.Millisecond,
		InstallCeiling:   300 * time.Millisecond,
		ReachTimeout:     100 * time.Millisecond,
		ReachPoll:        10 * time.Millisecond,
		UIHealthTimeout:  100 * time.Millisecond,
		ModelLoadTimeout: 150 * time.Millisecond,
		HealthPoll:       10 * time.Millisecond,
	}
}

func testContext(budgets Budgets) DeploymentContext {
	return DeploymentContext{
		Record:  &record.Record{ID: "42", IP: "127.0.0.1", Label: "t", RootPassword: "x"},
		Model:   "llama3.1:8b",
		Topic:   "gpudeploy-t",
		APIPort: 1,
		UIPort:  1,
		Budgets: budgets,
	}
}

func newTestMonitor(status StatusSource, feed notify.Subscriber, runner RemoteRunner) *Monitor {
	m := New(status, feed, func(host, password string) (RemoteRunner, error) {
		return runner, nil
	})
	m.Dial = func(addr string, timeout time.Duration) error { return nil }
	return m
}

func TestBootPhaseTimesOutExactly(t *testing.T) {
	m := newTestMonitor(&fakeStatus{statuses: []string{"provisioning"}}, &fakeFeed{}, &fakeRunner{})
	d := testContext(tinyBudgets())

	start := time.Now()
	res, err := m.waitBoot(context.Background(), d)
	elapsed := time.Since(start)

	var phaseErr *PhaseTimeoutError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("expected *PhaseTimeoutError, got %v", err)
	}
	if !phaseErr.Fatal {
		t.Error("boot timeout must be fatal")
	}
	if res.Outcome != OutcomeTimedOut {
		t.Errorf("Outcome = %q, want timed_out", res.Outcome)
	}

	// Exit at the configured timeout, within one poll interval.
	budget := d.Budgets.BootTimeout
	tolerance := 3 * d.Budgets.BootPoll
	if elapsed < budget-tolerance || elapsed > budget+tolerance {
		t.Errorf("boot phase ran %v, want ~%v (±%v)", elapsed, budget, tolerance)
	}
}

func TestBootPhaseSucceedsAfterTwoPolls(t *testing.T) {
	status := &fakeStatus{statuses: []string{"provisioning", "booting", "running"}}
	m := newTestMonitor(status, &fakeFeed{}, &fakeRunner{})
	d := testContext(tinyBudgets())

	start := time.Now()
	res, err := m.waitBoot(context.Background(), d)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("waitBoot() error = %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", res.Outcome)
	}
	// Status becomes running on the third poll, i.e. after two sleeps.
	if max := 2*d.Budgets.BootPoll + 50*time.Millisecond; elapsed > max {
		t.Errorf("boot phase took %v, want <= %v", elapsed, max)
	}
}

func TestInstallProgressFirstMessageTimeoutIsFatal(t *testing.T) {
	m := newTestMonitor(&fakeStatus{statuses: []string{"running"}}, &fakeFeed{}, &fakeRunner{})
	d := testContext(tinyBudgets())

	_, err := m.waitInstallProgress(context.Background(), d)

	var phaseErr *PhaseTimeoutError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("expected *PhaseTimeoutError, got %v", err)
	}
	if !phaseErr.Fatal || phaseErr.Phase != PhaseInstallProgress {
		t.Errorf("got %+v, want fatal install-progress timeout", phaseErr)
	}
}

func TestInstallProgressTerminalKeywordEndsPhase(t *testing.T) {
	feed := &fakeFeed{messages: []string{"install started", "pulling model", "final stage: reboot imminent"}}
	m := newTestMonitor(&fakeStatus{statuses: []string{"running"}}, feed, &fakeRunner{})
	d := testContext(tinyBudgets())

	res, err := m.waitInstallProgress(context.Background(), d)
	if err != nil {
		t.Fatalf("waitInstallProgress() error = %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", res.Outcome)
	}
}

func TestInstallProgressCeilingIsNonFatal(t *testing.T) {
	// Messages keep flowing but never carry a terminal keyword.
	feed := &fakeFeed{messages: []string{"step 1", "step 2", "step 3"}, delay: 20 * time.Millisecond}
	m := newTestMonitor(&fakeStatus{statuses: []string{"running"}}, feed, &fakeRunner{})
	d := testContext(tinyBudgets())

	res, err := m.waitInstallProgress(context.Background(), d)
	if err != nil {
		t.Fatalf("ceiling must not be fatal, got %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Errorf("Outcome = %q, want timed_out", res.Outcome)
	}
}

func TestReachabilityTimeoutIsFatal(t *testing.T) {
	m := newTestMonitor(&fakeStatus{statuses: []string{"running"}}, &fakeFeed{}, &fakeRunner{})
	m.Dial = func(addr string, timeout time.Duration) error { return errors.New("connection refused") }
	d := testContext(tinyBudgets())

	_, err := m.waitReachability(context.Background(), d)

	var phaseErr *PhaseTimeoutError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("expected *PhaseTimeoutError, got %v", err)
	}
	if !phaseErr.Fatal || phaseErr.Phase != PhaseReachability {
		t.Errorf("got %+v, want fatal reachability timeout", phaseErr)
	}
}

func TestRemoteHealthAbsenceIsWarning(t *testing.T) {
	runner := &fakeRunner{output: "1234 some-other-daemon"}
	m := newTestMonitor(&fakeStatus{statuses: []string{"running"}}, &fakeFeed{}, runner)
	d := testContext(tinyBudgets())

	res := m.checkRemoteHealth(d)
	if res.Outcome != OutcomeTimedOut {
		t.Errorf("Outcome = %q, want timed_out (warning)", res.Outcome)
	}
}

func TestRemoteHealthFindsBothProcesses(t *testing.T) {
	runner := &fakeRunner{output: "101 /bin/ollama serve\n202 python open-webui\n"}
	m := newTestMonitor(&fakeStatus{statuses: []string{"running"}}, &fakeFeed{}, runner)
	d := testContext(tinyBudgets())

	res := m.checkRemoteHealth(d)
	if res.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success: %s", res.Outcome, res.Detail)
	}
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func TestPhaseOrderIsMonotonic(t *testing.T) {
	feed := &fakeFeed{messages: []string{"final stage: reboot imminent"}}
	runner := &fakeRunner{output: "1 ollama\n2 open-webui\n"}
	m := newTestMonitor(&fakeStatus{statuses: []string{"provisioning", "running"}}, feed, runner)

	ui := httptest.NewServer(okHandler("welcome"))
	defer ui.Close()
	apiSrv := httptest.NewServer(okHandler(`{"models":[{"name":"llama3.1:8b"}]}`))
	defer apiSrv.Close()

	d := testContext(tinyBudgets())
	d.UIPort = serverPort(t, ui)
	d.APIPort = serverPort(t, apiSrv)

	report, err := m.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	last := Phase(-1)
	for _, res := range report.Results {
		if res.Phase < last {
			t.Errorf("phase %s entered after %s", res.Phase, last)
		}
		if res.Phase > last {
			last = res.Phase
		}
	}
	if last != PhaseComplete {
		t.Errorf("final phase = %s, want complete", last)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", report.Warnings)
	}
}

func TestFatalPhaseStopsTheMachine(t *testing.T) {
	m := newTestMonitor(&fakeStatus{statuses: []string{"provisioning"}}, &fakeFeed{}, &fakeRunner{})
	d := testContext(tinyBudgets())

	report, err := m.Run(context.Background(), d)
	if err == nil {
		t.Fatal("expected fatal boot timeout")
	}
	for _, res := range report.Results {
		if res.Phase > PhaseBoot {
			t.Errorf("phase %s ran after a fatal boot failure", res.Phase)
		}
	}
}
