package e2e_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"gpudeploy/internal/api"
	"gpudeploy/internal/auth"
	"gpudeploy/internal/catalog"
	"gpudeploy/internal/monitor"
	"gpudeploy/internal/notify"
	"gpudeploy/internal/provision"
	"gpudeploy/internal/record"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	testRegion = "us-ord"
	testType   = "g2-gpu-rtx4000a1-s"
	testModel  = "llama3.1:8b"
)

// controlPlane is a fake of the provisioning API: catalog endpoints,
// instance creation, and status polling. Boot status flips to "running"
// after a configurable number of polls.
type controlPlane struct {
	server *httptest.Server

	pollsUntilRunning int32
	statusPolls       int32
	createCalls       int32
	totalRequests     int32

	lastCreate api.CreateInstanceRequest
}

func newControlPlane(pollsUntilRunning int32) *controlPlane {
	cp := &controlPlane{pollsUntilRunning: pollsUntilRunning}
	cp.server = httptest.NewServer(http.HandlerFunc(cp.handle))
	return cp
}

func (cp *controlPlane) handle(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&cp.totalRequests, 1)

	page := func(data interface{}, results int) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": data, "page": 1, "pages": 1, "results": results,
		})
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/profile":
		json.NewEncoder(w).Encode(map[string]string{"username": "e2e-user"})

	case r.Method == http.MethodGet && r.URL.Path == "/linode/types":
		page([]map[string]interface{}{{
			"id": testType, "label": "RTX4000 Ada x1 Small",
			"vcpus": 4, "memory": 16384, "gpus": 1,
			"price": map[string]float64{"hourly": 0.52, "monthly": 350},
		}}, 1)

	case r.Method == http.MethodGet && r.URL.Path == "/regions":
		page([]map[string]string{{"id": testRegion, "label": "Chicago, IL"}}, 1)

	case r.Method == http.MethodGet && r.URL.Path == "/regions/availability":
		page([]map[string]interface{}{{
			"region": testRegion, "plan": testType, "available": true,
		}}, 1)

	case r.Method == http.MethodPost && r.URL.Path == "/linode/instances":
		atomic.AddInt32(&cp.createCalls, 1)
		json.NewDecoder(r.Body).Decode(&cp.lastCreate)
		json.NewEncoder(w).Encode(api.Instance{
			ID: 123, Label: cp.lastCreate.Label, Status: "provisioning",
			IPv4: []string{"127.0.0.1"}, Type: testType, Region: testRegion,
		})

	case r.Method == http.MethodGet && r.URL.Path == "/linode/instances/123":
		status := "provisioning"
		if atomic.AddInt32(&cp.statusPolls, 1) > cp.pollsUntilRunning {
			status = "running"
		}
		json.NewEncoder(w).Encode(api.Instance{
			ID: 123, Status: status, IPv4: []string{"127.0.0.1"},
		})

	default:
		http.NotFound(w, r)
	}
}

// scriptedFeed replays a fixed set of progress messages and closes.
type scriptedFeed struct {
	messages []string
}

func (f *scriptedFeed) Subscribe(ctx context.Context, topic string) (<-chan notify.Event, error) {
	ch := make(chan notify.Event, len(f.messages))
	for _, msg := range f.messages {
		ch <- notify.Event{Kind: "message", Topic: topic, Message: msg}
	}
	close(ch)
	return ch, nil
}

// healthyRemote answers the process probe with both services present.
type healthyRemote struct{}

func (healthyRemote) Run(command string) (string, error) {
	return "612 /usr/bin/ollama serve\n734 open-webui serve", nil
}

func (healthyRemote) Close() error { return nil }

func serverPort(ts *httptest.Server) int {
	u, err := url.Parse(ts.URL)
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(u.Port())
	Expect(err).NotTo(HaveOccurred())
	return port
}

func tinyBudgets() monitor.Budgets {
	return monitor.Budgets{
		BootTimeout:      500 * time.Millisecond,
		BootPoll:         5 * time.Millisecond,
		InstallFirstMsg:  200 * time.Millisecond,
		InstallCeiling:   400 * time.Millisecond,
		ReachTimeout:     200 * time.Millisecond,
		ReachPoll:        5 * time.Millisecond,
		UIHealthTimeout:  200 * time.Millisecond,
		ModelLoadTimeout: 200 * time.Millisecond,
		HealthPoll:       5 * time.Millisecond,
	}
}

var _ = Describe("Deployment E2E", func() {
	var (
		cp    *controlPlane
		store *record.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		cp = newControlPlane(2)
		DeferCleanup(cp.server.Close)
		store = record.NewStore(GinkgoT().TempDir())
		ctx = context.Background()
	})

	provisionInstance := func(client *api.Client) *record.Record {
		cat, err := catalog.Fetch(ctx, client, "g2-gpu")
		Expect(err).NotTo(HaveOccurred())
		Expect(cat.Types).To(HaveLen(1))
		Expect(cat.Available(testRegion, testType)).To(BeTrue())

		rec, err := provision.NewProvisioner(client, store).Provision(ctx, cat, provision.Request{
			Region:       testRegion,
			Type:         testType,
			Label:        "e2e-run",
			Image:        "linode/ubuntu24.04",
			Model:        testModel,
			NotifyServer: "https://ntfy.example",
			APIPort:      11434,
			UIPort:       3000,
		})
		Expect(err).NotTo(HaveOccurred())
		return rec
	}

	newMonitor := func(client *api.Client, apiBody string) (*monitor.Monitor, *httptest.Server, *httptest.Server) {
		ui := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		DeferCleanup(ui.Close)
		inference := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(apiBody))
		}))
		DeferCleanup(inference.Close)

		feed := &scriptedFeed{messages: []string{
			"stage 1: installing drivers",
			"final stage: services starting, reboot imminent",
		}}
		mon := monitor.New(client, feed, func(host, password string) (monitor.RemoteRunner, error) {
			return healthyRemote{}, nil
		})
		mon.Dial = func(addr string, timeout time.Duration) error { return nil }
		return mon, ui, inference
	}

	It("provisions an instance and completes the full bring-up", func() {
		client := api.NewClient(cp.server.URL, "e2e-token")
		rec := provisionInstance(client)

		Expect(rec.IP).To(Equal("127.0.0.1"))
		Expect(len(rec.RootPassword)).To(BeNumerically(">=", 16))
		Expect(cp.lastCreate.Booted).To(BeTrue())
		Expect(cp.lastCreate.Metadata).NotTo(BeNil())

		// The record must already be on disk before monitoring starts.
		persisted, err := store.Load(rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(persisted.RootPassword).To(Equal(rec.RootPassword))

		mon, ui, inference := newMonitor(client, `{"models":[{"name":"llama3.1:8b"}]}`)
		budgets := tinyBudgets()

		report, err := mon.Run(ctx, monitor.DeploymentContext{
			Record:  rec,
			Model:   testModel,
			Topic:   provision.NotifyTopic(rec.Label),
			APIPort: serverPort(inference),
			UIPort:  serverPort(ui),
			Budgets: budgets,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Warnings).To(BeEmpty())

		// Two "provisioning" polls before "running": boot must finish in
		// a handful of poll intervals, nowhere near its timeout.
		Expect(atomic.LoadInt32(&cp.statusPolls)).To(BeNumerically(">=", 3))
		Expect(report.Results[0].Phase).To(Equal(monitor.PhaseBoot))
		Expect(report.Results[0].Outcome).To(Equal(monitor.OutcomeSuccess))
		Expect(report.Results[0].Elapsed).To(BeNumerically("<", budgets.BootTimeout/2))

		var phases []monitor.Phase
		for _, res := range report.Results {
			phases = append(phases, res.Phase)
		}
		Expect(phases).To(Equal([]monitor.Phase{
			monitor.PhaseBoot,
			monitor.PhaseInstallProgress,
			monitor.PhaseReachability,
			monitor.PhaseRemoteHealth,
			monitor.PhaseServiceHealth,
			monitor.PhaseServiceHealth,
			monitor.PhaseComplete,
		}))
	})

	It("completes with a warning when the model never loads", func() {
		client := api.NewClient(cp.server.URL, "e2e-token")
		rec := provisionInstance(client)

		mon, ui, inference := newMonitor(client, `{"models":[{"name":"some-other-model"}]}`)

		report, err := mon.Run(ctx, monitor.DeploymentContext{
			Record:  rec,
			Model:   testModel,
			Topic:   provision.NotifyTopic(rec.Label),
			APIPort: serverPort(inference),
			UIPort:  serverPort(ui),
			Budgets: tinyBudgets(),
		})

		// A missing model is a late-phase condition: the run still
		// completes and the operator gets a re-check command instead.
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Warnings).To(HaveLen(1))
		Expect(report.Warnings[0]).To(ContainSubstring("not listed in time"))
		Expect(report.Warnings[0]).To(ContainSubstring("curl"))
		Expect(report.Results[len(report.Results)-1].Phase).To(Equal(monitor.PhaseComplete))
	})

	It("makes no provisioning calls when credential acquisition fails", func() {
		prevToken, hadToken := os.LookupEnv("GPUDEPLOY_TOKEN")
		os.Unsetenv("GPUDEPLOY_TOKEN")
		DeferCleanup(func() {
			if hadToken {
				os.Setenv("GPUDEPLOY_TOKEN", prevToken)
			}
		})

		client := api.NewClient(cp.server.URL, "")
		validate := func(ctx context.Context, token string) (string, error) {
			profile, err := client.GetProfile(ctx)
			if err != nil {
				return "", err
			}
			return profile.Username, nil
		}

		provider := auth.NewProvider("https://login.example/oauth/authorize", "e2e-client",
			"/nonexistent/cli-config", 50*time.Millisecond, validate)
		provider.OpenBrowser = func(url string) error { return nil }

		_, err := provider.Acquire(ctx)

		var authErr *auth.AuthError
		Expect(errors.As(err, &authErr)).To(BeTrue())
		Expect(authErr.Reason).To(Equal(auth.ReasonTimeout))
		Expect(atomic.LoadInt32(&cp.createCalls)).To(BeZero())
	})
})
