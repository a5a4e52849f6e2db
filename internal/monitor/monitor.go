package monitor

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"gpudeploy/internal/logging"
	"gpudeploy/internal/notify"
	"gpudeploy/internal/record"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// terminalKeywords end the install-progress phase early: the setup script
// announces its final stage right before handing over to the services.
var terminalKeywords = []string{"reboot", "final stage"}

// StatusSource reports instance lifecycle status; in production this is
// the control-plane client.
type StatusSource interface {
	InstanceStatus(ctx context.Context, id string) (string, error)
}

// RemoteRunner executes one diagnostic command on the instance.
type RemoteRunner interface {
	Run(command string) (string, error)
	Close() error
}

// RemoteFactory opens a remote shell channel to the instance once it is
// reachable.
type RemoteFactory func(host, password string) (RemoteRunner, error)

// DeploymentContext is the immutable input to one monitoring run. Phase
// functions communicate only through return values.
type DeploymentContext struct {
	Record  *record.Record
	Model   string
	Topic   string
	APIPort int
	UIPort  int
	Budgets Budgets
}

// Report is the outcome of a monitoring run: one result per executed
// phase, plus operator-facing warnings for every non-fatal timeout.
type Report struct {
	Results  []PhaseResult
	Warnings []string
}

func (r *Report) add(res PhaseResult) {
	r.Results = append(r.Results, res)
	logging.Logger().Info("phase finished",
		zap.String("phase", res.Phase.String()),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("elapsed", res.Elapsed),
		zap.String("detail", res.Detail))
}

func (r *Report) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
	logging.Logger().Warn(msg)
}

// Monitor drives the five-phase bring-up sequence against one instance.
type Monitor struct {
	Status StatusSource
	Feed   notify.Subscriber
	Remote RemoteFactory

	// Dial is swappable for tests; defaults to net.DialTimeout.
	Dial func(addr string, timeout time.Duration) error

	// HTTP performs the service health probes. The polling loops own the
	// retry cadence, so the client itself does not retry.
	HTTP *retryablehttp.Client
}

// New creates a monitor with production collaborators.
func New(status StatusSource, feed notify.Subscriber, remote RemoteFactory) *Monitor {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	client.HTTPClient.Timeout = 10 * time.Second

	return &Monitor{
		Status: status,
		Feed:   feed,
		Remote: remote,
		Dial: func(addr string, timeout time.Duration) error {
			conn, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		HTTP: client,
	}
}

// Run executes the phases in order. It returns an error only when a
// fatal phase failed; non-fatal timeouts are reported as warnings and
// the run still counts as complete.
func (m *Monitor) Run(ctx context.Context, d DeploymentContext) (*Report, error) {
	report := &Report{}

	res, err := m.waitBoot(ctx, d)
	report.add(res)
	if err != nil {
		return report, err
	}

	res, err = m.waitInstallProgress(ctx, d)
	report.add(res)
	if err != nil {
		return report, err
	}
	if res.Outcome == OutcomeTimedOut {
		report.warn(fmt.Sprintf("install progress feed ended without a terminal message; continuing (topic %q)", d.Topic))
	}

	res, err = m.waitReachability(ctx, d)
	report.add(res)
	if err != nil {
		return report, err
	}

	res = m.checkRemoteHealth(d)
	report.add(res)
	if res.Outcome == OutcomeTimedOut {
		report.warn("expected service processes not (yet) visible on the instance; the service health phase will verify")
	}

	uiRes, apiRes := m.waitServiceHealth(ctx, d)
	report.add(uiRes)
	if uiRes.Outcome == OutcomeTimedOut {
		report.warn(fmt.Sprintf("web UI did not answer in time; it may still be starting; re-check with: curl -fsS http://%s:%d/", d.Record.IP, d.UIPort))
	}
	report.add(apiRes)
	if apiRes.Outcome == OutcomeTimedOut {
		report.warn(fmt.Sprintf("model %q not listed in time; it may still be loading; re-check with: curl -fsS http://%s:%d/api/tags", d.Model, d.Record.IP, d.APIPort))
	}

	report.add(PhaseResult{Phase: PhaseComplete, Outcome: OutcomeSuccess})
	return report, nil
}

// RunServiceHealth re-runs only the service health probes, for rechecks
// against an instance that already finished bring-up.
func (m *Monitor) RunServiceHealth(ctx context.Context, d DeploymentContext) *Report {
	report := &Report{}

	uiRes, apiRes := m.waitServiceHealth(ctx, d)
	report.add(uiRes)
	if uiRes.Outcome == OutcomeTimedOut {
		report.warn(fmt.Sprintf("web UI did not answer in time; re-check with: curl -fsS http://%s:%d/", d.Record.IP, d.UIPort))
	}
	report.add(apiRes)
	if apiRes.Outcome == OutcomeTimedOut {
		report.warn(fmt.Sprintf("model %q not listed in time; re-check with: curl -fsS http://%s:%d/api/tags", d.Model, d.Record.IP, d.APIPort))
	}

	return report
}

// waitBoot polls instance status until "running". Timeout here is fatal:
// the instance most likely failed to start at all.
func (m *Monitor) waitBoot(ctx context.Context, d DeploymentContext) (PhaseResult, error) {
	start := time.Now()
	deadline := start.Add(d.Budgets.BootTimeout)

	logging.Logger().Info("waiting for instance to boot",
		zap.String("instance_id", d.Record.ID),
		zap.Duration("timeout", d.Budgets.BootTimeout))

	for {
		status, err := m.Status.InstanceStatus(ctx, d.Record.ID)
		if err != nil {
			logging.Logger().Warn("status poll failed", zap.Error(err))
		} else if status == "running" {
			return PhaseResult{Phase: PhaseBoot, Outcome: OutcomeSuccess, Elapsed: time.Since(start)}, nil
		} else {
			logging.Logger().Info("instance not running yet",
				zap.String("status", status),
				zap.Duration("elapsed", time.Since(start).Round(time.Second)))
		}

		if !time.Now().Add(d.Budgets.BootPoll).Before(deadline) {
			break
		}
		if err := sleep(ctx, d.Budgets.BootPoll); err != nil {
			return PhaseResult{Phase: PhaseBoot, Outcome: OutcomeTimedOut, Elapsed: time.Since(start)}, err
		}
	}

	return PhaseResult{Phase: PhaseBoot, Outcome: OutcomeTimedOut, Elapsed: time.Since(start)},
		&PhaseTimeoutError{Phase: PhaseBoot, Timeout: d.Budgets.BootTimeout, Fatal: true}
}

// waitInstallProgress consumes the push feed. No first message within its
// window is fatal (the setup script never started); after that, a missing
// terminal keyword merely ends the phase early once the ceiling is hit.
func (m *Monitor) waitInstallProgress(ctx context.Context, d DeploymentContext) (PhaseResult, error) {
	start := time.Now()

	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := m.Feed.Subscribe(feedCtx, d.Topic)
	if err != nil {
		return PhaseResult{Phase: PhaseInstallProgress, Outcome: OutcomeTimedOut, Elapsed: time.Since(start)},
			fmt.Errorf("failed to subscribe to progress feed: %w", err)
	}

	firstTimer := time.NewTimer(d.Budgets.InstallFirstMsg)
	defer firstTimer.Stop()
	ceiling := time.NewTimer(d.Budgets.InstallCeiling)
	defer ceiling.Stop()

	sawFirst := false
	for {
		select {
		case ev, open := <-events:
			if !open {
				// Stream ended; without the terminal keyword this is a
				// non-fatal early end.
				return PhaseResult{Phase: PhaseInstallProgress, Outcome: OutcomeTimedOut,
					Elapsed: time.Since(start), Detail: "feed closed before terminal message"}, nil
			}
			if ev.Message == "" {
				continue
			}
			if !sawFirst {
				sawFirst = true
				firstTimer.Stop()
			}
			logging.Logger().Info("install progress",
				zap.String("message", ev.Message),
				zap.Duration("elapsed", time.Since(start).Round(time.Second)))
			if containsTerminalKeyword(ev.Message) {
				return PhaseResult{Phase: PhaseInstallProgress, Outcome: OutcomeSuccess,
					Elapsed: time.Since(start), Detail: ev.Message}, nil
			}

		case <-firstTimer.C:
			if !sawFirst {
				return PhaseResult{Phase: PhaseInstallProgress, Outcome: OutcomeTimedOut, Elapsed: time.Since(start)},
					&PhaseTimeoutError{Phase: PhaseInstallProgress, Timeout: d.Budgets.InstallFirstMsg, Fatal: true}
			}

		case <-ceiling.C:
			return PhaseResult{Phase: PhaseInstallProgress, Outcome: OutcomeTimedOut,
				Elapsed: time.Since(start), Detail: "ceiling reached without terminal message"}, nil

		case <-ctx.Done():
			return PhaseResult{Phase: PhaseInstallProgress, Outcome: OutcomeTimedOut, Elapsed: time.Since(start)}, ctx.Err()
		}
	}
}

// waitReachability polls TCP connectivity on the shell port. Fatal on
// timeout: without a shell channel nothing later can be verified.
func (m *Monitor) waitReachability(ctx context.Context, d DeploymentContext) (PhaseResult, error) {
	start := time.Now()
	deadline := start.Add(d.Budgets.ReachTimeout)
	addr := net.JoinHostPort(d.Record.IP, "22")

	logging.Logger().Info("waiting for shell port", zap.String("addr", addr))

	for {
		if err := m.Dial(addr, d.Budgets.ReachPoll); err == nil {
			return PhaseResult{Phase: PhaseReachability, Outcome: OutcomeSuccess, Elapsed: time.Since(start)}, nil
		}
		logging.Logger().Info("shell port not reachable yet",
			zap.Duration("elapsed", time.Since(start).Round(time.Second)))

		if !time.Now().Add(d.Budgets.ReachPoll).Before(deadline) {
			break
		}
		if err := sleep(ctx, d.Budgets.ReachPoll); err != nil {
			return PhaseResult{Phase: PhaseReachability, Outcome: OutcomeTimedOut, Elapsed: time.Since(start)}, err
		}
	}

	return PhaseResult{Phase: PhaseReachability, Outcome: OutcomeTimedOut, Elapsed: time.Since(start)},
		&PhaseTimeoutError{Phase: PhaseReachability, Timeout: d.Budgets.ReachTimeout, Fatal: true}
}

// checkRemoteHealth runs one process-list check over the shell channel.
// Never fatal: the service health phase is the authoritative check.
func (m *Monitor) checkRemoteHealth(d DeploymentContext) PhaseResult {
	start := time.Now()

	if m.Remote == nil {
		return PhaseResult{Phase: PhaseRemoteHealth, Outcome: OutcomeTimedOut,
			Elapsed: time.Since(start), Detail: "no remote channel configured"}
	}

	runner, err := m.Remote(d.Record.IP, d.Record.RootPassword)
	if err != nil {
		return PhaseResult{Phase: PhaseRemoteHealth, Outcome: OutcomeTimedOut,
			Elapsed: time.Since(start), Detail: fmt.Sprintf("shell channel failed: %v", err)}
	}
	defer runner.Close()

	out, err := runner.Run("pgrep -af 'ollama|open-webui' || true")
	if err != nil {
		return PhaseResult{Phase: PhaseRemoteHealth, Outcome: OutcomeTimedOut,
			Elapsed: time.Since(start), Detail: fmt.Sprintf("process check failed: %v", err)}
	}

	if strings.Contains(out, "ollama") && strings.Contains(out, "open-webui") {
		return PhaseResult{Phase: PhaseRemoteHealth, Outcome: OutcomeSuccess, Elapsed: time.Since(start)}
	}
	return PhaseResult{Phase: PhaseRemoteHealth, Outcome: OutcomeTimedOut,
		Elapsed: time.Since(start), Detail: "expected processes not found"}
}

// waitServiceHealth runs the two independent probe loops: the UI must
// answer HTTP, and the model-list endpoint must name the requested model.
// Model loading may dominate total deployment time, hence its own longer
// budget. Both timeouts are non-fatal.
func (m *Monitor) waitServiceHealth(ctx context.Context, d DeploymentContext) (PhaseResult, PhaseResult) {
	uiURL := fmt.Sprintf("http://%s/", net.JoinHostPort(d.Record.IP, fmt.Sprint(d.UIPort)))
	uiRes := m.probe(ctx, d, uiURL, d.Budgets.UIHealthTimeout, func(status int, body string) bool {
		return status >= 200 && status < 300
	})

	modelURL := fmt.Sprintf("http://%s/api/tags", net.JoinHostPort(d.Record.IP, fmt.Sprint(d.APIPort)))
	apiRes := m.probe(ctx, d, modelURL, d.Budgets.ModelLoadTimeout, func(status int, body string) bool {
		return status >= 200 && status < 300 && strings.Contains(body, d.Model)
	})

	return uiRes, apiRes
}

// probe polls url until ok() accepts the response or the budget runs out.
func (m *Monitor) probe(ctx context.Context, d DeploymentContext, url string, timeout time.Duration, ok func(status int, body string) bool) PhaseResult {
	start := time.Now()
	deadline := start.Add(timeout)

	logging.Logger().Info("probing service", zap.String("url", url), zap.Duration("timeout", timeout))

	for {
		status, body, err := m.fetch(ctx, url)
		if err == nil && ok(status, body) {
			return PhaseResult{Phase: PhaseServiceHealth, Outcome: OutcomeSuccess,
				Elapsed: time.Since(start), Detail: url}
		}
		logging.Logger().Info("service not healthy yet",
			zap.String("url", url),
			zap.Duration("elapsed", time.Since(start).Round(time.Second)))

		if !time.Now().Add(d.Budgets.HealthPoll).Before(deadline) {
			break
		}
		if err := sleep(ctx, d.Budgets.HealthPoll); err != nil {
			break
		}
	}

	return PhaseResult{Phase: PhaseServiceHealth, Outcome: OutcomeTimedOut,
		Elapsed: time.Since(start), Detail: url}
}

func (m *Monitor) fetch(ctx context.Context, url string) (int, string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func containsTerminalKeyword(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range terminalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
