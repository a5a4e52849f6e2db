package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gpudeploy/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Event is one message from the push-notification feed. Fields other
// than Message exist on the wire but are not interesting here.
type Event struct {
	ID      string `json:"id"`
	Time    int64  `json:"time"`
	Kind    string `json:"event"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// Subscriber delivers the label-scoped progress feed of one instance.
type Subscriber interface {
	// Subscribe opens the feed for a topic. The returned channel is
	// closed when the stream ends or ctx is canceled.
	Subscribe(ctx context.Context, topic string) (<-chan Event, error)
}

// HTTPSubscriber consumes an ntfy-style line-delimited JSON stream.
type HTTPSubscriber struct {
	Server string
	client *retryablehttp.Client
}

// NewHTTPSubscriber creates a subscriber against the given feed server.
func NewHTTPSubscriber(server string) *HTTPSubscriber {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = time.Second
	client.Logger = nil
	// The response is an open-ended stream; only connection establishment
	// may be bounded.
	client.HTTPClient.Timeout = 0
	return &HTTPSubscriber{Server: server, client: client}
}

// Subscribe opens the stream and decodes one JSON object per line.
// Malformed lines are skipped; messages of other kinds (keepalives,
// open markers) come through with an empty Message.
func (s *HTTPSubscriber) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	url := fmt.Sprintf("%s/%s/json", s.Server, topic)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress feed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("progress feed returned status %d", resp.StatusCode)
	}

	logging.Logger().Info("subscribed to progress feed", zap.String("topic", topic))

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				logging.Logger().Debug("skipping malformed feed line",
					zap.String("line", logging.Truncate(string(line))))
				continue
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logging.Logger().Warn("progress feed closed with error", zap.Error(err))
		}
	}()

	return events, nil
}
