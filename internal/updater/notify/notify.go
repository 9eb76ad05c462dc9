// Package notify publishes the lifecycle of an update run over MQTT.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/ptr"

	"github.com/autopeer-io/ecuflash/internal/updater/result"
	"github.com/autopeer-io/ecuflash/pkg/log"
	"github.com/autopeer-io/ecuflash/pkg/mqtt"
	"github.com/autopeer-io/ecuflash/pkg/mqtt/topic"
	"github.com/autopeer-io/ecuflash/pkg/options"
)

const (
	StateStarted  = "started"
	StateFinished = "finished"
	// StateLost is published by the broker as will message when the updater vanishes.
	StateLost = "lost"
)

// progressStep is the granularity of progress messages in percent.
const progressStep = 10

// Publisher is the part of mqtt.Client the Notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
}

// Status is the payload of the status topic.
type Status struct {
	RunID     string    `json:"runId"`
	State     string    `json:"state"`
	Host      string    `json:"host,omitempty"`
	Package   string    `json:"package,omitempty"`
	Code      *int      `json:"code,omitempty"`
	Name      string    `json:"name,omitempty"`
	Activity  string    `json:"activity,omitempty"`
	Message   string    `json:"message,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress is the payload of the progress topic.
type Progress struct {
	RunID    string `json:"runId"`
	Progress int    `json:"progress"`
}

// Notifier publishes messages for one run. Publish failures are logged and otherwise ignored.
type Notifier struct {
	pub     Publisher
	topics  *topic.TopicBuilder
	runID   string
	host    string
	qos     int
	timeout time.Duration
	logger  log.Logger

	mu       sync.Mutex
	lastStep int
}

// New creates a Notifier publishing below root.
func New(pub Publisher, root, runID, host string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Notifier{
		pub:      pub,
		topics:   topic.NewTopicBuilder(root),
		runID:    runID,
		host:     host,
		qos:      1,
		timeout:  5 * time.Second,
		logger:   logger.WithName("notify"),
		lastStep: -1,
	}
}

// Started announces the run.
func (n *Notifier) Started(packagePath string) {
	n.publish(n.topics.FlashStatus(n.runID), false, n.status(StateStarted, func(s *Status) {
		s.Package = packagePath
	}))
}

// Progress publishes the completion whenever it crosses a progressStep boundary.
func (n *Notifier) Progress(percent int) {
	n.mu.Lock()
	s := percent / progressStep
	if s <= n.lastStep {
		n.mu.Unlock()
		return
	}
	n.lastStep = s
	n.mu.Unlock()

	n.publish(n.topics.FlashProgress(n.runID), false, Progress{RunID: n.runID, Progress: percent})
}

// Finished publishes the final result. The message is retained so late subscribers see it.
func (n *Notifier) Finished(code result.Code, elapsed time.Duration) {
	n.publish(n.topics.FlashStatus(n.runID), true, n.status(StateFinished, func(s *Status) {
		s.Code = ptr.To(int(code))
		s.Name = code.String()
		s.Activity, s.Message = result.Describe(code)
		s.Duration = elapsed.Round(time.Millisecond).String()
	}))
}

// Will returns the topic and payload the broker publishes if the run is lost.
func (n *Notifier) Will() (string, []byte) {
	payload, _ := json.Marshal(n.status(StateLost, nil))
	return n.topics.FlashStatus(n.runID), payload
}

func (n *Notifier) status(state string, fill func(*Status)) Status {
	s := Status{RunID: n.runID, State: state, Host: n.host, Timestamp: time.Now().UTC()}
	if fill != nil {
		fill(&s)
	}
	return s
}

func (n *Notifier) publish(topic string, retain bool, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error(err, "Notification could not be encoded", "topic", topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.pub.Publish(ctx, topic, n.qos, retain, payload); err != nil {
		n.logger.Warn("Notification not published", "topic", topic, "error", err.Error())
		return
	}
	n.logger.Debug("Notification published", "topic", topic)
}

// Connect creates the MQTT client of a run and waits for the broker. The returned
// close function disconnects cleanly.
func Connect(ctx context.Context, opts *options.MqttOptions, runID, host string, logger log.Logger) (*Notifier, func(), error) {
	cfg := opts.ToClientConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = "cpeer-flash-" + runID
	}

	// The client only exists once the will is known, so a throwaway Notifier builds it.
	n := New(nil, opts.TopicRoot, runID, host, logger)
	cfg.WillTopic, cfg.WillPayload = n.Will()
	cfg.WillQoS = 1
	cfg.WillRetain = true

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("mqtt start: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.AwaitConnection(waitCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mqtt broker %s not reachable: %w", cfg.BrokerURL, err)
	}

	n.pub = client
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		client.Disconnect(ctx)
	}
	return n, closeFn, nil
}
