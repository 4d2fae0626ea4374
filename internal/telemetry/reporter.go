package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
	"github.com/nerrad567/gray-logic-capture/internal/history"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/mqtt"
)

// ChannelDevicesChanged is the WebSocket channel carrying directory updates.
const ChannelDevicesChanged = "devices.changed"

// defaultQueueSize bounds the number of refresh events waiting for delivery.
const defaultQueueSize = 64

// historyTimeout bounds a single history write.
const historyTimeout = 5 * time.Second

// MQTTClient is the subset of the MQTT client the reporter publishes with.
// Topics are scoped to the client's service ID.
type MQTTClient interface {
	PublishDevices(payload []byte) error
	PublishEvent(event string, payload []byte) error
}

// MQTTSubscriber is the subset of the MQTT client used for commands.
type MQTTSubscriber interface {
	SubscribeCommand(command string, handler mqtt.MessageHandler) error
}

// MetricsWriter records directory metrics.
type MetricsWriter interface {
	WriteDirectory(s influxdb.DirectoryStats)
	WriteRefreshError(service, backend, reason string)
	WriteSelection(s influxdb.SelectionStats)
}

// HistoryRecorder persists refresh and selection audit entries.
type HistoryRecorder interface {
	RecordRefresh(ctx context.Context, ev capture.RefreshEvent) error
	RecordSelection(ctx context.Context, entry history.SelectionEntry) error
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Invalidator marks the cached device list stale.
type Invalidator interface {
	Invalidate()
}

// Logger is the logging interface used by the reporter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config identifies the service in published payloads and metrics.
type Config struct {
	Service   string
	Backend   string
	QueueSize int
}

// Sinks are the optional destinations for directory events. Nil sinks
// are skipped.
type Sinks struct {
	MQTT    MQTTClient
	Metrics MetricsWriter
	History HistoryRecorder
	Hub     WSHub
}

// Reporter fans directory events out to MQTT, InfluxDB, the history store
// and WebSocket clients.
//
// Refresh events are queued by HandleRefresh and delivered by Run, so the
// goroutine that refreshed the device list never waits on a broker.
//
// Thread Safety: all methods are safe for concurrent use.
type Reporter struct {
	cfg    Config
	sinks  Sinks
	logger Logger

	queue   chan capture.RefreshEvent
	dropped int
	mu      sync.Mutex
}

// NewReporter creates a reporter. Call Run to start delivery.
func NewReporter(cfg Config, sinks Sinks, logger Logger) *Reporter {
	if logger == nil {
		logger = noopLogger{}
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Reporter{
		cfg:    cfg,
		sinks:  sinks,
		logger: logger,
		queue:  make(chan capture.RefreshEvent, size),
	}
}

// HandleRefresh queues a refresh event for delivery. It never blocks; when
// the queue is full the event is dropped and counted.
//
// Its signature matches capture.Directory.SetOnRefresh.
func (r *Reporter) HandleRefresh(ev capture.RefreshEvent) {
	select {
	case r.queue <- ev:
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		r.logger.Warn("telemetry queue full, dropping refresh event", "dropped_total", n)
	}
}

// Dropped returns how many refresh events were discarded on a full queue.
func (r *Reporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left in the queue.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case ev := <-r.queue:
			r.deliver(ctx, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.queue:
					r.deliver(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) deliver(ctx context.Context, ev capture.RefreshEvent) {
	if r.sinks.History != nil {
		hctx, cancel := context.WithTimeout(ctx, historyTimeout)
		if err := r.sinks.History.RecordRefresh(hctx, ev); err != nil {
			r.logger.Warn("recording refresh history failed", "error", err)
		}
		cancel()
	}

	if ev.Err != nil {
		r.reportFailure(ev)
		return
	}

	if r.sinks.Metrics != nil {
		r.sinks.Metrics.WriteDirectory(influxdb.DirectoryStats{
			Service:     r.cfg.Service,
			Backend:     r.cfg.Backend,
			DeviceCount: ev.List.Len(),
			Added:       len(ev.Added),
			Removed:     len(ev.Removed),
			Enumeration: ev.Duration,
		})
	}

	if r.sinks.MQTT != nil {
		if data, ok := r.marshal("devices", newDeviceListPayload(r.cfg.Service, ev.List)); ok {
			if err := r.sinks.MQTT.PublishDevices(data); err != nil {
				r.logger.Warn("publishing device list failed", "error", err)
			}
		}
		for _, d := range ev.Added {
			r.publishEvent(mqtt.EventDeviceAdded, newDeviceEventPayload(r.cfg.Service, ev.List.Epoch, d))
		}
		for _, d := range ev.Removed {
			r.publishEvent(mqtt.EventDeviceRemoved, newDeviceEventPayload(r.cfg.Service, ev.List.Epoch, d))
		}
	}

	if r.sinks.Hub != nil && (len(ev.Added) > 0 || len(ev.Removed) > 0) {
		r.sinks.Hub.Broadcast(ChannelDevicesChanged, DevicesChanged{
			Epoch:   ev.List.Epoch,
			Devices: ev.List.Devices,
			Added:   ev.Added,
			Removed: ev.Removed,
		})
	}

	if len(ev.Added) > 0 || len(ev.Removed) > 0 {
		r.logger.Info("device list changed",
			"devices", ev.List.Len(),
			"added", len(ev.Added),
			"removed", len(ev.Removed),
			"epoch", ev.List.Epoch,
		)
	}
}

func (r *Reporter) reportFailure(ev capture.RefreshEvent) {
	reason := ev.Err.Error()
	if r.sinks.Metrics != nil {
		r.sinks.Metrics.WriteRefreshError(r.cfg.Service, r.cfg.Backend, reason)
	}
	if r.sinks.MQTT != nil {
		r.publishEvent(mqtt.EventRefreshFailed, newFailurePayload(r.cfg.Service, reason))
	}
}

func (r *Reporter) marshal(kind string, payload any) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("marshalling telemetry payload", "kind", kind, "error", err)
		return nil, false
	}
	return data, true
}

func (r *Reporter) publishEvent(event string, payload any) {
	data, ok := r.marshal(event, payload)
	if !ok {
		return
	}
	if err := r.sinks.MQTT.PublishEvent(event, data); err != nil {
		r.logger.Warn("publishing telemetry event failed", "event", event, "error", err)
	}
}

// RecordSelection records the outcome of a best-match query in the history
// store and as a metric. Failures are logged, never returned: a selection
// has already been answered by the time it is recorded.
func (r *Reporter) RecordSelection(ctx context.Context, deviceID, epoch string, req capture.CaptureCapability, index int, result capture.CaptureCapability) {
	if r.sinks.History != nil {
		err := r.sinks.History.RecordSelection(ctx, history.SelectionEntry{
			DeviceID:        deviceID,
			Epoch:           epoch,
			Requested:       req,
			CapabilityIndex: index,
			Resulting:       result,
		})
		if err != nil {
			r.logger.Warn("recording selection history failed", "device_id", deviceID, "error", err)
		}
	}

	if r.sinks.Metrics != nil {
		r.sinks.Metrics.WriteSelection(influxdb.SelectionStats{
			Service:     r.cfg.Service,
			DeviceID:    deviceID,
			PixelFormat: string(result.PixelFormat),
			Index:       index,
			Width:       result.Width,
			Height:      result.Height,
			MaxFPS:      result.MaxFPS,
			Exact:       capture.IsExactMatch(req, result),
		})
	}
}

// SubscribeCommands subscribes to the refresh command topic. Each message
// invalidates the cached device list so the next read re-enumerates.
func (r *Reporter) SubscribeCommands(sub MQTTSubscriber, dir Invalidator) error {
	return sub.SubscribeCommand(mqtt.CommandRefresh, func(topic string, _ []byte) error {
		r.logger.Info("refresh command received", "topic", topic)
		dir.Invalidate()
		return nil
	})
}
