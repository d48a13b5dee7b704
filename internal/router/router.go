package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/fleetgate/internal/audit"
	"github.com/nerrad567/fleetgate/internal/auth"
	"github.com/nerrad567/fleetgate/internal/device"
	"github.com/nerrad567/fleetgate/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetgate/internal/policy"
)

// Transport is the pub/sub capability the router depends on.
// Satisfied by *mqtt.Client; tests use a recording fake.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// DeviceRegistry is the registry surface the router uses.
// Satisfied by *device.Registry.
type DeviceRegistry interface {
	Resolve(ctx context.Context, reg device.Registration) (*device.Device, bool, error)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
	Touch(ctx context.Context, id string, seen time.Time) error
}

// Evaluator is the decision engine surface the router uses.
// Satisfied by *policy.Engine.
type Evaluator interface {
	Evaluate(user policy.User, dev *device.Device, reqCtx map[string]string) policy.Decision
}

// Recorder appends audit records without blocking the caller.
// Satisfied by *audit.Log.
type Recorder interface {
	Record(rec audit.Record) string
}

// Telemetry receives message and decision metrics. Satisfied by
// *influxdb.Client; nil disables telemetry.
type Telemetry interface {
	WriteMessageMetric(deviceID, deviceType, topic string, payloadBytes int)
	WriteDecisionMetric(deviceID string, allowed bool)
}

// Logger defines the logging interface used by the router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config carries the router's operational settings.
type Config struct {
	// QoS applies to every subscription and publish.
	QoS byte

	// JWTSecret signs device enrollment tokens issued in registration
	// acknowledgments.
	JWTSecret string

	// TokenTTL is the enrollment token lifetime.
	TokenTTL time.Duration
}

// Result is the outcome of an outbound send.
type Result struct {
	// OK reports whether the payload reached the transport.
	OK bool `json:"ok"`

	// AuditID references the send-ok or send-fail record for this send.
	AuditID string `json:"audit_id"`

	// Reason explains a failed send: the policy denial reason or a
	// transport error summary. Empty on success.
	Reason string `json:"reason,omitempty"`
}

// registrationMessage is the wire format devices publish on the
// registration topic.
type registrationMessage struct {
	DeviceID       string `json:"device_id"`
	DeviceType     string `json:"device_type"`
	SubscribeTopic string `json:"subscribe_topic,omitempty"`
}

// registrationAck is the wire format published to the device's
// acknowledgment topic. The device adopts the canonical DeviceID and
// attaches the JWT to later requests.
type registrationAck struct {
	DeviceID       string `json:"device_id"`
	SubscribeTopic string `json:"subscribe_topic"`
	JWT            string `json:"jwt"`
}

// Router dispatches inbound device traffic and gates outbound sends.
//
// Inbound: registration topic events resolve (or create) the device,
// subscribe its data topic, and acknowledge with the canonical ID plus
// an enrollment token. Data topic events persist the payload and update
// last-seen. Malformed payloads are logged and dropped; nothing on the
// inbound path can crash the router.
//
// Outbound: SendToDevice consults the decision engine first and only
// publishes on allow, recording exactly one send-ok or send-fail per
// completed send.
type Router struct {
	transport Transport
	registry  DeviceRegistry
	engine    Evaluator
	auditLog  Recorder
	messages  MessageRepository
	telemetry Telemetry
	cfg       Config
	logger    Logger

	// baseCtx bounds storage work triggered by transport callbacks,
	// which carry no context of their own. Set by Start.
	baseCtx context.Context
}

// New creates a router. telemetry may be nil.
func New(transport Transport, registry DeviceRegistry, engine Evaluator,
	auditLog Recorder, messages MessageRepository, telemetry Telemetry,
	cfg Config, logger Logger,
) *Router {
	return &Router{
		transport: transport,
		registry:  registry,
		engine:    engine,
		auditLog:  auditLog,
		messages:  messages,
		telemetry: telemetry,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   context.Background(),
	}
}

// Start subscribes the registration topic and restores data topic
// subscriptions for every known device. It must be called exactly once
// after the transport is connected; the router stops when the transport
// closes.
func (r *Router) Start(ctx context.Context) error {
	r.baseCtx = ctx

	if err := r.transport.Subscribe(mqtt.Topics{}.Register(), r.cfg.QoS, r.handleRegistration); err != nil {
		return fmt.Errorf("subscribing registration topic: %w", err)
	}

	devices, err := r.registry.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices for subscription restore: %w", err)
	}
	for _, dev := range devices {
		topic := mqtt.Topics{}.DeviceData(dev.ID)
		if err := r.transport.Subscribe(topic, r.cfg.QoS, r.dataHandler(dev.ID)); err != nil {
			return fmt.Errorf("restoring subscription for %s: %w", dev.ID, err)
		}
	}

	r.logger.Info("router started", "restored_subscriptions", len(devices))
	return nil
}

// handleRegistration processes one event from the registration topic.
func (r *Router) handleRegistration(topic string, payload []byte) error {
	var msg registrationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("malformed registration payload dropped",
			"topic", topic, "size", len(payload), "error", err)
		return nil
	}

	dev, created, err := r.registry.Resolve(r.baseCtx, device.Registration{
		DeviceID: msg.DeviceID,
		Type:     msg.DeviceType,
	})
	if err != nil {
		return fmt.Errorf("resolving device: %w", err)
	}

	dataTopic := msg.SubscribeTopic
	if dataTopic == "" {
		dataTopic = mqtt.Topics{}.DeviceData(dev.ID)
	}

	if err := r.transport.Subscribe(dataTopic, r.cfg.QoS, r.dataHandler(dev.ID)); err != nil {
		return fmt.Errorf("subscribing data topic for %s: %w", dev.ID, err)
	}

	token, err := auth.GenerateDeviceToken(dev.ID, dev.Type, r.cfg.JWTSecret, r.cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("issuing enrollment token for %s: %w", dev.ID, err)
	}

	ack, err := json.Marshal(registrationAck{
		DeviceID:       dev.ID,
		SubscribeTopic: dataTopic,
		JWT:            token,
	})
	if err != nil {
		return fmt.Errorf("encoding registration ack: %w", err)
	}

	if err := r.transport.Publish(mqtt.Topics{}.DeviceRegistered(dev.ID), ack, r.cfg.QoS, false); err != nil {
		return fmt.Errorf("publishing registration ack for %s: %w", dev.ID, err)
	}

	r.logger.Info("device registered",
		"device_id", dev.ID, "type", dev.Type, "created", created, "data_topic", dataTopic)
	return nil
}

// dataHandler returns the handler for one device's data topic.
func (r *Router) dataHandler(deviceID string) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		now := time.Now().UTC()

		if err := r.messages.Insert(r.baseCtx, &InboundMessage{
			DeviceID:   deviceID,
			Topic:      topic,
			Payload:    payload,
			ReceivedAt: now,
		}); err != nil {
			return fmt.Errorf("persisting message from %s: %w", deviceID, err)
		}

		if err := r.registry.Touch(r.baseCtx, deviceID, now); err != nil {
			return fmt.Errorf("touching device %s: %w", deviceID, err)
		}

		if r.telemetry != nil {
			deviceType := ""
			if dev, err := r.registry.GetDevice(r.baseCtx, deviceID); err == nil {
				deviceType = dev.Type
			}
			r.telemetry.WriteMessageMetric(deviceID, deviceType, topic, len(payload))
		}

		r.logger.Debug("message stored", "device_id", deviceID, "topic", topic, "size", len(payload))
		return nil
	}
}

// SendToDevice publishes a payload to a device's data topic after an
// access control decision.
//
// The engine is consulted first; only an allow reaches the transport.
// Exactly one send-ok or send-fail record is written per completed
// send, with the denial reason or transport error in the description.
// If ctx expires before the transport acknowledges, the send is
// abandoned: no outcome record is written, the error is returned, and
// a late transport acknowledgment is discarded without logging.
//
// Lookup and storage failures return an error rather than a denial, so
// callers cannot confuse "access denied" with "system unavailable".
func (r *Router) SendToDevice(ctx context.Context, user policy.User, deviceID string, payload []byte) (Result, error) {
	dev, err := r.registry.GetDevice(ctx, deviceID)
	if err != nil {
		return Result{}, fmt.Errorf("resolving device %s: %w", deviceID, err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	decision := r.engine.Evaluate(user, dev, nil)
	if r.telemetry != nil {
		r.telemetry.WriteDecisionMetric(dev.ID, decision.Allowed)
	}
	if !decision.Allowed {
		auditID := r.auditLog.Record(audit.Record{
			Status:      audit.StatusSendFail,
			UserID:      user.ID,
			DeviceID:    dev.ID,
			Description: fmt.Sprintf("send denied: %s", decision.Reason),
		})
		r.logger.Info("send denied",
			"user_id", user.ID, "device_id", dev.ID, "reason", decision.Reason)
		return Result{OK: false, AuditID: auditID, Reason: decision.Reason}, nil
	}

	topic := mqtt.Topics{}.DeviceData(dev.ID)

	// Publish on a separate goroutine so an expiring ctx abandons the
	// send. The buffered channel lets a late acknowledgment complete
	// and be discarded without a second outcome record.
	pubErr := make(chan error, 1)
	go func() {
		pubErr <- r.transport.Publish(topic, payload, r.cfg.QoS, false)
	}()

	select {
	case err := <-pubErr:
		if err != nil {
			auditID := r.auditLog.Record(audit.Record{
				Status:      audit.StatusSendFail,
				UserID:      user.ID,
				DeviceID:    dev.ID,
				Description: fmt.Sprintf("send failed: %v", err),
			})
			r.logger.Error("send failed",
				"user_id", user.ID, "device_id", dev.ID, "error", err)
			return Result{OK: false, AuditID: auditID, Reason: "transport failure"}, nil
		}

		auditID := r.auditLog.Record(audit.Record{
			Status:      audit.StatusSendOK,
			UserID:      user.ID,
			DeviceID:    dev.ID,
			Description: fmt.Sprintf("sent %d bytes to %s (policy %s)", len(payload), topic, decision.MatchedPolicy),
		})
		r.logger.Debug("send ok", "user_id", user.ID, "device_id", dev.ID, "topic", topic)
		return Result{OK: true, AuditID: auditID}, nil

	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// RecentMessages returns the latest inbound messages for a device,
// newest first.
func (r *Router) RecentMessages(ctx context.Context, deviceID string, limit int) ([]InboundMessage, error) {
	return r.messages.ListByDevice(ctx, deviceID, limit)
}
