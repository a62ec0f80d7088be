package sensor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/internal/tracker"
	"github.com/danghamo/nearby/pkg/logger"
)

// MQTTConfig configures the broker connection of an MQTTSensor
type MQTTConfig struct {
	Broker         string        `mapstructure:"mqtt_broker"`
	Topic          string        `mapstructure:"mqtt_topic"`
	ClientID       string        `mapstructure:"mqtt_client_id"`
	ConnectTimeout time.Duration `mapstructure:"mqtt_connect_timeout"`
}

// mqttReading is the device payload. Timestamp is unix milliseconds.
type mqttReading struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
	Error     string  `json:"error,omitempty"`
}

// MQTTSensor reads device locations published to an MQTT topic. Dropped
// broker connections are retried by the client library.
type MQTTSensor struct {
	cfg    MQTTConfig
	clock  clockwork.Clock
	logger *logger.Logger
}

// NewMQTTSensor creates an MQTT-backed sensor. The topic may contain a %s
// placeholder that is filled with userID.
func NewMQTTSensor(cfg MQTTConfig, userID string, clk clockwork.Clock, log *logger.Logger) *MQTTSensor {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	cfg.Topic = topicFor(cfg.Topic, userID)
	if cfg.ClientID == "" {
		cfg.ClientID = "nearby-" + userID
	}
	return &MQTTSensor{
		cfg:    cfg,
		clock:  clk,
		logger: log.WithComponent("mqtt_sensor").WithUserID(userID),
	}
}

func topicFor(pattern, userID string) string {
	if strings.Contains(pattern, "%s") {
		return fmt.Sprintf(pattern, userID)
	}
	return pattern
}

// Subscribe implements tracker.Sensor
func (s *MQTTSensor) Subscribe(opts tracker.SensorOptions, onReading tracker.ReadingFunc, onError tracker.ErrorFunc) (func(), error) {
	handler := func(_ mqtt.Client, m mqtt.Message) {
		s.handle(m.Payload(), opts, onReading, onError)
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(s.cfg.ConnectTimeout)

	clientOpts.SetOnConnectHandler(func(c mqtt.Client) {
		// subscriptions do not survive a clean-session reconnect
		token := c.Subscribe(s.cfg.Topic, 1, handler)
		if token.WaitTimeout(s.cfg.ConnectTimeout) && token.Error() == nil {
			s.logger.Info("Subscribed to location topic", zap.String("topic", s.cfg.Topic))
			return
		}
		s.logger.Warn("Location topic subscribe failed", zap.Error(token.Error()))
		onError(tracker.Unavailable)
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", zap.Error(err))
		onError(tracker.Unavailable)
	})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, shared.NewDomainError(shared.ErrCodeSensorTimeout, "mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeSensorUnavailable, "mqtt connect failed")
	}

	return func() {
		client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
		client.Disconnect(250)
		s.logger.Info("MQTT location subscription closed")
	}, nil
}

func (s *MQTTSensor) handle(payload []byte, opts tracker.SensorOptions, onReading tracker.ReadingFunc, onError tracker.ErrorFunc) {
	var msg mqttReading
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Debug("Ignoring malformed location payload", zap.Error(err))
		return
	}

	switch msg.Error {
	case "":
	case "permission_denied":
		onError(tracker.PermissionDenied)
		return
	case "timeout":
		onError(tracker.Timeout)
		return
	default:
		onError(tracker.Unavailable)
		return
	}

	r := geo.RawReading{
		Latitude:  msg.Lat,
		Longitude: msg.Lon,
		Accuracy:  msg.Accuracy,
		Timestamp: time.UnixMilli(msg.Timestamp).UTC(),
	}
	if msg.Timestamp == 0 {
		r.Timestamp = s.clock.Now()
	}

	if opts.MaxAge > 0 && s.clock.Now().Sub(r.Timestamp) > opts.MaxAge {
		s.logger.Debug("Dropping stale reading", zap.Time("timestamp", r.Timestamp))
		return
	}

	onReading(r)
}
