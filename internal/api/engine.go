package api

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jonboulle/clockwork"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/internal/channel"
	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/presence"
	"github.com/danghamo/nearby/internal/domain/venue"
	"github.com/danghamo/nearby/internal/feed"
	"github.com/danghamo/nearby/internal/proximity"
	"github.com/danghamo/nearby/internal/sensor"
	"github.com/danghamo/nearby/internal/session"
	"github.com/danghamo/nearby/internal/tracker"
	"github.com/danghamo/nearby/pkg/config"
	"github.com/danghamo/nearby/pkg/logger"
	"github.com/danghamo/nearby/pkg/metrics"
	"github.com/danghamo/nearby/pkg/redisx"
	"github.com/danghamo/nearby/pkg/sse"
)

// Feed transports
const (
	TransportRedis  = "redis"
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// Sensor sources
const (
	SourcePush = "push"
	SourceMQTT = "mqtt"
)

// sharedFeed is a feed every session can use at once
type sharedFeed interface {
	channel.Feed
	Close() error
}

// Engine holds the process-wide collaborators and builds one session per user
type Engine struct {
	cfg         *config.Config
	base        *logger.Logger
	logger      *logger.Logger
	clock       clockwork.Clock
	catalog     *venue.Catalog
	mutes       chat.MuteRepository
	positions   presence.Repository
	broadcaster *sse.Broadcaster

	streams *feed.RedisStreams
	shared  sharedFeed
	differ  *snapshotDiffer
}

// NewEngine wires the venue catalog, stores and feed transport
func NewEngine(cfg *config.Config, redisClient *redisx.Client, broadcaster *sse.Broadcaster, log *logger.Logger) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		base:        log,
		logger:      log.WithComponent("engine"),
		clock:       clockwork.NewRealClock(),
		catalog:     venue.NewCatalog(venue.NewRedisRepository(redisClient.Client), cfg.Proximity.CatalogTTL, log),
		mutes:       chat.NewRedisMuteRepository(redisClient.Client),
		positions:   presence.NewRedisRepository(redisClient.Client),
		broadcaster: broadcaster,
		differ:      newSnapshotDiffer(),
	}

	switch strings.ToLower(cfg.Feed.Transport) {
	case TransportRedis:
		streams, err := feed.NewRedisStreams(redisClient.Client, cfg.Feed.ConsumerGroup, cfg.Feed.TopicPrefix, log)
		if err != nil {
			return nil, err
		}
		e.streams = streams
	case TransportNATS:
		nf, err := feed.NewNATSFeed(cfg.Feed.NATSURL, cfg.Feed.TopicPrefix, log)
		if err != nil {
			return nil, err
		}
		e.shared = nf
	case TransportMemory:
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, feed.NewWatermillLogger(log))
		e.shared = feed.NewWatermillFeed(pubSub, pubSub, cfg.Feed.TopicPrefix, log)
	default:
		return nil, oops.In("engine").
			With("transport", cfg.Feed.Transport).
			Errorf("unknown feed transport")
	}

	e.logger.Info("Engine ready",
		zap.String("transport", cfg.Feed.Transport),
		zap.String("sensor", cfg.Sensor.Source),
	)
	return e, nil
}

// Positions exposes the presence store for read-only handlers
func (e *Engine) Positions() presence.Repository {
	return e.positions
}

// Build implements session.Factory
func (e *Engine) Build(ctx context.Context, userID string) (session.Build, error) {
	log := e.logger.WithUserID(userID)

	var b session.Build
	var sensorSrc tracker.Sensor
	switch strings.ToLower(e.cfg.Sensor.Source) {
	case SourceMQTT:
		sensorSrc = sensor.NewMQTTSensor(e.cfg.Sensor.MQTTConfig, userID, e.clock, e.base)
	default:
		push := sensor.NewPushSensor(e.clock, e.base)
		sensorSrc = push
		b.Reporter = push
	}

	var fd channel.Feed = e.shared
	var closeFeed func() error
	if e.streams != nil {
		wf, err := e.streams.ForSession(userID)
		if err != nil {
			return session.Build{}, err
		}
		fd = wf
		closeFeed = wf.Close
	}
	b.Cleanup = func() {
		e.differ.Forget(userID)
		if closeFeed == nil {
			return
		}
		if err := closeFeed(); err != nil {
			log.Warn("Failed to close session subscriber", zap.Error(err))
		}
	}

	s, err := session.New(userID, session.Config{
		Tracker:   e.cfg.Tracker,
		Smoothing: e.cfg.Geo,
		Proximity: e.cfg.Proximity.Config,
		Channel:   e.cfg.Channel,
		Region:    e.cfg.Region,
	}, session.Deps{
		Sensor:    sensorSrc,
		Positions: e.positions,
		Catalog:   e.catalog,
		Mutes:     e.mutes,
		Feed:      fd,
		Clock:     e.clock,
		Logger:    e.base,
	})
	if err != nil {
		b.Cleanup()
		return session.Build{}, err
	}

	s.OnSignal(e.relay(userID))
	b.Session = s
	return b, nil
}

// relay records metrics for every session signal and forwards it to the
// user's event stream. Channel state and queue changes go out as merge
// patches of the channel snapshot.
func (e *Engine) relay(userID string) func(session.Signal) {
	return func(sig session.Signal) {
		metrics.SignalsTotal.WithLabelValues(string(sig.Type)).Inc()
		notification := jsonrpcx.NewNotification("engine."+string(sig.Type), sig)

		switch p := sig.Payload.(type) {
		case proximity.Change:
			if sig.Type == session.SignalUnlocked {
				metrics.UnlockTransitions.WithLabelValues("entered").Add(float64(len(p.Entered)))
				metrics.UnlockTransitions.WithLabelValues("left").Add(float64(len(p.Left)))
			}
		case channel.Event:
			switch p.Kind {
			case channel.EventMessage:
				metrics.MessagesReceived.Inc()
			case channel.EventState, channel.EventQueue:
				if p.Kind == channel.EventState {
					metrics.ChannelTransitions.WithLabelValues(p.Snapshot.State.String()).Inc()
				}
				patch, changed := e.differ.Diff(userID, p.Snapshot)
				if !changed {
					return
				}
				notification = jsonrpcx.NewNotification("engine.channel_patch", patch)
			}
		}

		if e.broadcaster != nil {
			e.broadcaster.Publish(userID, notification)
		}
	}
}

// Close releases the shared feed transport
func (e *Engine) Close() error {
	if e.streams != nil {
		return e.streams.Close()
	}
	if e.shared != nil {
		return e.shared.Close()
	}
	return nil
}
