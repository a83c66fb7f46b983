package main

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"qstream/pkg/config"
	"qstream/pkg/engine"
	"qstream/pkg/transport"
)

// supervisor dials the device and runs one stream per connection, redialing
// with backoff when reconnect is enabled.
type supervisor struct {
	cfg     config.StreamConfig
	hub     *engine.Hub
	cancel  engine.CancelCheck
	logger  zerolog.Logger
	current atomic.Pointer[engine.Stream]
}

func newSupervisor(cfg config.StreamConfig, hub *engine.Hub, cancel engine.CancelCheck, logger zerolog.Logger) *supervisor {
	return &supervisor{
		cfg:    cfg,
		hub:    hub,
		cancel: cancel,
		logger: logger.With().Str("addr", cfg.Addr).Logger(),
	}
}

func (s *supervisor) State() string {
	stream := s.current.Load()
	if stream == nil {
		return "connecting"
	}
	return stream.State().String()
}

func (s *supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := s.runOnce(ctx)
		if err == nil || ctx.Err() != nil || s.cancel() {
			return nil
		}
		if !s.cfg.Reconnect {
			if errors.Is(err, transport.ErrConnectionClosed) {
				s.logger.Info().Msg("device closed the stream")
				return nil
			}
			return err
		}

		if connected {
			attempt = 0
		}
		attempt++
		delay := transport.BackoffDelay(attempt, s.cfg.ReconnectBaseDuration(), s.cfg.ReconnectMaxDuration())
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
		if err := transport.Backoff(ctx, attempt, s.cfg.ReconnectBaseDuration(), s.cfg.ReconnectMaxDuration()); err != nil {
			return nil
		}
	}
}

func (s *supervisor) runOnce(ctx context.Context) (bool, error) {
	conn, err := transport.Dial(ctx, s.cfg.Addr,
		transport.WithBufferSize(s.cfg.ReadBuffer),
		transport.WithDialTimeout(s.cfg.DialTimeoutDuration()),
		transport.WithPollTimeout(s.cfg.PollTimeoutDuration()),
		transport.WithReadTimeout(s.cfg.ReadTimeoutDuration()),
	)
	if err != nil {
		return false, err
	}
	s.logger.Info().Str("remote", conn.RemoteAddr()).Msg("connected")

	stream := engine.NewStream(conn,
		engine.WithReportInterval(s.cfg.ReportIntervalDuration()),
		engine.WithIdleSleep(s.cfg.IdleSleepDuration()),
		engine.WithMaxPayload(s.cfg.MaxPayload),
		engine.WithCancelCheck(s.cancel),
		engine.WithSink(s.hub.Publish),
		engine.WithLogger(s.logger),
	)
	s.current.Store(stream)
	return true, stream.Run(ctx)
}
