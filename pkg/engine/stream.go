package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"qstream/pkg/observability"
	"qstream/pkg/protocol"
	"qstream/pkg/transport"
)

const (
	DefaultReportInterval = 250 * time.Millisecond
	DefaultIdleSleep      = time.Millisecond
)

// ErrAlreadyStarted is returned by Run on a stream that has already run.
var ErrAlreadyStarted = errors.New("engine: stream already started")

// Source is the octet source the stream reads packets from.
type Source interface {
	DataAvailable() (bool, error)
	ReadFull(p []byte) error
	Discard(n int) error
	Close() error
}

type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stream reads packets from a Source, decodes channel data payloads and
// emits a Summary on every reporting interval.
type Stream struct {
	src      Source
	buf      *protocol.FrameBuffer
	decoder  protocol.Decoder
	agg      *Aggregator
	sink     func(Summary)
	cancel   CancelCheck
	interval time.Duration
	idle     time.Duration
	maxSize  int
	now      func() time.Time
	logger   zerolog.Logger
	session  string
	state    atomic.Int32
}

type StreamOption func(*Stream)

func WithReportInterval(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithIdleSleep(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.idle = d
		}
	}
}

func WithMaxPayload(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

func WithCancelCheck(check CancelCheck) StreamOption {
	return func(s *Stream) {
		if check != nil {
			s.cancel = check
		}
	}
}

// WithSink sets the function receiving each summary. It runs on the
// stream goroutine.
func WithSink(sink func(Summary)) StreamOption {
	return func(s *Stream) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithLogger(logger zerolog.Logger) StreamOption {
	return func(s *Stream) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) StreamOption {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSession(id string) StreamOption {
	return func(s *Stream) {
		if id != "" {
			s.session = id
		}
	}
}

func NewStream(src Source, opts ...StreamOption) *Stream {
	s := &Stream{
		src:      src,
		sink:     func(Summary) {},
		cancel:   never,
		interval: DefaultReportInterval,
		idle:     DefaultIdleSleep,
		maxSize:  protocol.DefaultMaxPayload,
		now:      time.Now,
		logger:   zerolog.Nop(),
		session:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.buf = protocol.NewFrameBuffer(s.maxSize)
	s.logger = s.logger.With().Str("session", s.session).Logger()
	return s
}

func (s *Stream) State() State {
	return State(s.state.Load())
}

func (s *Stream) Session() string {
	return s.session
}

// Run streams until ctx is done, the cancel check fires or an error ends
// the stream. Cancellation returns nil. The source is closed on return and
// a final summary is emitted if anything arrived since the last one.
func (s *Stream) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStreaming)) {
		return ErrAlreadyStarted
	}
	s.agg = NewAggregator(s.now)
	s.agg.SetSession(s.session)
	s.logger.Info().Dur("report_interval", s.interval).Msg("stream started")
	defer s.shutdown()

	for {
		if ctx.Err() != nil || s.cancel() {
			return nil
		}
		if s.agg.Due(s.interval) {
			s.sink(s.agg.Flush())
		}

		ready, err := s.src.DataAvailable()
		if err != nil {
			return s.fail(err)
		}
		if !ready {
			s.sleep(ctx)
			continue
		}
		if err := s.step(); err != nil {
			return s.fail(err)
		}
	}
}

func (s *Stream) step() error {
	header, err := protocol.ReadPacketHeader(s.src)
	if err != nil {
		return err
	}
	size, err := header.PayloadLen()
	if err != nil {
		return err
	}

	if header.PayloadType != protocol.PayloadTypeChannelData {
		if err := s.src.Discard(size); err != nil {
			return err
		}
		s.agg.AddDiscarded(header)
		observability.RecordPacket(observability.PayloadDiscarded, size)
		s.logger.Debug().
			Uint32("payload_type", header.PayloadType).
			Int("payload_size", size).
			Msg("discarded payload")
		return nil
	}

	payload, err := s.buf.Ensure(size)
	if err != nil {
		return err
	}
	observability.SetBufferCapacity(s.buf.Cap())
	if err := s.src.ReadFull(payload); err != nil {
		return err
	}

	start := time.Now()
	records, err := s.decoder.Decode(payload)
	observability.RecordDecode(time.Since(start))
	if err != nil {
		return err
	}

	s.agg.AddPacket(header)
	observability.RecordPacket(observability.PayloadDecoded, size)
	for _, rec := range records {
		s.agg.Add(rec)
		observability.RecordFrames(rec.ChannelType().String(), 1)
	}
	return nil
}

func (s *Stream) sleep(ctx context.Context) {
	timer := time.NewTimer(s.idle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (s *Stream) fail(err error) error {
	kind := errorKind(err)
	observability.RecordStreamError(kind)
	if kind == "connection_closed" {
		s.logger.Warn().Err(err).Msg("stream source closed")
	} else {
		s.logger.Error().Err(err).Str("kind", kind).Msg("stream failed")
	}
	return fmt.Errorf("stream: %w", err)
}

func (s *Stream) shutdown() {
	s.state.Store(int32(StateClosed))
	if s.agg.Pending() {
		s.sink(s.agg.Flush())
	}
	if cerr := s.src.Close(); cerr != nil {
		s.logger.Debug().Err(cerr).Msg("close source")
	}
	s.logger.Info().Msg("stream closed")
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, transport.ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, protocol.ErrDesync):
		return "desync"
	case errors.Is(err, protocol.ErrUnsupportedChannelType):
		return "unsupported_channel_type"
	case errors.Is(err, protocol.ErrBufferGrowth):
		return "buffer_growth"
	default:
		return "other"
	}
}
