package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"qstream/pkg/engine"
	"qstream/pkg/protocol"
)

// JSONLWriter writes one JSON object per summary.
type JSONLWriter struct {
	enc *json.Encoder
}

type jsonRecord struct {
	TS                string                                      `json:"ts"`
	Session           string                                      `json:"session"`
	Seq               uint64                                      `json:"seq"`
	ElapsedMs         float64                                     `json:"elapsed_ms"`
	WindowMs          float64                                     `json:"window_ms"`
	TransmitTimestamp float64                                     `json:"transmit_timestamp"`
	Packets           int                                         `json:"packets"`
	Discarded         int                                         `json:"discarded"`
	PayloadBytes      int                                         `json:"payload_bytes"`
	Channels          map[protocol.ChannelType]engine.TypeSummary `json:"channels"`
	Gps               []engine.GpsFix                             `json:"gps,omitempty"`
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{enc: enc}
}

func (j *JSONLWriter) Write(s engine.Summary) error {
	rec := jsonRecord{
		TS:                s.At.UTC().Format(time.RFC3339Nano),
		Session:           s.Session,
		Seq:               s.Seq,
		ElapsedMs:         millis(s.Elapsed),
		WindowMs:          millis(s.Window),
		TransmitTimestamp: s.TransmitTimestamp,
		Packets:           s.Packets,
		Discarded:         s.Discarded,
		PayloadBytes:      s.PayloadBytes,
		Channels:          s.Channels,
		Gps:               s.GpsFixes,
	}
	if err := j.enc.Encode(rec); err != nil {
		return fmt.Errorf("write summary %d: %w", s.Seq, err)
	}
	return nil
}

// Consume writes summaries from in until it is closed. Once ctx is done it
// keeps writing until the producer closes in, so a hub subscription delivers
// the summaries the hub flushes on shutdown.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan engine.Summary) error {
	for {
		select {
		case <-ctx.Done():
			return j.drain(in)
		case s, ok := <-in:
			if !ok {
				return nil
			}
			if err := j.Write(s); err != nil {
				return err
			}
		}
	}
}

func (j *JSONLWriter) drain(in <-chan engine.Summary) error {
	for s := range in {
		if err := j.Write(s); err != nil {
			return err
		}
	}
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
