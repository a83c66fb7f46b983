package engine

import (
	"sort"
	"time"

	"qstream/pkg/protocol"
)

// Representative value kinds, one per decodable channel type.
const (
	KindMaxSample    = "max_sample"
	KindMessages     = "messages"
	KindAvgEventTime = "avg_event_time"
	KindGpsTime      = "gps_time"
)

// Summary is what the stream emits once per reporting interval.
type Summary struct {
	Session           string                               `json:"session"`
	Seq               uint64                               `json:"seq"`
	At                time.Time                            `json:"at"`
	Elapsed           time.Duration                        `json:"elapsed"`
	Window            time.Duration                        `json:"window"`
	TransmitTimestamp float64                              `json:"transmit_timestamp"`
	Packets           int                                  `json:"packets"`
	Discarded         int                                  `json:"discarded"`
	PayloadBytes      int                                  `json:"payload_bytes"`
	Channels          map[protocol.ChannelType]TypeSummary `json:"channels"`
	GpsFixes          []GpsFix                             `json:"gps,omitempty"`
}

// TypeSummary aggregates every frame of one channel type in the window.
type TypeSummary struct {
	Kind     string           `json:"kind"`
	Frames   int              `json:"frames"`
	Entries  int              `json:"entries"`
	Value    float64          `json:"value"`
	Channels []ChannelSummary `json:"per_channel"`
}

type ChannelSummary struct {
	ChannelID uint16  `json:"channel_id"`
	Frames    int     `json:"frames"`
	Entries   int     `json:"entries"`
	Value     float64 `json:"value"`
}

// GpsFix is one GPS frame of the window.
type GpsFix struct {
	ChannelID        uint16  `json:"channel_id"`
	Timestamp        float64 `json:"timestamp"`
	AccuracyNs       uint32  `json:"accuracy_ns"`
	LeapSeconds      int16   `json:"leap_seconds"`
	LeapSecondsValid bool    `json:"leap_seconds_valid"`
	Message          string  `json:"message"`
}

type channelAcc struct {
	frames  int
	entries int
	value   float64
	sum     float64
	has     bool
}

// Aggregator folds decoded records into per channel type statistics. It is
// owned by a single goroutine.
type Aggregator struct {
	now        func() time.Time
	started    time.Time
	lastReport time.Time
	session    string
	seq        uint64

	packets      int
	discarded    int
	payloadBytes int
	transmitTS   float64
	channels     map[protocol.ChannelType]map[uint16]*channelAcc
	gps          []GpsFix
}

func NewAggregator(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	start := now()
	return &Aggregator{
		now:        now,
		started:    start,
		lastReport: start,
		channels:   make(map[protocol.ChannelType]map[uint16]*channelAcc),
	}
}

func (a *Aggregator) AddPacket(h protocol.PacketHeader) {
	a.packets++
	a.payloadBytes += int(h.PayloadSize)
	a.transmitTS = h.TransmitTimestamp
}

func (a *Aggregator) AddDiscarded(h protocol.PacketHeader) {
	a.discarded++
	a.payloadBytes += int(h.PayloadSize)
}

func (a *Aggregator) Add(rec protocol.Record) {
	acc := a.channel(rec.ChannelType(), rec.Generic.ChannelID)
	acc.frames++
	acc.entries += rec.Frame.EntryCount()

	switch f := rec.Frame.(type) {
	case *protocol.AnalogFrame:
		if top, ok := f.MaxSample(); ok && (!acc.has || float64(top) > acc.value) {
			acc.value = float64(top)
			acc.has = true
		}
	case *protocol.CanFdFrame:
		acc.value = float64(acc.entries)
		acc.has = true
	case *protocol.TachoFrame:
		for _, ts := range f.Timestamps {
			acc.sum += ts
		}
		if acc.entries > 0 {
			acc.value = acc.sum / float64(acc.entries)
			acc.has = true
		}
	case *protocol.GpsFrame:
		acc.value = f.Header.Timestamp
		acc.has = true
		a.gps = append(a.gps, GpsFix{
			ChannelID:        rec.Generic.ChannelID,
			Timestamp:        f.Header.Timestamp,
			AccuracyNs:       f.Header.AccuracyNs,
			LeapSeconds:      f.Header.LeapSeconds,
			LeapSecondsValid: f.Header.IsLeapSecondsValid(),
			Message:          f.Text(),
		})
	}
}

func (a *Aggregator) channel(t protocol.ChannelType, id uint16) *channelAcc {
	byID, ok := a.channels[t]
	if !ok {
		byID = make(map[uint16]*channelAcc)
		a.channels[t] = byID
	}
	acc, ok := byID[id]
	if !ok {
		acc = &channelAcc{}
		byID[id] = acc
	}
	return acc
}

// Pending reports whether anything was accumulated since the last flush.
func (a *Aggregator) Pending() bool {
	return a.packets > 0 || a.discarded > 0
}

// Due reports whether interval has passed since the last flush.
func (a *Aggregator) Due(interval time.Duration) bool {
	return a.now().Sub(a.lastReport) >= interval
}

func (a *Aggregator) SetSession(id string) {
	a.session = id
}

// Flush returns the window's summary and clears the accumulators.
func (a *Aggregator) Flush() Summary {
	now := a.now()
	a.seq++
	s := Summary{
		Session:           a.session,
		Seq:               a.seq,
		At:                now,
		Elapsed:           now.Sub(a.started),
		Window:            now.Sub(a.lastReport),
		TransmitTimestamp: a.transmitTS,
		Packets:           a.packets,
		Discarded:         a.discarded,
		PayloadBytes:      a.payloadBytes,
		Channels:          make(map[protocol.ChannelType]TypeSummary, len(a.channels)),
		GpsFixes:          a.gps,
	}
	for t, byID := range a.channels {
		s.Channels[t] = summarizeType(t, byID)
	}

	a.lastReport = now
	a.packets = 0
	a.discarded = 0
	a.payloadBytes = 0
	a.gps = nil
	a.channels = make(map[protocol.ChannelType]map[uint16]*channelAcc)
	return s
}

func summarizeType(t protocol.ChannelType, byID map[uint16]*channelAcc) TypeSummary {
	ts := TypeSummary{
		Kind:     kindOf(t),
		Channels: make([]ChannelSummary, 0, len(byID)),
	}
	var sum float64
	has := false
	for id, acc := range byID {
		ts.Frames += acc.frames
		ts.Entries += acc.entries
		ts.Channels = append(ts.Channels, ChannelSummary{
			ChannelID: id,
			Frames:    acc.frames,
			Entries:   acc.entries,
			Value:     acc.value,
		})
		if !acc.has {
			continue
		}
		switch t {
		case protocol.ChannelAnalog, protocol.ChannelGps:
			if !has || acc.value > ts.Value {
				ts.Value = acc.value
			}
		case protocol.ChannelTacho:
			sum += acc.sum
		}
		has = true
	}
	switch t {
	case protocol.ChannelCanFd:
		ts.Value = float64(ts.Entries)
	case protocol.ChannelTacho:
		if ts.Entries > 0 {
			ts.Value = sum / float64(ts.Entries)
		}
	}
	sort.Slice(ts.Channels, func(i, j int) bool {
		return ts.Channels[i].ChannelID < ts.Channels[j].ChannelID
	})
	return ts
}

func kindOf(t protocol.ChannelType) string {
	switch t {
	case protocol.ChannelAnalog:
		return KindMaxSample
	case protocol.ChannelCanFd:
		return KindMessages
	case protocol.ChannelTacho:
		return KindAvgEventTime
	case protocol.ChannelGps:
		return KindGpsTime
	default:
		return ""
	}
}
