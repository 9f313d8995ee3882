package stream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/missioncontrol/core/internal/common/logger"
)

// NATSBroker is the networked Stream Broker implementation, selected when
// BROKER_URL is a nats:// address. It stands in for the original's Redis
// Streams backend: each broker key becomes a JetStream stream subject, and
// stream_id is the decimal JetStream sequence number, left-padded so
// lexicographic and numeric order agree.
type NATSBroker struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	log    *logger.Logger
	prefix string // stream name prefix, isolates keys sharing one JetStream account
}

// NewNATSBroker dials url and ensures the JetStream context is usable. Per-
// key streams are created lazily on first Publish/Read.
func NewNATSBroker(url string, log *logger.Logger) (*NATSBroker, error) {
	conn, err := nats.Connect(url, nats.MaxReconnects(10), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats jetstream context: %w", err)
	}
	return &NATSBroker{conn: conn, js: js, log: log, prefix: "MC_STREAM_"}, nil
}

func (b *NATSBroker) streamName(key string) string {
	return b.prefix + sanitizeStreamName(key)
}

func sanitizeStreamName(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}

func (b *NATSBroker) ensureStream(key string) error {
	name := b.streamName(key)
	subject := name + ".entry"
	if _, err := b.js.StreamInfo(name); err == nil {
		return nil
	}
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		MaxMsgs:   100_000,
		Storage:   nats.MemoryStorage,
	})
	return err
}

// formatID renders a JetStream sequence as a fixed-width decimal string so
// lexicographic comparisons in MemoryBroker-style callers agree with
// sequence order.
func formatID(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

func parseID(id string) (uint64, error) {
	return strconv.ParseUint(id, 10, 64)
}

func (b *NATSBroker) Publish(ctx context.Context, key string, eventJSON []byte) (string, error) {
	if err := b.ensureStream(key); err != nil {
		return "", fmt.Errorf("ensure stream: %w", err)
	}
	subject := b.streamName(key) + ".entry"
	ack, err := b.js.Publish(subject, eventJSON, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return formatID(ack.Sequence), nil
}

func (b *NATSBroker) Read(ctx context.Context, key, afterID string, maxBlock time.Duration, maxCount int) ([]Entry, error) {
	if err := b.ensureStream(key); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	startSeq := uint64(1)
	if afterID != "" && afterID != ZeroID {
		seq, err := parseID(afterID)
		if err != nil {
			return nil, fmt.Errorf("invalid afterID: %w", err)
		}
		startSeq = seq + 1
	}

	name := b.streamName(key)
	subject := name + ".entry"
	consumerName := fmt.Sprintf("reader-%d", time.Now().UnixNano())

	sub, err := b.js.PullSubscribe(subject, consumerName,
		nats.DeliverPolicy(nats.DeliverByStartSequencePolicy),
		nats.StartSequence(startSeq),
		nats.BindStream(name),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	fetchCtx, cancel := context.WithTimeout(ctx, maxBlock)
	defer cancel()

	if maxCount <= 0 {
		maxCount = 50
	}
	msgs, err := sub.Fetch(maxCount, nats.Context(fetchCtx))
	if err != nil {
		// Fetch returning a timeout with zero messages is the normal
		// "no new entries" case (section 4.2: empty list on timeout).
		if err == context.DeadlineExceeded || err == nats.ErrTimeout {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		meta, err := m.Metadata()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{ID: formatID(meta.Sequence.Stream), EventJSON: m.Data})
		_ = m.Ack()
	}
	return entries, nil
}

func (b *NATSBroker) LatestID(_ context.Context, key string) (string, error) {
	info, err := b.js.StreamInfo(b.streamName(key))
	if err != nil {
		return ZeroID, nil
	}
	if info.State.LastSeq == 0 {
		return ZeroID, nil
	}
	return formatID(info.State.LastSeq), nil
}

func (b *NATSBroker) Close() error {
	b.conn.Close()
	return nil
}

var _ Broker = (*NATSBroker)(nil)
