package recorder

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/codecast/internal/codecast"
	"github.com/rickgao/codecast/internal/collab"
)

var _ collab.Handler = (*Writer)(nil)

// eventNamespace scopes content-derived event ids.
var eventNamespace = uuid.MustParse("6f1c51c4-43a5-4d8e-9b8a-2f1d7b0c9e11")

const insertEvent = `
	INSERT INTO codecast_events (event_id, room, topic, event_type, sender, payload, fallback, sent_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (event_id) DO NOTHING
`

// Batcher sends a pgx batch. *pgxpool.Pool satisfies it.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer configuration.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueCapacity int // Initial queue capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		QueueCapacity: 256,
	}
}

// Stats contains writer counters.
type Stats struct {
	Received  int64
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Queued    int
}

// Row is one codecast_events row.
type Row struct {
	EventID    uuid.UUID
	Room       string
	Topic      string
	Type       string
	Sender     string
	Payload    []byte
	Fallback   bool
	SentAt     *time.Time
	ReceivedAt time.Time
}

// Writer records room messages to the codecast_events table.
type Writer struct {
	cfg    Config
	topics codecast.Topics
	logger *slog.Logger

	// Input from the transport read goroutine
	queue *Queue[collab.Message]

	// Database
	db Batcher

	// Batching
	batch   []Row
	batchMu sync.Mutex

	// Lifecycle. flushCtx is not cancelled with ctx; Stop cancels it only
	// when its own deadline passes.
	ctx         context.Context
	cancel      context.CancelFunc
	flushCtx    context.Context
	flushCancel context.CancelFunc
	wg          sync.WaitGroup

	// Metrics
	stats Stats
}

// NewWriter creates a Writer.
func NewWriter(cfg Config, topics codecast.Topics, db Batcher, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Writer{
		cfg:    cfg,
		topics: topics,
		db:     db,
		logger: logger,
		queue:  NewQueue[collab.Message](cfg.QueueCapacity),
		batch:  make([]Row, 0, cfg.BatchSize),
	}
}

// HandleMessage implements collab.Handler. It only queues.
func (w *Writer) HandleMessage(msg collab.Message) {
	if !w.queue.Push(msg) {
		w.logger.Debug("writer stopped, dropping message", "topic", msg.Topic)
		return
	}
	w.batchMu.Lock()
	w.stats.Received++
	w.batchMu.Unlock()
}

// Start begins consuming queued messages and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushCtx, w.flushCancel = context.WithCancel(context.WithoutCancel(ctx))

	w.wg.Add(1)
	go w.consumeLoop()

	if w.cfg.FlushInterval > 0 {
		w.wg.Add(1)
		go w.flushLoop()
	}

	w.logger.Info("event writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop stops accepting messages, drains the queue, and flushes within ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping event writer")

	w.queue.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("event writer stop timed out")
		if w.flushCancel != nil {
			w.flushCancel()
		}
		return ctx.Err()
	}
	if w.flushCancel != nil {
		defer w.flushCancel()
	}

	// Final drain and flush
	w.enqueue(w.queue.Drain(0))
	for w.pending() > 0 {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}

	w.logger.Info("event writer stopped")
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	s := w.stats
	s.Queued = w.queue.Len()
	return s
}

// consumeLoop moves queued messages into the batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.queue.Ready():
			for {
				msgs := w.queue.Drain(w.cfg.BatchSize)
				if len(msgs) == 0 {
					break
				}
				if w.enqueue(msgs) {
					w.flush(w.flushCtx)
				}
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.flushCtx)
		}
	}
}

// enqueue transforms msgs into the batch and reports whether it is full.
func (w *Writer) enqueue(msgs []collab.Message) bool {
	rows := make([]Row, len(msgs))
	for i, msg := range msgs {
		rows[i] = w.transform(msg)
	}

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, rows...)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *Writer) pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}

// transform converts a delivered message into a row.
//
// Events stamped with sent_at get an id derived from topic, time and body, so
// a redelivery of the same event is a conflict rather than a second row.
func (w *Writer) transform(msg collab.Message) Row {
	ev := codecast.ParseEvent(msg)

	room, ok := w.topics.RoomOf(msg.Topic)
	if !ok {
		room = ev.Room
	}

	row := Row{
		Room:       room,
		Topic:      msg.Topic,
		Type:       string(ev.Type),
		Sender:     ev.Sender,
		Payload:    msg.Data,
		Fallback:   msg.Fallback,
		ReceivedAt: msg.ReceivedAt,
	}

	if ev.SentAt > 0 {
		sentAt := time.UnixMilli(ev.SentAt).UTC()
		row.SentAt = &sentAt

		key := msg.Topic + "\x00" + strconv.FormatInt(ev.SentAt, 10) + "\x00" + string(msg.Data)
		row.EventID = uuid.NewSHA1(eventNamespace, []byte(key))
	} else {
		row.EventID = uuid.New()
	}
	return row
}

// flush writes up to BatchSize rows to the database.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of the head of the batch
	n := min(len(w.batch), w.cfg.BatchSize)
	rows := w.batch[:n:n]
	w.batch = append(make([]Row, 0, w.cfg.BatchSize), w.batch[n:]...)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(rows) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []Row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent,
			r.EventID, r.Room, r.Topic, r.Type, r.Sender, r.Payload, r.Fallback, r.SentAt, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
