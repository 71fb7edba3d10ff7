package aggregator

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// WriterConfig represents the config of the Writer
type WriterConfig struct {
	QueueSize           int     `yaml:"queue_size"`            // default 1000
	BatchSize           int     `yaml:"batch_size"`            // default 50
	BatchTimeoutSeconds float64 `yaml:"batch_timeout_seconds"` // default 5
}

// WriterStats is a snapshot of delivery counters.
type WriterStats struct {
	Flushed       uint64 // readings delivered to the sink
	Dropped       uint64 // readings dropped because the queue was full
	FailedBatches uint64 // batches dropped because the sink reported an error
}

// Writer decouples the decode path from the sink. Readings are pushed onto a
// bounded queue; a drain loop forms batches and flushes them when the batch
// is full, when the oldest unflushed reading has waited for the batch
// timeout, or on shutdown. A failed flush drops the batch instead of
// requeueing it, so a wedged sink never grows memory without bound. When the
// queue is full the newest reading is dropped and counted; the enqueue path
// never blocks on persistence.
type Writer struct {
	config WriterConfig
	sink   Sink
	logger *zap.SugaredLogger

	queue    chan *Reading
	stopping chan struct{}
	done     chan struct{}

	flushed       atomic.Uint64
	dropped       atomic.Uint64
	failedBatches atomic.Uint64
}

// NewWriter creates a new Writer delivering to the given sink.
func NewWriter(config WriterConfig, sink Sink, logger *zap.SugaredLogger) *Writer {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.BatchTimeoutSeconds <= 0 {
		config.BatchTimeoutSeconds = 5
	}

	return &Writer{
		config:   config,
		sink:     sink,
		logger:   logger,
		queue:    make(chan *Reading, config.QueueSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Enqueue offers a reading for delivery. It never blocks: when the queue is
// full the reading is dropped and counted as back-pressure.
func (w *Writer) Enqueue(r *Reading) bool {
	select {
	case w.queue <- r:
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warnf("Writer: queue full, dropping reading from %s", r.Address)
		return false
	}
}

// Run is the drain loop. It blocks until Stop is called.
func (w *Writer) Run() {
	defer close(w.done)

	timeout := time.Duration(w.config.BatchTimeoutSeconds * float64(time.Second))
	batch := make([]*Reading, 0, w.config.BatchSize)

	timer := time.NewTimer(timeout)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case r := <-w.queue:
			if len(batch) == 0 {
				timer.Reset(timeout)
			}
			batch = append(batch, r)
			if len(batch) >= w.config.BatchSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				w.flush(batch)
				batch = batch[:0]
			}

		case <-timer.C:
			w.flush(batch)
			batch = batch[:0]

		case <-w.stopping:
			// Drain readings already queued, then flush the partial batch
			// exactly once.
			for {
				select {
				case r := <-w.queue:
					batch = append(batch, r)
					if len(batch) >= w.config.BatchSize {
						w.flush(batch)
						batch = batch[:0]
					}
				default:
					w.flush(batch)
					return
				}
			}
		}
	}
}

// Stop drains the queue, flushes any partial batch and waits for the drain
// loop to exit. Enqueue calls racing with Stop are either drained or dropped;
// they never block or panic.
func (w *Writer) Stop() {
	close(w.stopping)
	<-w.done
}

// Stats returns a snapshot of the delivery counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Flushed:       w.flushed.Load(),
		Dropped:       w.dropped.Load(),
		FailedBatches: w.failedBatches.Load(),
	}
}

// flush hands one batch to the sink. The batch is copied so the sink owns the
// slice it receives; on failure the batch is dropped and counted, never
// retried.
func (w *Writer) flush(batch []*Reading) {
	if len(batch) == 0 {
		return
	}

	out := make([]*Reading, len(batch))
	copy(out, batch)

	var err error
	if len(out) == 1 {
		err = w.sink.Insert(out[0])
	} else {
		err = w.sink.InsertBatch(out)
	}
	if err != nil {
		w.failedBatches.Add(1)
		w.logger.Errorf("Writer: dropping batch of %d: %s", len(out), err)
		return
	}

	w.flushed.Add(uint64(len(out)))
	w.logger.Debugf("Writer: flushed batch of %d", len(out))
}
