package aggregator

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config is the main configuration
type Config struct {
	Env       string         `yaml:"env"`
	SentryDsn string         `yaml:"sentry_dsn"`
	AMQP      AMQPConfig     `yaml:"amqp"`
	DB        DBConfig       `yaml:"db"`
	Writer    WriterConfig   `yaml:"writer"`
	Pipeline  PipelineConfig `yaml:"pipeline"`
	Topics    []string       `yaml:"topics"`
}

// PipelineConfig controls decoding, deduplication, rate limiting and
// averaging.
type PipelineConfig struct {
	// Mode is "averaged" (default): buffer readings per device and deliver
	// one averaged record per log interval, or "immediate": deliver every
	// accepted reading as-is.
	Mode string `yaml:"mode"`

	// CompanyID filters advertisements by manufacturer; defaults to the
	// Ruuvi company identifier.
	CompanyID uint16 `yaml:"company_id"`

	// ScanIntervalSeconds is the minimum interval between accepted samples
	// per device. Default 5; a negative value disables rate limiting.
	ScanIntervalSeconds float64 `yaml:"scan_interval_seconds"`

	// LogIntervalSeconds is how often each device's window is flushed in
	// averaged mode. Default 60.
	LogIntervalSeconds float64 `yaml:"log_interval_seconds"`

	// MaxSamples bounds each device's sample window. Default 20.
	MaxSamples int `yaml:"max_samples"`
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Devices       uint64 // distinct devices observed
	Accepted      uint64 // readings accepted into buffer or queue
	Duplicates    uint64 // readings suppressed as re-broadcasts
	Rejected      uint64 // payloads the decoder rejected
	RateLimited   uint64 // readings dropped by the per-device rate limit
	Dropped       uint64 // readings dropped by the full delivery queue
	Flushed       uint64 // readings delivered to the sink
	FailedBatches uint64 // batches dropped on sink failure
}

// deviceState holds everything the pipeline tracks for one device. Sequence
// tracking lives in the shared deduplicator; all state is guarded by the
// Aggregator mutex.
type deviceState struct {
	window     *SampleWindow
	lastSample time.Time
	lastFlush  time.Time
}

// Aggregator is the decode → deduplicate → buffer/average → batch-deliver
// pipeline. The subscriber feeds advertisements into HandleAdvertisement; the
// Writer drains finalized readings to the sink.
type Aggregator struct {
	config     Config
	subscriber *Subscriber
	writer     *Writer
	dedup      *deduplicator
	logger     *zap.SugaredLogger

	scanInterval time.Duration
	logInterval  time.Duration
	averaging    bool

	mu      sync.Mutex
	devices map[string]*deviceState
	closed  bool
	stop    chan struct{}

	rejected    atomic.Uint64
	accepted    atomic.Uint64
	rateLimited atomic.Uint64
}

// NewAggregator creates a new Aggregator delivering to the given sink.
func NewAggregator(config Config, sink Sink, logger *zap.SugaredLogger) *Aggregator {
	if config.Pipeline.CompanyID == 0 {
		config.Pipeline.CompanyID = RuuviCompanyID
	}
	if config.Pipeline.ScanIntervalSeconds == 0 {
		config.Pipeline.ScanIntervalSeconds = 5
	}
	if config.Pipeline.LogIntervalSeconds <= 0 {
		config.Pipeline.LogIntervalSeconds = 60
	}
	if config.Pipeline.MaxSamples <= 0 {
		config.Pipeline.MaxSamples = DefaultMaxSamples
	}

	return &Aggregator{
		config:       config,
		subscriber:   NewSubscriber(config.AMQP, config.Topics, logger),
		writer:       NewWriter(config.Writer, sink, logger),
		dedup:        newDeduplicator(),
		logger:       logger,
		scanInterval: time.Duration(config.Pipeline.ScanIntervalSeconds * float64(time.Second)),
		logInterval:  time.Duration(config.Pipeline.LogIntervalSeconds * float64(time.Second)),
		averaging:    config.Pipeline.Mode != "immediate",
		devices:      make(map[string]*deviceState),
		stop:         make(chan struct{}),
	}
}

// Start launches the delivery writer and, in averaged mode, the periodic
// flush scheduler.
func (a *Aggregator) Start() {
	go a.writer.Run()
	go a.flushLoop()
}

// Run subscribes to the gateway topics and processes advertisements until the
// WaitGroup is released, then shuts the pipeline down.
func (a *Aggregator) Run(wg *sync.WaitGroup) {
	advertisements, err := a.subscriber.Subscribe()
	if err != nil {
		a.logger.Fatalf("aggregator: %s", err)
	}

	defer a.subscriber.Shutdown()

	a.Start()

	go func() {
		for advertisement := range advertisements {
			a.HandleAdvertisement(advertisement)
		}
	}()

	wg.Wait()
	a.Shutdown()
}

// HandleAdvertisement is the pipeline entry point, invoked once per observed
// advertisement. It synchronously decodes and deduplicates, then either
// buffers the reading for averaging or enqueues it for delivery. It never
// blocks on persistence.
func (a *Aggregator) HandleAdvertisement(advertisement Advertisement) {
	if advertisement.CompanyID != a.config.Pipeline.CompanyID {
		return
	}

	reading, ok := Decode(advertisement.Payload)
	if !ok {
		a.rejected.Add(1)
		a.logger.Debugf("aggregator: unparseable payload from %s", advertisement.Address)
		return
	}

	reading.Address = advertisement.Address
	rssi := float64(advertisement.RSSI)
	reading.RSSI = &rssi

	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		return
	}

	state, ok := a.devices[advertisement.Address]
	if !ok {
		state = &deviceState{
			window:    NewSampleWindow(a.config.Pipeline.MaxSamples),
			lastFlush: reading.Timestamp,
		}
		a.devices[advertisement.Address] = state
		a.logger.Infof("aggregator: new device %s (%s, format %s)",
			advertisement.Address, reading.DeviceMAC, reading.Format)
	}

	if !a.dedup.Accept(advertisement.Address, reading.Sequence) {
		a.mu.Unlock()
		return
	}

	if a.scanInterval > 0 && !state.lastSample.IsZero() &&
		reading.Timestamp.Sub(state.lastSample) < a.scanInterval {
		a.rateLimited.Add(1)
		a.mu.Unlock()
		return
	}
	state.lastSample = reading.Timestamp

	a.accepted.Add(1)

	if a.averaging {
		state.window.Add(reading)
		a.mu.Unlock()
		return
	}

	a.mu.Unlock()
	a.writer.Enqueue(reading)
}

// flushLoop wakes every second and flushes each device whose log interval has
// elapsed, independently per device.
func (a *Aggregator) flushLoop() {
	if !a.averaging {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.flushDue(time.Now().UTC())
		}
	}
}

// flushDue drains every device window whose log interval has elapsed and
// enqueues the averaged readings. A device with an empty window is a no-op.
func (a *Aggregator) flushDue(now time.Time) {
	var due []*Reading

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	for _, state := range a.devices {
		if now.Sub(state.lastFlush) < a.logInterval {
			continue
		}
		if averaged, ok := state.window.Averaged(); ok {
			due = append(due, averaged)
			state.window.Clear()
		}
		state.lastFlush = now
	}
	a.mu.Unlock()

	for _, reading := range due {
		a.writer.Enqueue(reading)
		a.logger.Debugf("aggregator: logged %s (%d samples over %.1fs)",
			reading.Address, reading.SampleCount, reading.SamplePeriod)
	}
}

// Shutdown stops accepting advertisements, force-flushes every non-empty
// device window exactly once, drains the delivery queue including any partial
// batch, and only then returns. Safe to call more than once.
func (a *Aggregator) Shutdown() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.stop)

	var final []*Reading
	for _, state := range a.devices {
		if averaged, ok := state.window.Averaged(); ok {
			final = append(final, averaged)
			state.window.Clear()
		}
	}
	a.mu.Unlock()

	for _, reading := range final {
		a.writer.Enqueue(reading)
	}

	a.writer.Stop()

	stats := a.Stats()
	a.logger.Infof("aggregator: %d devices, %d accepted, %d duplicates, %d delivered",
		stats.Devices, stats.Accepted, stats.Duplicates, stats.Flushed)
}

// Stats returns a snapshot of the pipeline counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	devices := uint64(len(a.devices))
	duplicates := a.dedup.duplicates
	a.mu.Unlock()

	writerStats := a.writer.Stats()

	return Stats{
		Devices:       devices,
		Accepted:      a.accepted.Load(),
		Duplicates:    duplicates,
		Rejected:      a.rejected.Load(),
		RateLimited:   a.rateLimited.Load(),
		Dropped:       writerStats.Dropped,
		Flushed:       writerStats.Flushed,
		FailedBatches: writerStats.FailedBatches,
	}
}
