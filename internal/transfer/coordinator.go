package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/telvos/ferry/internal/utils"
)

type Direction int

const (
	Download Direction = iota
	Upload
)

type Mode int

const (
	ModeMultiRange Mode = iota
	ModeSingleStream
)

func (m Mode) String() string {
	if m == ModeSingleStream {
		return "single-stream"
	}
	return "multi-range"
}

type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Config describes a single file transfer.
type Config struct {
	URL        string
	Direction  Direction
	OutputPath string // download destination
	SourcePath string // upload source
	FileName   string // name advertised to the server on upload

	Connections int

	// BlockSize is the per-read buffer size; pause and cancellation are
	// observed at block boundaries. MinRangeSize is the smallest span
	// worth giving its own worker, smaller transfers run single-stream.
	BlockSize    int64
	MinRangeSize int64

	ProbeRetries       int
	WorkerRetries      int
	CheckpointInterval time.Duration
	ProgressInterval   time.Duration

	// ProgressFunc receives (percent 0-100, bytes/sec) at roughly
	// ProgressInterval cadence. May be nil.
	ProgressFunc func(percent float64, speedBps float64)
}

func (cfg *Config) applyDefaults() {
	if cfg.Connections < 1 {
		cfg.Connections = 1
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = utils.DefaultBufferSize
	}
	if cfg.MinRangeSize <= 0 {
		cfg.MinRangeSize = 2 * cfg.BlockSize
	}
	if cfg.ProbeRetries <= 0 {
		cfg.ProbeRetries = 3
	}
	if cfg.WorkerRetries <= 0 {
		cfg.WorkerRetries = 5
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = time.Second
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 100 * time.Millisecond
	}
}

// Result is the terminal outcome of a transfer.
type Result struct {
	Status       Status
	Transferred  int64
	TotalSize    int64
	FailedRanges []int
	Elapsed      time.Duration
	Err          error
}

// Coordinator owns the worker pool for one transfer: it probes the
// endpoint, partitions the byte span, seeds prior progress, spawns one
// worker per incomplete range and aggregates their completion into a
// progress signal. Pause, resume and cancel are cooperative, observed
// by workers at block boundaries.
type Coordinator struct {
	cfg    Config
	client *utils.Client

	ctx        context.Context
	cancelFn   context.CancelFunc
	paused     atomic.Bool
	progressCh chan int64
	aggDone    chan struct{}
	done       chan struct{}
	startTime  time.Time

	out *os.File // download destination, shared across workers (disjoint spans)
	src *os.File // upload source, read-only

	mu              sync.Mutex
	status          Status
	mode            Mode
	totalSize       int64
	transferred     int64
	ranges          []Range
	failures        map[int]error
	fatalErr        error
	store           *Store
	pauseRequested  bool
	cancelRequested bool
	quiesced        chan struct{}
}

func New(cfg Config, client *utils.Client) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:      cfg,
		client:   client,
		status:   StatusPending,
		failures: make(map[int]error),
	}
}

// Start resolves capability, plans ranges (or selects whole-stream
// mode), loads prior progress and spawns workers. It returns once the
// transfer is underway; Wait blocks until a terminal state.
func (c *Coordinator) Start(ctx context.Context) error {
	c.startTime = time.Now()
	c.ctx, c.cancelFn = context.WithCancel(ctx)

	var err error
	if c.cfg.Direction == Upload {
		err = c.planUpload()
	} else {
		err = c.planDownload()
	}
	if err != nil {
		c.cancelFn()
		return err
	}

	c.progressCh = make(chan int64, 100)
	c.aggDone = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Lock()
	c.status = StatusRunning
	c.mu.Unlock()
	go c.aggregate()
	c.launchWorkers()
	return nil
}

func (c *Coordinator) planDownload() error {
	var probe ProbeResult
	var err error
	for attempt := 0; attempt < c.cfg.ProbeRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Str("op", "transfer/coordinator").Msgf("Retrying probe (attempt %d/%d)", attempt+1, c.cfg.ProbeRetries)
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		probe, err = ProbeEndpoint(c.cfg.URL, c.client)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("endpoint unreachable: %w", err)
	}

	c.totalSize = probe.Size
	if c.rangeable(probe) {
		c.mode = ModeMultiRange
		c.ranges = Partition(probe.Size, c.cfg.Connections)
	} else {
		c.mode = ModeSingleStream
		c.ranges = []Range{{Index: 0, Start: 0, End: probe.Size - 1}}
	}

	out, err := os.OpenFile(c.cfg.OutputPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}
	c.out = out

	if c.mode == ModeMultiRange {
		// Pre-size the artifact so workers can seek-and-write disjoint
		// regions without serializing.
		if err := out.Truncate(c.totalSize); err != nil {
			out.Close()
			return fmt.Errorf("%w: %v", ErrOutputWrite, err)
		}
		c.store = NewStore(c.cfg.OutputPath)
		c.seedFromStore(false)
	}
	log.Info().Str("op", "transfer/coordinator").Msgf("Download planned: %s, %d bytes, %d range(s)", c.mode, c.totalSize, len(c.ranges))
	return nil
}

func (c *Coordinator) planUpload() error {
	info, err := os.Stat(c.cfg.SourcePath)
	if err != nil {
		return fmt.Errorf("error reading source file: %v", err)
	}
	src, err := os.Open(c.cfg.SourcePath)
	if err != nil {
		return fmt.Errorf("error opening source file: %v", err)
	}
	c.src = src
	c.totalSize = info.Size()

	if c.cfg.Connections > 1 && c.totalSize/int64(c.cfg.Connections) >= c.cfg.MinRangeSize {
		c.mode = ModeMultiRange
		c.ranges = Partition(c.totalSize, c.cfg.Connections)
		c.store = NewUploadStore(c.cfg.SourcePath)
		c.seedFromStore(true)
	} else {
		c.mode = ModeSingleStream
		c.ranges = []Range{{Index: 0, Start: 0, End: c.totalSize - 1}}
	}
	log.Info().Str("op", "transfer/coordinator").Msgf("Upload planned: %s, %d bytes, %d range(s)", c.mode, c.totalSize, len(c.ranges))
	return nil
}

func (c *Coordinator) rangeable(probe ProbeResult) bool {
	if probe.Capability != SizeKnownRangeable || c.cfg.Connections <= 1 {
		return false
	}
	// Tiny ranges are not worth their own connection.
	return probe.Size/int64(c.cfg.Connections) >= c.cfg.MinRangeSize
}

// seedFromStore applies a prior progress record to the freshly
// partitioned ranges. Entries that do not fit the current partition are
// dropped, restarting the affected range from zero. Upload ranges are
// all-or-nothing, only fully completed entries count.
func (c *Coordinator) seedFromStore(wholeRangesOnly bool) {
	prior := c.store.Load()
	if len(prior) == 0 {
		return
	}
	var resumed int64
	for i := range c.ranges {
		r := &c.ranges[i]
		completed, ok := prior[r.Index]
		if !ok || completed < 0 || completed > r.Length() {
			continue
		}
		if wholeRangesOnly && completed != r.Length() {
			continue
		}
		r.Completed = completed
		if completed == r.Length() {
			r.Done = true
		}
		resumed += completed
	}
	c.transferred = resumed
	log.Info().Str("op", "transfer/coordinator").Msgf("Resuming with %d bytes from prior progress record", resumed)
}

func (c *Coordinator) launchWorkers() {
	c.paused.Store(false)
	c.mu.Lock()
	mode := c.mode
	var pending []*Range
	for i := range c.ranges {
		if !c.ranges[i].Done {
			pending = append(pending, &c.ranges[i])
		}
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	if mode == ModeSingleStream {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runSingleStream(&c.ranges[0])
		}()
	} else {
		for _, r := range pending {
			wg.Add(1)
			go func(r *Range) {
				defer wg.Done()
				if c.cfg.Direction == Upload {
					c.runUploadWorker(r)
				} else {
					c.runWorker(r)
				}
			}(r)
		}
	}
	go func() {
		wg.Wait()
		c.finishGeneration()
	}()
}

// finishGeneration runs once every spawned generation of workers has
// quiesced: after Pause, after Cancel, or because everything finished
// or failed. It decides the next lifecycle state and flushes or clears
// the progress record accordingly.
func (c *Coordinator) finishGeneration() {
	c.mu.Lock()
	allDone := true
	for i := range c.ranges {
		if !c.ranges[i].Done {
			allDone = false
			break
		}
	}
	switch {
	case c.cancelRequested:
		c.status = StatusCancelled
	case allDone && c.fatalErr == nil && len(c.failures) == 0:
		c.status = StatusCompleted
	case c.pauseRequested && c.fatalErr == nil && len(c.failures) == 0:
		c.status = StatusPaused
	default:
		c.status = StatusFailed
	}
	status := c.status
	rangesCopy := slices.Clone(c.ranges)
	store := c.store
	quiesced := c.quiesced
	c.quiesced = nil
	c.mu.Unlock()

	switch status {
	case StatusCompleted:
		if err := c.finalizeSuccess(); err != nil {
			c.mu.Lock()
			c.status = StatusFailed
			c.fatalErr = err
			status = StatusFailed
			c.mu.Unlock()
		}
	case StatusPaused, StatusCancelled, StatusFailed:
		// Leave the record behind so a later invocation can resume.
		if store != nil {
			if err := store.Save(rangesCopy); err != nil {
				log.Warn().Str("op", "transfer/coordinator").Msgf("Failed to flush progress record: %v", err)
			}
		}
	}

	if quiesced != nil {
		close(quiesced)
	}
	if status != StatusPaused {
		c.closeFiles()
		close(c.progressCh)
		<-c.aggDone
		close(c.done)
	}
}

func (c *Coordinator) finalizeSuccess() error {
	c.mu.Lock()
	var sum int64
	for _, r := range c.ranges {
		sum += r.Completed
	}
	total := c.totalSize
	store := c.store
	c.mu.Unlock()

	if sum != total {
		return fmt.Errorf("transfer incomplete: expected %d bytes, completed %d", total, sum)
	}
	if c.out != nil {
		if err := c.out.Sync(); err != nil {
			return fmt.Errorf("%w: %v", ErrOutputWrite, err)
		}
	}
	if store != nil {
		if err := store.Clear(); err != nil {
			log.Warn().Str("op", "transfer/coordinator").Msgf("Failed to remove progress record: %v", err)
		}
	}
	log.Info().Str("op", "transfer/coordinator").Msgf("Transfer complete: %d bytes", total)
	return nil
}

func (c *Coordinator) closeFiles() {
	if c.out != nil {
		c.out.Close()
	}
	if c.src != nil {
		c.src.Close()
	}
}

// Pause sets the shared pause signal and blocks until all in-flight
// workers have quiesced and the progress record is flushed.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	if c.status != StatusRunning {
		c.mu.Unlock()
		return
	}
	c.pauseRequested = true
	ch := make(chan struct{})
	c.quiesced = ch
	c.mu.Unlock()
	c.paused.Store(true)
	<-ch
}

// Resume clears the pause signal and re-spawns workers for every range
// not yet complete.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	if c.status != StatusPaused {
		c.mu.Unlock()
		return
	}
	c.pauseRequested = false
	c.status = StatusRunning
	c.mu.Unlock()
	c.launchWorkers()
}

// Cancel stops workers and leaves both the partial artifact and the
// progress record in place. Cleanup is the caller's decision.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	if c.status != StatusRunning && c.status != StatusPaused {
		c.mu.Unlock()
		return
	}
	c.cancelRequested = true
	wasPaused := c.status == StatusPaused
	c.mu.Unlock()
	if wasPaused {
		// No workers in flight, transition directly.
		c.finishGeneration()
		return
	}
	c.cancelFn()
}

// Wait blocks until the transfer reaches a terminal state. A paused
// transfer is not terminal; resume or cancel it first.
func (c *Coordinator) Wait() Result {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	res := Result{
		Status:      c.status,
		Transferred: c.transferred,
		TotalSize:   c.totalSize,
		Elapsed:     time.Since(c.startTime),
	}
	if c.status == StatusFailed {
		indices := make([]int, 0, len(c.failures))
		errs := make([]error, 0, len(c.failures)+1)
		if c.fatalErr != nil {
			errs = append(errs, c.fatalErr)
		}
		for idx, ferr := range c.failures {
			indices = append(indices, idx)
			errs = append(errs, ferr)
		}
		slices.Sort(indices)
		res.FailedRanges = indices
		res.Err = &Error{
			FailedRanges: indices,
			Percent:      percentOf(c.transferred, c.totalSize),
			Err:          errors.Join(errs...),
		}
	}
	return res
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Progress returns the current transferred byte count and total size.
func (c *Coordinator) Progress() (transferred, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transferred, c.totalSize
}

// aggregate consumes worker progress events and periodically emits the
// aggregate percentage and instantaneous rate to the registered sink.
// It also drives the bounded-cadence checkpointing of the progress
// record. It exits when the progress channel closes at a terminal
// state, after one final emission.
func (c *Coordinator) aggregate() {
	defer close(c.aggDone)
	progressTicker := time.NewTicker(c.cfg.ProgressInterval)
	defer progressTicker.Stop()
	checkpointTicker := time.NewTicker(c.cfg.CheckpointInterval)
	defer checkpointTicker.Stop()

	var windowBytes int64
	lastUpdate := time.Now()
	for {
		select {
		case n, ok := <-c.progressCh:
			if !ok {
				transferred, total := c.Progress()
				c.emit(percentOf(transferred, total), 0)
				return
			}
			windowBytes += n
		case <-progressTicker.C:
			now := time.Now()
			elapsed := now.Sub(lastUpdate).Seconds()
			var speed float64
			if elapsed > 0 && windowBytes > 0 {
				speed = float64(windowBytes) / elapsed
			}
			transferred, total := c.Progress()
			c.emit(percentOf(transferred, total), speed)
			windowBytes = 0
			lastUpdate = now
		case <-checkpointTicker.C:
			c.checkpoint()
		}
	}
}

func (c *Coordinator) emit(percent, speed float64) {
	if c.cfg.ProgressFunc != nil {
		c.cfg.ProgressFunc(percent, speed)
	}
}

func percentOf(transferred, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return min(float64(transferred)/float64(total)*100, 100)
}

func (c *Coordinator) checkpoint() {
	c.mu.Lock()
	if c.status != StatusRunning || c.store == nil {
		c.mu.Unlock()
		return
	}
	rangesCopy := slices.Clone(c.ranges)
	store := c.store
	c.mu.Unlock()
	if err := store.Save(rangesCopy); err != nil {
		log.Warn().Str("op", "transfer/coordinator").Msgf("Checkpoint failed: %v", err)
	}
}

// addProgress credits n bytes to the worker's range and the shared
// aggregate. The lock is held only for the increment, and the event
// send never blocks a worker.
func (c *Coordinator) addProgress(r *Range, n int64) {
	c.mu.Lock()
	r.Completed += n
	c.transferred += n
	c.mu.Unlock()
	select {
	case c.progressCh <- n:
	default:
	}
}

// resetProgress rolls back all credit for a range, used by whole-stream
// restarts and all-or-nothing upload retries.
func (c *Coordinator) resetProgress(r *Range) {
	c.mu.Lock()
	delta := -r.Completed
	r.Completed = 0
	c.transferred += delta
	c.mu.Unlock()
	if delta != 0 {
		select {
		case c.progressCh <- delta:
		default:
		}
	}
}

func (c *Coordinator) markDone(r *Range) {
	c.mu.Lock()
	r.Done = true
	c.mu.Unlock()
}

func (c *Coordinator) recordFailure(r *Range, err error) {
	c.mu.Lock()
	c.failures[r.Index] = err
	c.mu.Unlock()
	log.Error().Str("op", "transfer/coordinator").Err(err).Msgf("Range %d failed permanently", r.Index)
}

// fatal aborts all sibling workers. Used for local write failures where
// retrying other ranges cannot help.
func (c *Coordinator) fatal(err error) {
	c.mu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	c.mu.Unlock()
	c.cancelFn()
}
