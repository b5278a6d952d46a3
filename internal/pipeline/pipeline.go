// Package pipeline runs the concurrent frame-processing stages: a single
// reader, a pool of workers and a sequencing writer that restores frame
// order before frames reach the sink.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const (
	defaultPollInterval = time.Second
	defaultIdleWait     = time.Second
	defaultIdleLimit    = 30
	enqueueRetries      = 5
	enqueueWait         = 2 * time.Second
	minQueueSize        = 5
	maxAutoWorkers      = 8
	acceleratedWorkers  = 2
	progressStride      = 5
)

// Source yields frames in stream order. Read reports false at end of
// stream.
type Source interface {
	Read(dst *gocv.Mat) bool
}

// Sink receives frames strictly in stream order.
type Sink interface {
	Write(frame gocv.Mat) error
}

// FrameFunc processes one frame. It takes ownership of frame and
// returns the mat the pipeline should write, which may be frame itself.
// swapped reports whether the frame was actually modified; a frame that
// could not be processed is returned unmodified with swapped false. A
// non-nil error aborts the whole run.
type FrameFunc func(index int, frame gocv.Mat) (out gocv.Mat, swapped bool, err error)

// Stats summarizes a finished run. FramesSeen counts frames dequeued by
// workers; Written counts frames that reached the sink.
type Stats struct {
	FramesSeen int
	Written    int
	Swapped    int
	Failed     int
	Elapsed    time.Duration
}

// Options tunes a run. Zero values select defaults.
type Options struct {
	Workers     int
	QueueSize   int
	Accelerated bool

	// TotalFrames is advisory; containers lie about it, so it is used
	// only for progress reporting, never for termination.
	TotalFrames int

	// OnProgress receives the frames-seen counter every fifth frame and
	// once more after the run finishes.
	OnProgress func(framesSeen, total int)
	Logger     *slog.Logger

	// Timing knobs, overridable in tests.
	PollInterval time.Duration
	IdleWait     time.Duration
	IdleLimit    int
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = autoWorkers(o.Accelerated)
	}
	if o.QueueSize <= 0 {
		o.QueueSize = o.Workers * 2
		if o.QueueSize < minQueueSize {
			o.QueueSize = minQueueSize
		}
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.IdleWait <= 0 {
		o.IdleWait = defaultIdleWait
	}
	if o.IdleLimit <= 0 {
		o.IdleLimit = defaultIdleLimit
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

// autoWorkers sizes the pool. Accelerated engines serialize on the
// device, so more than two workers just queue behind its lock.
func autoWorkers(accelerated bool) int {
	if accelerated {
		return acceleratedWorkers
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	if n > maxAutoWorkers {
		n = maxAutoWorkers
	}
	return n
}

type frameJob struct {
	index int
	frame gocv.Mat
	eof   bool
}

type frameResult struct {
	index    int
	frame    gocv.Mat
	swapped  bool
	sentinel bool
}

type run struct {
	opts    Options
	src     Source
	sink    Sink
	process FrameFunc

	jobs    chan frameJob
	results chan frameResult

	stop     chan struct{}
	stopOnce sync.Once

	// statsMu guards framesSeen, which the workers increment.
	statsMu    sync.Mutex
	framesSeen int

	errMu    sync.Mutex
	firstErr error
}

// Run pumps frames from src through process and into sink, preserving
// stream order. Cancelling ctx aborts the run. It returns the run
// statistics and the first error that aborted the run, if any.
func Run(ctx context.Context, src Source, sink Sink, process FrameFunc, opts Options) (Stats, error) {
	opts.applyDefaults()
	start := time.Now()

	r := &run{
		opts:    opts,
		src:     src,
		sink:    sink,
		process: process,
		jobs:    make(chan frameJob, opts.QueueSize),
		results: make(chan frameResult, opts.QueueSize),
		stop:    make(chan struct{}),
	}

	go func() {
		select {
		case <-ctx.Done():
			r.setErr(ctx.Err())
		case <-r.stop:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1 + opts.Workers)
	go func() {
		defer wg.Done()
		r.reader()
	}()
	for i := 0; i < opts.Workers; i++ {
		go func() {
			defer wg.Done()
			r.worker()
		}()
	}

	statsCh := make(chan Stats, 1)
	go func() {
		statsCh <- r.writer()
	}()

	stats := <-statsCh
	r.raiseStop()

	// Join every stage before returning: the caller will release the
	// source, so no goroutine may still be touching it. A reader inside
	// a blocking Read returns once the capture hits EOF or errors.
	wg.Wait()

	r.drainChannels()
	r.statsMu.Lock()
	stats.FramesSeen = r.framesSeen
	r.statsMu.Unlock()
	r.progress(stats.FramesSeen)
	stats.Elapsed = time.Since(start)
	return stats, r.err()
}

func (r *run) raiseStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) setErr(err error) {
	r.errMu.Lock()
	if r.firstErr == nil {
		r.firstErr = err
	}
	r.errMu.Unlock()
	r.raiseStop()
}

func (r *run) err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.firstErr
}

// reader decodes frames and enqueues them for the workers, then sends
// one end-of-stream sentinel per worker.
func (r *run) reader() {
	index := 0
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		frame := gocv.NewMat()
		if !r.src.Read(&frame) {
			frame.Close()
			break
		}
		if !r.enqueue(frameJob{index: index, frame: frame}) {
			frame.Close()
			return
		}
		index++
	}

	for i := 0; i < r.opts.Workers; i++ {
		select {
		case r.jobs <- frameJob{eof: true}:
		case <-r.stop:
			return
		}
	}
}

// enqueue pushes a job onto the queue, retrying a bounded number of
// times. A queue that stays full means the downstream stages are dead,
// so the run is aborted rather than blocked forever.
func (r *run) enqueue(job frameJob) bool {
	for attempt := 0; attempt < enqueueRetries; attempt++ {
		select {
		case r.jobs <- job:
			return true
		case <-r.stop:
			return false
		case <-time.After(enqueueWait):
		}
	}
	r.setErr(fmt.Errorf("pipeline stalled: frame queue full for %s", time.Duration(enqueueRetries)*enqueueWait))
	return false
}

func (r *run) worker() {
	for {
		select {
		case <-r.stop:
			return
		case job := <-r.jobs:
			if job.eof {
				r.send(frameResult{sentinel: true})
				return
			}
			r.noteFrameSeen()
			out, swapped, err := r.process(job.index, job.frame)
			if err != nil {
				out.Close()
				r.setErr(err)
				return
			}
			if !r.send(frameResult{index: job.index, frame: out, swapped: swapped}) {
				return
			}
		case <-time.After(r.opts.PollInterval):
		}
	}
}

func (r *run) send(res frameResult) bool {
	select {
	case r.results <- res:
		return true
	case <-r.stop:
		res.frame.Close()
		return false
	}
}

// writer reorders results and writes them to the sink in stream order.
// It terminates when every worker has reported end of stream and all
// pending frames are flushed, when the run is aborted, or when no
// result arrives for the idle window.
func (r *run) writer() Stats {
	var stats Stats
	pending := make(map[int]frameResult)
	next := 0
	sentinels := 0
	idle := 0

	defer func() {
		for _, res := range pending {
			res.frame.Close()
		}
	}()

	for {
		select {
		case <-r.stop:
			return stats
		case res := <-r.results:
			idle = 0
			if res.sentinel {
				sentinels++
				if sentinels == r.opts.Workers && len(pending) == 0 {
					return stats
				}
				continue
			}
			pending[res.index] = res
			for {
				res, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := r.sink.Write(res.frame); err != nil {
					res.frame.Close()
					r.setErr(err)
					return stats
				}
				res.frame.Close()
				stats.Written++
				if res.swapped {
					stats.Swapped++
				} else {
					stats.Failed++
				}
				next++
			}
			if sentinels == r.opts.Workers && len(pending) == 0 {
				return stats
			}
		case <-time.After(r.opts.IdleWait):
			idle++
			if idle >= r.opts.IdleLimit {
				r.opts.Logger.Warn("writer idle limit reached, terminating",
					"written", stats.Written, "pending", len(pending))
				return stats
			}
		}
	}
}

// noteFrameSeen advances the shared frames-seen counter and reports
// progress at the stride. Workers call it on dequeue, so progress tracks
// frames entering the pool rather than frames flushed.
func (r *run) noteFrameSeen() {
	r.statsMu.Lock()
	r.framesSeen++
	seen := r.framesSeen
	r.statsMu.Unlock()
	if seen%progressStride == 0 {
		r.progress(seen)
	}
}

func (r *run) progress(framesSeen int) {
	if r.opts.OnProgress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.opts.Logger.Warn("progress callback panicked", "panic", rec)
		}
	}()
	r.opts.OnProgress(framesSeen, r.opts.TotalFrames)
}

// drainChannels releases frames still sitting in the queues after the
// stages exit.
func (r *run) drainChannels() {
	for {
		select {
		case job := <-r.jobs:
			if !job.eof {
				job.frame.Close()
			}
		case res := <-r.results:
			if !res.sentinel {
				res.frame.Close()
			}
		default:
			return
		}
	}
}
