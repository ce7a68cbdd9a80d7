// Package pipeline derives dashboard views from a dataset and exports review
// tables through batched output writers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// DefaultBatchSize is the number of records handed to the writer at once.
const DefaultBatchSize = 64

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []models.Record) error
	Close() error
	Validate() error
}

// Stats counts what the pipeline did.
type Stats struct {
	Written int64          `json:"written"`
	Invalid map[string]int `json:"invalid"`
}

// Pipeline validates records and writes them in batches from a single
// goroutine, so output order matches input order.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	recordCh  chan models.Record
	batchSize int

	wg sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline and starts its writer goroutine. Cancelling
// ctx stops accepting records.
func NewPipeline(ctx context.Context, writer OutputWriter, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	p := &Pipeline{
		ctx:       ctx,
		writer:    writer,
		recordCh:  make(chan models.Record, batchSize*4),
		batchSize: batchSize,
		stats:     Stats{Invalid: make(map[string]int)},
		shutdown:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Process enqueues records for writing.
func (p *Pipeline) Process(records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, rec := range records {
		if err := p.enqueue(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for pending records to be written and prevents more
// submissions. It does not close the writer.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	p.wg.Wait()
	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	invalid := make(map[string]int, len(p.stats.Invalid))
	for k, v := range p.stats.Invalid {
		invalid[k] = v
	}
	return Stats{Written: p.stats.Written, Invalid: invalid}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.Record, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		p.statsMu.Lock()
		p.stats.Written += int64(len(batch))
		p.statsMu.Unlock()
		batch = batch[:0]
		return nil
	}

	for rec := range p.recordCh {
		if !p.valid(rec) {
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) valid(rec models.Record) bool {
	kind := ""
	switch {
	case rec.Restaurant == "":
		kind = "missing_restaurant"
	case parser.ValidateReview(&rec.Review) != nil:
		kind = "invalid_review"
	default:
		return true
	}
	p.statsMu.Lock()
	p.stats.Invalid[kind]++
	p.statsMu.Unlock()
	slog.Debug("export record skipped", slog.String("reason", kind), slog.String("restaurant", rec.Restaurant))
	return false
}

func (p *Pipeline) enqueue(rec models.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	if ctxErr := p.ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ErrPipelineClosed, ctxErr)
	}
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("%w: %v", ErrPipelineClosed, p.ctx.Err())
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.recordCh <- rec:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	// drain so blocked senders observe shutdown instead of a full channel
	go func() {
		for range p.recordCh {
		}
	}()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

// Export writes records through a pipeline and closes the writer.
func Export(ctx context.Context, writer OutputWriter, records []models.Record) (Stats, error) {
	p := NewPipeline(ctx, writer, DefaultBatchSize)
	processErr := p.Process(records)
	closeErr := p.Close()
	writerErr := writer.Close()

	if err := errors.Join(processErr, closeErr, writerErr); err != nil {
		return p.Stats(), err
	}
	slog.Info("export finished", slog.Int64("written", p.Stats().Written))
	return p.Stats(), nil
}
