// Package inquiry fetches ranges of authorized documents from the authority with a
// bounded pool of workers.
package inquiry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// MaxRange caps the numbers fetched by one QueryRange call.
const MaxRange = 1000

const defaultWorkers = 4

// Querier fetches one authorized document. It returns fiscal.ErrNotFound for numbers
// the authority never assigned.
type Querier[R any] interface {
	QueryDocument(ctx context.Context, salesPoint int, kind fiscal.DocumentKind, number int64) (R, error)
}

type job struct {
	number int64
	index  int
}

// Result is the outcome of one number.
type Result[R any] struct {
	Number int64
	Record R
	Err    error
	index  int
}

type pool[R any] struct {
	workers    int
	querier    Querier[R]
	salesPoint int
	kind       fiscal.DocumentKind
	jobs       chan job
	results    chan Result[R]
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func newPool[R any](ctx context.Context, workers int, q Querier[R], salesPoint int, kind fiscal.DocumentKind) *pool[R] {
	poolCtx, cancel := context.WithCancel(ctx)
	return &pool[R]{
		workers:    workers,
		querier:    q,
		salesPoint: salesPoint,
		kind:       kind,
		jobs:       make(chan job, workers*2),
		results:    make(chan Result[R], workers*2),
		ctx:        poolCtx,
		cancel:     cancel,
	}
}

func (p *pool[R]) start() {
	for range p.workers {
		p.wg.Add(1)
		go p.worker()
	}
}

// stop closes the job queue and waits for the workers. Results must be drained first.
func (p *pool[R]) stop() {
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
	close(p.results)
}

func (p *pool[R]) submit(j job) error {
	select {
	case p.jobs <- j:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (p *pool[R]) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		res := Result[R]{Number: j.number, index: j.index}
		if err := p.ctx.Err(); err != nil {
			res.Err = err
		} else {
			res.Record, res.Err = p.querier.QueryDocument(p.ctx, p.salesPoint, p.kind, j.number)
		}
		p.results <- res
	}
}

// Stats summarizes one range query.
type Stats struct {
	Total      int
	Found      int
	Missing    int
	Failed     int
	Duration   time.Duration
	Throughput float64 // numbers per second
}

// Report holds the outcome of a range query ordered by number.
type Report[R any] struct {
	Found   []Result[R]
	Missing []int64
	Failed  []Result[R]
	Stats   Stats
}

// QueryRange fetches numbers from..to of a sales point and kind using workers
// concurrent calls. Numbers the authority does not know are reported as missing; any
// other failure is kept per number and does not stop the rest of the range.
func QueryRange[R any](ctx context.Context, q Querier[R], salesPoint int, kind fiscal.DocumentKind, from, to int64, workers int) (*Report[R], error) {
	if salesPoint <= 0 {
		return nil, fiscal.NewValidationError("el punto de venta debe ser mayor a cero")
	}
	if !kind.Valid() {
		return nil, fiscal.NewValidationError(fmt.Sprintf("tipo de comprobante %d no soportado", int(kind)))
	}
	if from <= 0 || to < from {
		return nil, fiscal.NewValidationError(fmt.Sprintf("rango %d-%d inválido", from, to))
	}
	total := to - from + 1
	if total > MaxRange {
		return nil, fiscal.NewValidationError(fmt.Sprintf("el rango supera el máximo de %d comprobantes", MaxRange))
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if int64(workers) > total {
		workers = int(total)
	}

	start := time.Now()
	p := newPool(ctx, workers, q, salesPoint, kind)
	p.start()

	go func() {
		for i := range int(total) {
			if err := p.submit(job{number: from + int64(i), index: i}); err != nil {
				// Unsubmitted numbers are reported as failed by the collector.
				break
			}
		}
		p.stop()
	}()

	results := make([]Result[R], 0, total)
	for res := range p.results {
		results = append(results, res)
	}

	report := aggregate(results, from, to)
	report.Stats.Duration = time.Since(start)
	if secs := report.Stats.Duration.Seconds(); secs > 0 {
		report.Stats.Throughput = float64(len(results)) / secs
	}
	return report, nil
}

func aggregate[R any](results []Result[R], from, to int64) *Report[R] {
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	report := &Report[R]{Stats: Stats{Total: int(to - from + 1)}}
	seen := make(map[int64]bool, len(results))
	for _, res := range results {
		seen[res.Number] = true
		switch {
		case res.Err == nil:
			report.Found = append(report.Found, res)
		case errors.Is(res.Err, fiscal.ErrNotFound):
			report.Missing = append(report.Missing, res.Number)
		default:
			report.Failed = append(report.Failed, res)
		}
	}
	for n := from; n <= to; n++ {
		if !seen[n] {
			report.Failed = append(report.Failed, Result[R]{Number: n, Err: context.Canceled})
		}
	}

	report.Stats.Found = len(report.Found)
	report.Stats.Missing = len(report.Missing)
	report.Stats.Failed = len(report.Failed)
	return report
}
