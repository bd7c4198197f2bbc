package signer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/triggerfi/chainflow/pkg/models"
)

var ErrPoolClosed = errors.New("signer pool is closed")

const DefaultWorkers = 4

type signJob struct {
	ctx     context.Context
	payload *models.TransactionPayload
	result  chan signResult
}

type signResult struct {
	signed []byte
	err    error
}

// Pool serializes access to a Signer through a fixed set of workers so a
// slow signature call stalls at most its own firing, never the scheduler
// goroutines of other triggers.
type Pool struct {
	signer Signer
	logger *slog.Logger
	jobs   chan signJob
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewPool(s Signer, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	p := &Pool{
		signer: s,
		logger: logger.With("module", "signer"),
		jobs:   make(chan signJob),
		done:   make(chan struct{}),
	}

	p.wg.Add(workers)

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) Address() string {
	return p.signer.Address()
}

// Sign submits the payload to the pool and waits for the signature or
// the context. Returns ErrPoolClosed after Close.
func (p *Pool) Sign(ctx context.Context, payload *models.TransactionPayload) ([]byte, error) {
	job := signJob{ctx: ctx, payload: payload, result: make(chan signResult, 1)}

	select {
	case p.jobs <- job:
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-job.result:
		return res.signed, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work and waits for in-flight signatures.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			if err := job.ctx.Err(); err != nil {
				job.result <- signResult{err: err}

				continue
			}

			signed, err := p.signer.Sign(job.ctx, job.payload)
			if err != nil {
				p.logger.Error("Signature request failed", "error", err)
			}

			job.result <- signResult{signed: signed, err: err}
		}
	}
}
