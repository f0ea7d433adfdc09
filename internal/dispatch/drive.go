package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-cap-alerts/internal/metrics"
	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/repository"
	"github.com/mr1hm/go-cap-alerts/internal/sender"
)

type outcome int

const (
	outcomeNone outcome = iota
	outcomeFinal
	outcomeDeferred
	outcomeSkipped
)

type sendResult struct {
	outcome outcome
	status  models.OutboxStatus
	err     error
}

type sendJob struct {
	ctx     context.Context
	entry   *models.OutboxEntry
	content sender.Content
	result  *sendResult
	done    func()
}

// drive runs entries through the limiter and the worker pool in order and
// tallies the outcome into report. It returns once every submitted send has
// finished.
func (f *Fanout) drive(ctx context.Context, entries []*models.OutboxEntry, contents map[string]sender.Content, report *Report) error {
	results := make([]sendResult, len(entries))
	var (
		wg      sync.WaitGroup
		loopErr error
	)

	for i, e := range entries {
		report.EntryIDs = append(report.EntryIDs, e.ID)
		res := &results[i]

		if loopErr != nil {
			res.outcome, res.status = outcomeFinal, models.StatusUnsent
			continue
		}
		if ctx.Err() != nil {
			res.outcome, res.status, res.err = f.leaveUnsent(ctx, e, logCancelled)
			continue
		}
		if !f.claim(e.ID) {
			res.outcome = outcomeSkipped
			continue
		}
		// The caller's copy may be stale: another drive can have sent the
		// entry and released its claim since it was read.
		current, err := f.outbox.GetOutboxEntry(context.WithoutCancel(ctx), e.ID)
		if err != nil {
			f.release(e.ID)
			loopErr = err
			res.outcome, res.status = outcomeFinal, models.StatusUnsent
			continue
		}
		if current.Status != models.StatusUnsent {
			f.release(e.ID)
			res.outcome = outcomeSkipped
			continue
		}
		e = current

		admitted, err := f.limiter.Admit(ctx)
		if err != nil {
			f.release(e.ID)
			loopErr = err
			res.outcome, res.status = outcomeFinal, models.StatusUnsent
			continue
		}
		metrics.RecordAdmission(admitted)
		if !admitted {
			f.release(e.ID)
			res.outcome, res.status, res.err = f.leaveUnsent(ctx, e, ErrRateLimited.Error())
			if res.err == nil {
				res.outcome = outcomeDeferred
			}
			continue
		}

		wg.Add(1)
		job := &sendJob{
			ctx:     ctx,
			entry:   e,
			content: contents[e.MessageID],
			result:  res,
			done: func() {
				f.release(e.ID)
				wg.Done()
			},
		}
		if err := f.pool.Submit(ctx, job); err != nil {
			job.done()
			res.outcome, res.status, res.err = f.leaveUnsent(context.WithoutCancel(ctx), e, logCancelled)
		}
	}

	wg.Wait()

	for i, res := range results {
		id := entries[i].ID
		if res.err != nil && loopErr == nil {
			loopErr = res.err
		}
		switch res.outcome {
		case outcomeFinal:
			report.Counts[res.status]++
		case outcomeDeferred:
			report.Counts[models.StatusUnsent]++
			report.Deferred = append(report.Deferred, id)
		case outcomeSkipped:
			report.Skipped = append(report.Skipped, id)
		}
	}
	return loopErr
}

// leaveUnsent keeps the entry Unsent and records why.
func (f *Fanout) leaveUnsent(ctx context.Context, e *models.OutboxEntry, reason string) (outcome, models.OutboxStatus, error) {
	if err := f.outbox.AppendLog(context.WithoutCancel(ctx), e.ID, reason); err != nil {
		return outcomeFinal, models.StatusUnsent, err
	}
	f.publish(e, models.StatusUnsent, reason)
	return outcomeFinal, models.StatusUnsent, nil
}

// process runs on a pool worker. poolCtx is cancelled on shutdown.
func (f *Fanout) process(poolCtx context.Context, job *sendJob) error {
	defer job.done()
	e, res := job.entry, job.result

	if job.ctx.Err() != nil || poolCtx.Err() != nil {
		res.outcome, res.status, res.err = f.leaveUnsent(job.ctx, e, logCancelled)
		return res.err
	}

	sendCtx, cancel := context.WithTimeout(job.ctx, f.timeout)
	start := time.Now()
	err := f.sender.Send(sendCtx, e.Address, e.Channel, job.content)
	cancel()
	metrics.RecordSend(e.Channel, time.Since(start))

	if errors.Is(err, sender.ErrUnavailable) {
		res.outcome, res.status, res.err = f.leaveUnsent(job.ctx, e, "deferred: "+err.Error())
		if res.err == nil {
			res.outcome = outcomeDeferred
		}
		return res.err
	}

	to, line := models.StatusSent, "sent"
	if err != nil {
		to, line = models.StatusInvalid, "failed: "+err.Error()
		slog.Warn("send failed", "entry_id", e.ID, "channel", e.Channel, "address", e.Address, "error", err)
	}

	// The send happened; record it even if the dispatch was cancelled meanwhile.
	casErr := f.outbox.CompareAndSetStatus(context.WithoutCancel(job.ctx), e.ID, models.StatusUnsent, to, line)
	switch {
	case errors.Is(casErr, repository.ErrDuplicateDispatch):
		slog.Info("outbox entry already transitioned", "entry_id", e.ID)
		res.outcome = outcomeSkipped
		return nil
	case casErr != nil:
		res.outcome, res.status, res.err = outcomeFinal, models.StatusUnsent, casErr
		return casErr
	}

	res.outcome, res.status = outcomeFinal, to
	metrics.RecordTransition(e.Channel, to)
	f.publish(e, to, line)
	return nil
}
