package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/warp/rates-engine/extract"
	"github.com/warp/rates-engine/rates"
)

// Processor holds dependencies for the task handlers.
type Processor struct {
	councils rates.CouncilStore
	importer *rates.Importer
	logger   *log.Logger
}

// NewProcessor creates a Processor. logger may be nil.
func NewProcessor(councils rates.CouncilStore, importer *rates.Importer, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{councils: councils, importer: importer, logger: logger}
}

// Register wires the handlers into an asynq mux.
func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRefresh, p.HandleRefreshTask)
}

// HandleRefreshTask resets and re-imports one scope from an extract file.
func (p *Processor) HandleRefreshTask(ctx context.Context, t *asynq.Task) error {
	var payload RefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", asynq.SkipRetry)
	}

	err := p.refresh(ctx, payload)
	if payload.RemoveAfter && (err == nil || errors.Is(err, asynq.SkipRetry)) {
		if rmErr := os.Remove(payload.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			p.logger.Printf("[Worker] remove upload %s: %v", payload.Path, rmErr)
		}
	}
	return err
}

func (p *Processor) refresh(ctx context.Context, payload RefreshPayload) error {
	p.logger.Printf("[Worker] refresh %s/%s from %s", payload.CouncilID, payload.Period, payload.Path)

	council, err := p.councils.GetCouncil(ctx, rates.CouncilID(payload.CouncilID))
	if err != nil {
		return fmt.Errorf("load council: %w", err)
	}
	if council == nil {
		return fmt.Errorf("%w %q: %w", rates.ErrCouncilNotFound, payload.CouncilID, asynq.SkipRetry)
	}
	if !council.Active {
		return fmt.Errorf("%w %q: %w", rates.ErrCouncilInactive, payload.CouncilID, asynq.SkipRetry)
	}

	scope := rates.Scope{Council: *council, Period: rates.RatingPeriod(payload.Period)}
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	rows, err := extract.Open(payload.Path, extract.Options{Header: payload.Header})
	if err != nil {
		return fmt.Errorf("open extract: %v: %w", err, asynq.SkipRetry)
	}
	defer rows.Close()

	summary, err := p.importer.Refresh(ctx, scope, rows)
	if err != nil {
		p.logger.Printf("[Worker] refresh %s failed: %v", scope, err)
		return err
	}
	p.logger.Printf("[Worker] refresh %s done: %d rows, %d bills, %d skipped",
		scope, summary.Rows, summary.BillsCreated, summary.Skipped)
	return nil
}
