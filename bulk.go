package subgeo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// OutcomeStatus classifies how a country ended in a bulk run.
type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "succeeded"
	StatusFailed    OutcomeStatus = "failed"    // validation error; nothing was resolved
	StatusSkipped   OutcomeStatus = "skipped"   // not started before cancellation
	StatusDuplicate OutcomeStatus = "duplicate" // same country as an earlier input
)

// ErrDuplicateCountry is set on outcomes of inputs naming a country already
// submitted in the same run.
var ErrDuplicateCountry = errors.New("duplicate country")

// CountryOutcome is one country's entry in a RunSummary.
type CountryOutcome struct {
	Input  string // the code as submitted
	Status OutcomeStatus
	Err    error
	Result *CountryResult // nil unless Status is StatusSucceeded
}

// RunSummary aggregates a bulk run. Countries are in submission order.
type RunSummary struct {
	RunID      string
	Attributes Attributes
	Workers    int
	Started    time.Time
	Finished   time.Time
	Cancelled  bool
	Countries  []CountryOutcome
	Totals     AttributeCounts
	CachePath  string
	CacheRows  int
	CacheBytes int64
}

// Elapsed is the wall time of the run.
func (s *RunSummary) Elapsed() time.Duration { return s.Finished.Sub(s.Started) }

// Count returns the number of countries with the given status.
func (s *RunSummary) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range s.Countries {
		if o.Status == status {
			n++
		}
	}
	return n
}

// RunAll enriches countries concurrently with at most maxWorkers countries
// in flight; maxWorkers <= 0 selects the configured default.
//
// Cancelling ctx stops dispatching: countries not yet started are
// reported as skipped, while countries already in flight run to
// completion so their results and cache writes are kept. A validation
// error only fails its own country.
func (e *Enricher) RunAll(ctx context.Context, countries []string, maxWorkers int, attrs Attributes) *RunSummary {
	if maxWorkers <= 0 {
		maxWorkers = e.config.Workers
	}
	summary := &RunSummary{
		RunID:      uuid.NewString(),
		Attributes: attrs,
		Workers:    maxWorkers,
		Started:    e.config.Clock(),
		Countries:  make([]CountryOutcome, len(countries)),
		CachePath:  e.store.Path(),
	}
	logger := e.logger.With("run_id", summary.RunID)
	logger.Info("starting bulk enrichment",
		"countries", len(countries),
		"workers", maxWorkers,
		"attributes", attrs.String(),
	)

	// Each task writes only its own slot, and no two tasks share a country.
	first := make(map[string]string, len(countries))
	p := pool.New().WithMaxGoroutines(maxWorkers)
	for i, input := range countries {
		summary.Countries[i] = CountryOutcome{Input: input, Status: StatusSkipped}
		if iso, err := e.catalogue.NormalizeCountry(input); err == nil {
			if prev, dup := first[iso]; dup {
				summary.Countries[i].Status = StatusDuplicate
				summary.Countries[i].Err = fmt.Errorf("%w: %q is %s, already submitted as %q", ErrDuplicateCountry, input, iso, prev)
				continue
			}
			first[iso] = input
		}
		if ctx.Err() != nil {
			continue
		}
		i, input := i, input
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			summary.Countries[i] = e.runCountry(context.WithoutCancel(ctx), input, attrs)
		})
	}
	p.Wait()

	summary.Cancelled = ctx.Err() != nil
	for _, o := range summary.Countries {
		CountriesTotal.WithLabelValues(string(o.Status)).Inc()
		if o.Result != nil {
			summary.Totals.Merge(o.Result.Counts)
		}
	}
	summary.Finished = e.config.Clock()
	summary.CacheRows = e.store.Len()
	summary.CacheBytes = e.store.fileSize()

	logger.Info("bulk enrichment finished",
		"succeeded", summary.Count(StatusSucceeded),
		"failed", summary.Count(StatusFailed),
		"skipped", summary.Count(StatusSkipped),
		"duplicate", summary.Count(StatusDuplicate),
		"cancelled", summary.Cancelled,
		"elapsed", summary.Elapsed(),
	)
	return summary
}

func (e *Enricher) runCountry(ctx context.Context, input string, attrs Attributes) CountryOutcome {
	res, err := e.Enrich(ctx, input, attrs)
	if err != nil {
		e.logger.Error("country failed", "country", input, "error", err)
		return CountryOutcome{Input: input, Status: StatusFailed, Err: err}
	}
	return CountryOutcome{Input: input, Status: StatusSucceeded, Result: res}
}
