package feature

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/synaptica-ai/mocab/pkg/common/logger"
	"github.com/synaptica-ai/mocab/pkg/route"
	"github.com/synaptica-ai/mocab/pkg/transform"
)

const defaultConcurrency = 4

// Assembler searches a patient's records for every feature of a model and
// reduces them to transformation inputs.
type Assembler struct {
	searcher    Searcher
	features    *Table
	routes      routes
	concurrency int
}

type Option func(*Assembler)

// WithConcurrency bounds the number of feature searches in flight.
func WithConcurrency(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// NewAssembler validates features against rules so that a missing route
// fails at startup rather than on a request.
func NewAssembler(searcher Searcher, features *Table, rules *route.RuleTable, opts ...Option) (*Assembler, error) {
	if err := features.Validate(rules); err != nil {
		return nil, err
	}
	a := &Assembler{
		searcher:    searcher,
		features:    features,
		routes:      routes{rules: rules},
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Assembler) Features() *Table { return a.features }

// Collect returns every sample found for each feature of model, newest
// first. ref is the moment the data is collected for; alive windows and
// ages are measured back from it.
func (a *Assembler) Collect(ctx context.Context, patientID, model string, ref time.Time) (map[string][]Sample, error) {
	features, err := a.features.Features(model)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string][]Sample, len(features))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, f := range features {
		f := f
		g.Go(func() error {
			samples, err := a.collect(ctx, patientID, f, ref)
			if err != nil {
				return fmt.Errorf("feature %q: %w", f.Name, err)
			}
			mu.Lock()
			out[f.Name] = samples
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Assembler) collect(ctx context.Context, patientID string, f *Feature, ref time.Time) ([]Sample, error) {
	s, ok := strategies[f.Resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", route.ErrUnknownResourceType, f.Resource)
	}
	records, err := s.search(ctx, a.searcher, patientID, f, ref)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, len(records))
	for i, record := range records {
		samples[i] = s.sample(a.routes, record, f, ref)
	}
	return samples, nil
}

// Assemble collects model's features for the patient and reduces each
// one by its search type.
func (a *Assembler) Assemble(ctx context.Context, patientID, model string, ref time.Time) (map[string]transform.Input, error) {
	collected, err := a.Collect(ctx, patientID, model, ref)
	if err != nil {
		return nil, err
	}
	features, _ := a.features.Features(model)

	log := logger.ForModel(model, patientID)
	inputs := make(map[string]transform.Input, len(features))
	for _, f := range features {
		in := Reduce(f.Search, collected[f.Name])
		if in.Value == nil {
			log.WithFields(logrus.Fields{"feature": f.Name, "resource": f.Resource.String()}).Debug("No value found for feature")
		}
		inputs[f.Name] = in
	}
	return inputs, nil
}
