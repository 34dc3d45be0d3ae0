// Package serving turns transformation inputs or a patient's FHIR records
// into model feature vectors, with caching, audit logging and event
// publishing around the core engine.
package serving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/synaptica-ai/mocab/pkg/common/logger"
	"github.com/synaptica-ai/mocab/pkg/feature"
	"github.com/synaptica-ai/mocab/pkg/observability/metrics"
	"github.com/synaptica-ai/mocab/pkg/storage"
	"github.com/synaptica-ai/mocab/pkg/transform"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrAssemblyDisabled  = errors.New("feature assembly is not configured")
	ErrModelNotAssembled = errors.New("model has no feature table entries")
)

const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// Result is a produced vector with the columns that name its slots.
type Result struct {
	Model     string                     `json:"model"`
	PatientID string                     `json:"patient_id,omitempty"`
	Reference time.Time                  `json:"reference"`
	Columns   []string                   `json:"columns"`
	Vector    []interface{}              `json:"vector"`
	Inputs    map[string]transform.Input `json:"inputs,omitempty"`
	Cached    bool                       `json:"cached"`
}

type AssembleRequest struct {
	PatientID string     `json:"patient_id"`
	Model     string     `json:"model"`
	Reference *time.Time `json:"reference,omitempty"`
	// Refresh skips the cache lookup; the new vector is still cached.
	Refresh bool `json:"refresh,omitempty"`
}

type vectorCache interface {
	Get(ctx context.Context, model, patientID string, ref time.Time) (*storage.CachedVector, bool, error)
	Put(ctx context.Context, ref time.Time, v *storage.CachedVector) error
}

type vectorLog interface {
	RecordVector(ctx context.Context, source string, result *Result) error
	Recent(ctx context.Context, model string, limit int) ([]VectorLog, error)
}

type Service struct {
	catalog   *transform.Catalog
	assembler *feature.Assembler
	cache     vectorCache
	log       vectorLog
	now       func() time.Time
}

type Option func(*Service)

// WithAssembler enables assembling vectors from FHIR searches.
func WithAssembler(a *feature.Assembler) Option {
	return func(s *Service) { s.assembler = a }
}

func WithCache(c vectorCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithVectorLog(l vectorLog) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(catalog *transform.Catalog, opts ...Option) *Service {
	s := &Service{catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelInfo describes one configured model.
type ModelInfo struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	Inputs     []string `json:"inputs"`
	Assembled  bool     `json:"assembled"`
	VectorSize int      `json:"vector_size"`
}

func (s *Service) Models() []ModelInfo {
	assembled := map[string]bool{}
	if s.assembler != nil {
		for _, name := range s.assembler.Features().Models() {
			assembled[name] = true
		}
	}
	var out []ModelInfo
	for _, name := range s.catalog.Models() {
		table, _ := s.catalog.Get(name)
		out = append(out, ModelInfo{
			Name:       name,
			Columns:    table.Columns(),
			Inputs:     table.Inputs(),
			Assembled:  assembled[name],
			VectorSize: table.Len(),
		})
	}
	return out
}

func (s *Service) Model(name string) (ModelInfo, error) {
	for _, info := range s.Models() {
		if info.Name == name {
			return info, nil
		}
	}
	return ModelInfo{}, fmt.Errorf("%w: %q", transform.ErrUnknownModel, name)
}

// Transform builds model's vector from caller-supplied inputs.
func (s *Service) Transform(ctx context.Context, model string, inputs map[string]transform.Input) (*Result, error) {
	table, err := s.catalog.Get(model)
	if err != nil {
		metrics.ObserveTransformError()
		return nil, err
	}
	vector, err := table.Transform(inputs)
	if err != nil {
		metrics.ObserveTransformError()
		return nil, err
	}
	metrics.ObserveVector(false, vector)

	result := &Result{
		Model:     model,
		Reference: s.now().UTC(),
		Columns:   table.Columns(),
		Vector:    vector,
		Inputs:    inputs,
	}
	s.record(ctx, SourceHTTP, result)
	return result, nil
}

// Assemble searches the patient's records for model's features and builds
// the vector, serving it from the cache when one was built for the same
// reference minute.
func (s *Service) Assemble(ctx context.Context, source string, req AssembleRequest) (*Result, error) {
	if req.PatientID == "" || req.Model == "" {
		return nil, fmt.Errorf("%w: patient_id and model are required", ErrInvalidRequest)
	}
	if s.assembler == nil {
		return nil, ErrAssemblyDisabled
	}
	table, err := s.catalog.Get(req.Model)
	if err != nil {
		metrics.ObserveTransformError()
		return nil, err
	}
	if _, err := s.assembler.Features().Features(req.Model); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrModelNotAssembled, req.Model)
	}

	ref := s.now().UTC()
	if req.Reference != nil {
		ref = req.Reference.UTC()
	}
	log := logger.ForModel(req.Model, req.PatientID)

	if s.cache != nil && !req.Refresh {
		cached, found, err := s.cache.Get(ctx, req.Model, req.PatientID, ref)
		if err != nil {
			log.WithError(err).Warn("Vector cache lookup failed")
		}
		metrics.ObserveCache(found)
		if found {
			return &Result{
				Model:     cached.Model,
				PatientID: cached.PatientID,
				Reference: ref,
				Columns:   cached.Columns,
				Vector:    cached.Vector,
				Inputs:    cached.Inputs,
				Cached:    true,
			}, nil
		}
	}

	inputs, err := s.assembler.Assemble(ctx, req.PatientID, req.Model, ref)
	if err != nil {
		metrics.ObserveAssemblyError()
		return nil, err
	}
	vector, err := table.Transform(inputs)
	if err != nil {
		metrics.ObserveTransformError()
		return nil, err
	}
	metrics.ObserveVector(true, vector)

	result := &Result{
		Model:     req.Model,
		PatientID: req.PatientID,
		Reference: ref,
		Columns:   table.Columns(),
		Vector:    vector,
		Inputs:    inputs,
	}
	if s.cache != nil {
		err := s.cache.Put(ctx, ref, &storage.CachedVector{
			Model:       result.Model,
			PatientID:   result.PatientID,
			Reference:   ref.Format(time.RFC3339),
			Columns:     result.Columns,
			Vector:      result.Vector,
			Inputs:      result.Inputs,
			AssembledAt: s.now().UTC(),
		})
		if err != nil {
			log.WithError(err).Warn("Failed to cache feature vector")
		}
	}
	s.record(ctx, source, result)

	log.WithField("source", source).Info("Feature vector assembled")
	return result, nil
}

// Recent lists the latest logged vectors of model.
func (s *Service) Recent(ctx context.Context, model string, limit int) ([]VectorLog, error) {
	if s.log == nil {
		return nil, nil
	}
	if _, err := s.catalog.Get(model); err != nil {
		return nil, err
	}
	return s.log.Recent(ctx, model, limit)
}

// record writes the audit log. Failures are logged and never fail the
// request.
func (s *Service) record(ctx context.Context, source string, result *Result) {
	if s.log == nil {
		return
	}
	if err := s.log.RecordVector(ctx, source, result); err != nil {
		logger.ForModel(result.Model, result.PatientID).WithError(err).Error("Failed to record feature vector")
	}
}
