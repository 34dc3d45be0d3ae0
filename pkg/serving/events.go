package serving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/synaptica-ai/mocab/pkg/common/kafka"
	"github.com/synaptica-ai/mocab/pkg/common/logger"
	"github.com/synaptica-ai/mocab/pkg/common/models"
	"github.com/synaptica-ai/mocab/pkg/transform"
)

const eventSource = "feature-service"

type publisher interface {
	PublishEvent(ctx context.Context, event models.Event, key string) error
}

// EventHandler assembles a vector for every feature.assemble event and
// publishes it as a feature.vector event keyed by patient.
func (s *Service) EventHandler(pub publisher) kafka.EventHandler {
	return func(ctx context.Context, event models.Event) error {
		if event.Type != "" && event.Type != models.EventAssembleRequested {
			return nil
		}
		req, err := assembleRequest(event)
		if err != nil {
			return fmt.Errorf("%w: event %s: %v", kafka.ErrSkipEvent, event.ID, err)
		}

		result, err := s.Assemble(ctx, SourceKafka, req)
		if err != nil {
			if IsRequestError(err) {
				return fmt.Errorf("%w: event %s: %v", kafka.ErrSkipEvent, event.ID, err)
			}
			return err
		}

		out := kafka.NewEvent(models.EventVectorAssembled, eventSource, map[string]interface{}{
			"request_id": event.ID,
			"model":      result.Model,
			"patient_id": result.PatientID,
			"reference":  result.Reference.Format(time.RFC3339),
			"columns":    result.Columns,
			"vector":     result.Vector,
			"cached":     result.Cached,
		})
		if err := pub.PublishEvent(ctx, out, result.PatientID); err != nil {
			return err
		}
		logger.ForModel(result.Model, result.PatientID).WithField("event_id", event.ID).Info("Published feature vector")
		return nil
	}
}

func assembleRequest(event models.Event) (AssembleRequest, error) {
	var req AssembleRequest
	var ok bool
	if req.PatientID, ok = event.String("patient_id"); !ok {
		return req, fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	}
	if req.Model, ok = event.String("model"); !ok {
		return req, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if raw, ok := event.String("reference"); ok {
		ref, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return req, fmt.Errorf("%w: reference: %v", ErrInvalidRequest, err)
		}
		req.Reference = &ref
	}
	req.Refresh, _ = event.Data["refresh"].(bool)
	return req, nil
}

// IsRequestError reports errors caused by the request itself, which a
// retry cannot fix.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrAssemblyDisabled) ||
		errors.Is(err, ErrModelNotAssembled) ||
		errors.Is(err, transform.ErrUnknownModel)
}
