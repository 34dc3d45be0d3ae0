package serving

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/synaptica-ai/mocab/pkg/transform"
)

// VectorLog is the audit record of one produced feature vector.
type VectorLog struct {
	ID        uuid.UUID         `gorm:"primaryKey;column:id" json:"id"`
	PatientID string            `gorm:"column:patient_id;index" json:"patient_id"`
	Model     string            `gorm:"column:model;index" json:"model"`
	Source    string            `gorm:"column:source" json:"source"`
	Reference time.Time         `gorm:"column:reference" json:"reference"`
	Columns   datatypes.JSON    `gorm:"column:columns" json:"columns"`
	Vector    datatypes.JSON    `gorm:"column:vector" json:"vector"`
	Inputs    datatypes.JSONMap `gorm:"column:inputs" json:"inputs"`
	CreatedAt time.Time         `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides gorm naming.
func (VectorLog) TableName() string {
	return "feature_vector_logs"
}

// Repository persists vector logs.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&VectorLog{})
}

// RecordVector stores result as a new log row.
func (r *Repository) RecordVector(ctx context.Context, source string, result *Result) error {
	columns, err := json.Marshal(result.Columns)
	if err != nil {
		return err
	}
	vector, err := json.Marshal(result.Vector)
	if err != nil {
		return err
	}
	log := VectorLog{
		ID:        uuid.New(),
		PatientID: result.PatientID,
		Model:     result.Model,
		Source:    source,
		Reference: result.Reference.UTC(),
		Columns:   datatypes.JSON(columns),
		Vector:    datatypes.JSON(vector),
		Inputs:    inputsMap(result.Inputs),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&log).Error
}

func inputsMap(inputs map[string]transform.Input) datatypes.JSONMap {
	if len(inputs) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(inputs))
	for name, in := range inputs {
		entry := map[string]interface{}{"value": in.Value}
		if in.Date != "" {
			entry["date"] = in.Date
		}
		out[name] = entry
	}
	return out
}

// Recent returns the newest logs of model, up to limit.
func (r *Repository) Recent(ctx context.Context, model string, limit int) ([]VectorLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []VectorLog
	err := r.db.WithContext(ctx).
		Where("model = ?", model).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
