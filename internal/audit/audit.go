package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/pkg/logger"
)

// DecisionRecord is the persistent trail of denied and degraded permission
// checks. Allowed decisions from a healthy backend are not recorded.
type DecisionRecord struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string         `gorm:"type:uuid;index" json:"user_id"`
	Role        string         `json:"role"`
	Permission  string         `gorm:"not null;index" json:"permission"`
	Allowed     bool           `gorm:"not null" json:"allowed"`
	Reason      string         `gorm:"not null;index" json:"reason"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	EvaluatedAt time.Time      `gorm:"not null" json:"evaluated_at"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

func (r *DecisionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// AutoMigrate creates or updates the audit schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&DecisionRecord{})
}

// Recorder persists decisions. It implements access.DecisionSink and is
// strictly best-effort: storage errors are logged, never returned.
type Recorder struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewRecorder constructs a Recorder over the database handle.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, log: logger.WithModule("audit")}
}

// Record stores the decision for later review.
func (r *Recorder) Record(ctx context.Context, permission access.Permission, result access.PermissionResult) {
	if r == nil || r.db == nil {
		return
	}

	record := DecisionRecord{
		UserID:      result.Context.UserID,
		Role:        result.Context.Role,
		Permission:  string(permission),
		Allowed:     result.Allowed,
		Reason:      result.Reason,
		EvaluatedAt: result.EvaluatedAt,
	}

	if result.Context.Resource != nil {
		meta, err := json.Marshal(map[string]string{
			"resource_type": string(result.Context.Resource.Type),
			"resource_id":   result.Context.Resource.ID,
		})
		if err == nil {
			record.Metadata = datatypes.JSON(meta)
		}
	}

	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		r.log.Warn("decision record write failed",
			zap.String("permission", string(permission)),
			zap.Error(err))
	}
}

// CleanupOlderThan deletes records older than the retention window and
// returns how many were removed.
func (r *Recorder) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&DecisionRecord{})
	return res.RowsAffected, res.Error
}
