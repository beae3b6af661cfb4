package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tallyhr/accesscore/internal/access"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func denial(userID string) access.PermissionResult {
	return access.PermissionResult{
		Allowed:     false,
		Reason:      access.ReasonBaseDenied,
		EvaluatedAt: time.Now().UTC().Truncate(time.Second),
		Context: access.PermissionContext{
			UserID: userID,
			Role:   "employee",
		},
	}
}

func TestRecorderPersistsDecision(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder(db)

	recorder.Record(context.Background(), "payroll.read", denial("u1"))

	var records []DecisionRecord
	require.NoError(t, db.Find(&records).Error)
	require.Len(t, records, 1)
	require.Equal(t, "u1", records[0].UserID)
	require.Equal(t, "payroll.read", records[0].Permission)
	require.False(t, records[0].Allowed)
	require.Equal(t, access.ReasonBaseDenied, records[0].Reason)
	require.NotEmpty(t, records[0].ID)
}

func TestRecorderStoresResourceMetadata(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder(db)

	result := denial("u1")
	result.Context.Resource = &access.ResourceDescriptor{
		Type: access.ResourcePayroll,
		ID:   "p-42",
	}
	recorder.Record(context.Background(), "payroll.read", result)

	var record DecisionRecord
	require.NoError(t, db.First(&record).Error)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(record.Metadata, &meta))
	require.Equal(t, "payroll", meta["resource_type"])
	require.Equal(t, "p-42", meta["resource_id"])
}

func TestRecorderIsBestEffort(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder(db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	// Must not panic or surface the storage error.
	recorder.Record(context.Background(), "payroll.read", denial("u1"))

	var nilRecorder *Recorder
	nilRecorder.Record(context.Background(), "payroll.read", denial("u1"))
}

func TestCleanupOlderThan(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder(db)
	ctx := context.Background()

	old := DecisionRecord{UserID: "u1", Permission: "payroll.read", Reason: access.ReasonBaseDenied}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Model(&DecisionRecord{}).
		Where("id = ?", old.ID).
		Update("created_at", time.Now().AddDate(0, 0, -120)).Error)

	fresh := DecisionRecord{UserID: "u2", Permission: "payroll.read", Reason: access.ReasonBaseDenied}
	require.NoError(t, db.Create(&fresh).Error)

	removed, err := recorder.CleanupOlderThan(ctx, 90)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []DecisionRecord
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "u2", remaining[0].UserID)

	removed, err = recorder.CleanupOlderThan(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestJanitorRunOnce(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder(db)

	old := DecisionRecord{UserID: "u1", Permission: "payroll.read", Reason: access.ReasonBaseDenied}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Model(&DecisionRecord{}).
		Where("id = ?", old.ID).
		Update("created_at", time.Now().AddDate(0, 0, -10)).Error)

	janitor := NewJanitor(recorder, WithRetentionDays(7))
	require.NoError(t, janitor.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&DecisionRecord{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestJanitorCleansUpAfterStop(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder(db)

	old := DecisionRecord{UserID: "u1", Permission: "payroll.read", Reason: access.ReasonBaseDenied}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Model(&DecisionRecord{}).
		Where("id = ?", old.ID).
		Update("created_at", time.Now().AddDate(0, 0, -10)).Error)

	janitor := NewJanitor(recorder, WithRetentionDays(7))
	require.NoError(t, janitor.Start())

	// The shutdown sequence drains the scheduler first, then runs one final
	// cleanup on a context that is still live.
	<-janitor.Stop().Done()
	require.NoError(t, janitor.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&DecisionRecord{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestJanitorWithoutRecorderIsNoop(t *testing.T) {
	janitor := NewJanitor(nil)
	require.NoError(t, janitor.Start())
	require.NoError(t, janitor.RunOnce(context.Background()))
	janitor.Stop()
}
