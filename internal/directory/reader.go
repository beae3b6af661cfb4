package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/internal/querycache"
	"github.com/tallyhr/accesscore/pkg/logger"
)

// DefaultReadTTL bounds how long directory lookups live in the query cache.
const DefaultReadTTL = 2 * time.Minute

// ErrUnknownResource signals a lookup for a resource the directory does not
// track.
var ErrUnknownResource = errors.New("directory: unknown resource")

// Reader resolves ownership and department facts from the directory schema.
// It implements access.Directory. Lookups read through the query cache when
// one is attached; the event registry's rules evict the same key hierarchy.
type Reader struct {
	db    *gorm.DB
	store querycache.Store
	ttl   time.Duration
	log   *zap.Logger
}

// ReaderOption customises a Reader.
type ReaderOption func(*Reader)

// WithStore attaches a query cache for read-through lookups.
func WithStore(store querycache.Store) ReaderOption {
	return func(r *Reader) { r.store = store }
}

// WithReadTTL overrides the cache lifetime for directory lookups.
func WithReadTTL(ttl time.Duration) ReaderOption {
	return func(r *Reader) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewReader constructs a Reader over the database handle.
func NewReader(db *gorm.DB, opts ...ReaderOption) *Reader {
	r := &Reader{
		db:  db,
		ttl: DefaultReadTTL,
		log: logger.WithModule("directory"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PayrollOwner returns the employee owning the payroll record.
func (r *Reader) PayrollOwner(ctx context.Context, payrollID string) (string, error) {
	key := querycache.NewKey("payroll", payrollID, "owner")

	var owner string
	if r.cachedInto(ctx, key, &owner) {
		return owner, nil
	}

	var record PayrollRecord
	err := r.db.WithContext(ctx).Select("id", "employee_id").First(&record, "id = ?", payrollID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: payroll %s", ErrUnknownResource, payrollID)
	}
	if err != nil {
		return "", fmt.Errorf("directory: payroll owner: %w", err)
	}

	r.remember(ctx, key, record.EmployeeID)
	return record.EmployeeID, nil
}

// ReportMeta returns the report's creator and whether it is public.
func (r *Reader) ReportMeta(ctx context.Context, reportID string) (string, bool, error) {
	key := querycache.NewKey("reports", reportID, "meta")

	var meta struct {
		CreatorID string `json:"creator_id"`
		Public    bool   `json:"public"`
	}
	if r.cachedInto(ctx, key, &meta) {
		return meta.CreatorID, meta.Public, nil
	}

	var report Report
	err := r.db.WithContext(ctx).Select("id", "creator_id", "public").First(&report, "id = ?", reportID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, fmt.Errorf("%w: report %s", ErrUnknownResource, reportID)
	}
	if err != nil {
		return "", false, fmt.Errorf("directory: report meta: %w", err)
	}

	meta.CreatorID = report.CreatorID
	meta.Public = report.Public
	r.remember(ctx, key, meta)
	return report.CreatorID, report.Public, nil
}

// ResourceDepartment resolves the department a resource belongs to.
func (r *Reader) ResourceDepartment(ctx context.Context, resourceType access.ResourceType, resourceID string) (string, error) {
	var (
		key    querycache.Key
		lookup func(context.Context, string) (string, error)
	)

	switch resourceType {
	case access.ResourceEmployee:
		key = querycache.NewKey("employees", resourceID, "department")
		lookup = r.employeeDepartment
	case access.ResourcePayroll:
		key = querycache.NewKey("payroll", resourceID, "department")
		lookup = r.payrollDepartment
	case access.ResourceReport:
		key = querycache.NewKey("reports", resourceID, "department")
		lookup = r.reportDepartment
	case access.ResourceDepartment:
		return resourceID, nil
	default:
		return "", fmt.Errorf("%w: %s %s", ErrUnknownResource, resourceType, resourceID)
	}

	var department string
	if r.cachedInto(ctx, key, &department) {
		return department, nil
	}

	department, err := lookup(ctx, resourceID)
	if err != nil {
		return "", err
	}

	r.remember(ctx, key, department)
	return department, nil
}

func (r *Reader) employeeDepartment(ctx context.Context, id string) (string, error) {
	var employee Employee
	err := r.db.WithContext(ctx).Select("id", "department_id").First(&employee, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: employee %s", ErrUnknownResource, id)
	}
	if err != nil {
		return "", fmt.Errorf("directory: employee department: %w", err)
	}
	return employee.DepartmentID, nil
}

func (r *Reader) payrollDepartment(ctx context.Context, id string) (string, error) {
	var record PayrollRecord
	err := r.db.WithContext(ctx).Select("id", "department_id").First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: payroll %s", ErrUnknownResource, id)
	}
	if err != nil {
		return "", fmt.Errorf("directory: payroll department: %w", err)
	}
	return record.DepartmentID, nil
}

func (r *Reader) reportDepartment(ctx context.Context, id string) (string, error) {
	var report Report
	err := r.db.WithContext(ctx).Select("id", "department_id").First(&report, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: report %s", ErrUnknownResource, id)
	}
	if err != nil {
		return "", fmt.Errorf("directory: report department: %w", err)
	}
	return report.DepartmentID, nil
}

// ManagedDepartments lists the departments the user manages. Session
// construction uses it to populate the identity.
func (r *Reader) ManagedDepartments(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Department{}).
		Where("manager_id = ?", userID).
		Order("name").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("directory: managed departments: %w", err)
	}
	return ids, nil
}

func (r *Reader) cachedInto(ctx context.Context, key querycache.Key, out any) bool {
	if r.store == nil {
		return false
	}

	payload, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.log.Warn("query cache read failed", zap.String("key", key.String()), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		r.log.Warn("query cache payload malformed", zap.String("key", key.String()), zap.Error(err))
		return false
	}
	return true
}

func (r *Reader) remember(ctx context.Context, key querycache.Key, value any) {
	if r.store == nil {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, key, payload, r.ttl); err != nil {
		r.log.Warn("query cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
}
