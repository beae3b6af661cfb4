package directory

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BaseModel provides shared fields for all persistent models.
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures UUID identifiers are generated automatically.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Department groups employees and carries the manager assignment the
// department-scope checks resolve against.
type Department struct {
	BaseModel
	Name      string `gorm:"uniqueIndex;not null" json:"name"`
	ManagerID string `gorm:"type:uuid;index" json:"manager_id"`
}

// Employee is the directory record for a platform user.
type Employee struct {
	BaseModel
	Email        string         `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName  string         `gorm:"not null" json:"display_name"`
	Role         string         `gorm:"not null;default:employee;index" json:"role"`
	DepartmentID string         `gorm:"type:uuid;index" json:"department_id"`
	Department   *Department    `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
	Attributes   datatypes.JSON `json:"attributes,omitempty"`
	Active       bool           `gorm:"default:true" json:"active"`
}

// PayrollRecord binds a pay period to the employee it belongs to.
type PayrollRecord struct {
	BaseModel
	EmployeeID   string         `gorm:"type:uuid;not null;index" json:"employee_id"`
	Employee     *Employee      `gorm:"foreignKey:EmployeeID" json:"employee,omitempty"`
	DepartmentID string         `gorm:"type:uuid;index" json:"department_id"`
	Period       string         `gorm:"not null;index" json:"period"`
	GrossCents   int64          `json:"gross_cents"`
	NetCents     int64          `json:"net_cents"`
	Breakdown    datatypes.JSON `json:"breakdown,omitempty"`
	Finalized    bool           `gorm:"default:false" json:"finalized"`
}

// Report is an analytics artifact owned by its creator unless published.
type Report struct {
	BaseModel
	Title        string         `gorm:"not null" json:"title"`
	CreatorID    string         `gorm:"type:uuid;not null;index" json:"creator_id"`
	DepartmentID string         `gorm:"type:uuid;index" json:"department_id"`
	Public       bool           `gorm:"default:false;index" json:"public"`
	Parameters   datatypes.JSON `json:"parameters,omitempty"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
}
