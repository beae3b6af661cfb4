package events

import "github.com/tallyhr/accesscore/internal/querycache"

// Mutation context keys the built-in dynamic rules understand.
const (
	CtxEmployeeID   = "employee_id"
	CtxDepartmentID = "department_id"
	CtxPeriod       = "period"
	CtxReportID     = "report_id"
)

// NewDefaultRegistry builds the registry covering the platform's core
// mutations. Callers extend it through Register for module-specific events.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.MustRegister("employee.created", Rule{
		StaticKeys: []querycache.Key{
			querycache.NewKey("employees"),
			querycache.NewKey("departments", "headcount"),
		},
		DynamicKeys: func(ectx Context) []querycache.Key {
			if id := ectx.String(CtxDepartmentID); id != "" {
				return []querycache.Key{querycache.NewKey("departments", id, "members")}
			}
			return nil
		},
	})

	r.MustRegister("employee.updated", Rule{
		StaticKeys: []querycache.Key{querycache.NewKey("employees")},
		DynamicKeys: func(ectx Context) []querycache.Key {
			var keys []querycache.Key
			if id := ectx.String(CtxEmployeeID); id != "" {
				keys = append(keys, querycache.NewKey("employees", id))
			}
			if id := ectx.String(CtxDepartmentID); id != "" {
				keys = append(keys, querycache.NewKey("departments", id, "members"))
			}
			return keys
		},
	})

	r.MustRegister("employee.terminated", Rule{
		StaticKeys: []querycache.Key{
			querycache.NewKey("employees"),
			querycache.NewKey("departments", "headcount"),
			querycache.NewKey("payroll", "pending"),
		},
		DynamicKeys: func(ectx Context) []querycache.Key {
			if id := ectx.String(CtxEmployeeID); id != "" {
				return []querycache.Key{
					querycache.NewKey("employees", id),
					querycache.NewKey("payroll", "employee", id),
				}
			}
			return nil
		},
	})

	r.MustRegister("department.updated", Rule{
		StaticKeys: []querycache.Key{querycache.NewKey("departments")},
		DynamicKeys: func(ectx Context) []querycache.Key {
			if id := ectx.String(CtxDepartmentID); id != "" {
				return []querycache.Key{querycache.NewKey("departments", id)}
			}
			return nil
		},
	})

	r.MustRegister("payroll.finalized", Rule{
		StaticKeys: []querycache.Key{
			querycache.NewKey("payroll"),
			querycache.NewKey("reports", "payroll"),
		},
		DynamicKeys: func(ectx Context) []querycache.Key {
			var keys []querycache.Key
			if id := ectx.String(CtxEmployeeID); id != "" {
				keys = append(keys, querycache.NewKey("payroll", "employee", id))
			}
			if period := ectx.String(CtxPeriod); period != "" {
				keys = append(keys, querycache.NewKey("payroll", "period", period))
			}
			return keys
		},
	})

	r.MustRegister("report.published", Rule{
		StaticKeys: []querycache.Key{querycache.NewKey("reports")},
		DynamicKeys: func(ectx Context) []querycache.Key {
			if id := ectx.String(CtxReportID); id != "" {
				return []querycache.Key{querycache.NewKey("reports", id)}
			}
			return nil
		},
	})

	return r
}
