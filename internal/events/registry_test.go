package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tallyhr/accesscore/internal/querycache"
)

func TestRegistryRegisterValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register("", Rule{StaticKeys: []querycache.Key{querycache.NewKey("x")}})
	require.ErrorIs(t, err, ErrEmptyEventName)

	err = r.Register("employee.created", Rule{})
	require.ErrorIs(t, err, ErrEmptyRule)

	rule := Rule{StaticKeys: []querycache.Key{querycache.NewKey("employees")}}
	require.NoError(t, r.Register("employee.created", rule))

	err = r.Register("employee.created", rule)
	require.ErrorIs(t, err, ErrDuplicateEvent)
}

func TestRegistryResolveUnknownEvent(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("ghost.event", nil)
	require.False(t, ok)
}

func TestRegistryResolveStaticAndDynamicKeys(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("payroll.finalized", Rule{
		StaticKeys: []querycache.Key{querycache.NewKey("payroll")},
		DynamicKeys: func(ectx Context) []querycache.Key {
			if id := ectx.String("employee_id"); id != "" {
				return []querycache.Key{querycache.NewKey("payroll", "employee", id)}
			}
			return nil
		},
	}))

	keys, ok := r.Resolve("payroll.finalized", Context{"employee_id": "e1"})
	require.True(t, ok)
	require.Len(t, keys, 2)
	require.Equal(t, "payroll", keys[0].String())
	require.Equal(t, "payroll:employee:e1", keys[1].String())

	keys, ok = r.Resolve("payroll.finalized", nil)
	require.True(t, ok)
	require.Len(t, keys, 1, "dynamic keys are skipped without context values")
}

func TestRegistryResolveDeduplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("department.updated", Rule{
		StaticKeys: []querycache.Key{querycache.NewKey("departments"), querycache.NewKey("departments")},
		DynamicKeys: func(Context) []querycache.Key {
			return []querycache.Key{querycache.NewKey("departments")}
		},
	}))

	keys, ok := r.Resolve("department.updated", nil)
	require.True(t, ok)
	require.Len(t, keys, 1)
}

func TestDefaultRegistryCoversCoreEvents(t *testing.T) {
	r := NewDefaultRegistry()

	for _, event := range []string{
		"employee.created",
		"employee.updated",
		"employee.terminated",
		"department.updated",
		"payroll.finalized",
		"report.published",
	} {
		_, ok := r.Resolve(event, nil)
		require.True(t, ok, "missing rule for %s", event)
	}
}

func TestDefaultRegistryPayrollFinalizedKeys(t *testing.T) {
	r := NewDefaultRegistry()

	keys, ok := r.Resolve("payroll.finalized", Context{
		CtxEmployeeID: "e1",
		CtxPeriod:     "2026-02",
	})
	require.True(t, ok)

	rendered := make([]string, 0, len(keys))
	for _, key := range keys {
		rendered = append(rendered, key.String())
	}
	require.ElementsMatch(t, []string{
		"payroll",
		"reports:payroll",
		"payroll:employee:e1",
		"payroll:period:2026-02",
	}, rendered)
}

func TestDefaultRegistryIsExtensible(t *testing.T) {
	r := NewDefaultRegistry()

	require.NoError(t, r.Register("benefits.enrolled", Rule{
		StaticKeys: []querycache.Key{querycache.NewKey("benefits")},
	}))

	keys, ok := r.Resolve("benefits.enrolled", nil)
	require.True(t, ok)
	require.Len(t, keys, 1)
}
