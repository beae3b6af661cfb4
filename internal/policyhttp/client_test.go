package policyhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tallyhr/accesscore/internal/access"
	apperrors "github.com/tallyhr/accesscore/pkg/errors"
)

func callerContext() access.PermissionContext {
	return access.PermissionContext{
		UserID:             "u1",
		Role:               "manager",
		DepartmentID:       "d1",
		ManagedDepartments: []string{"d1", "d2"},
		Resource: &access.ResourceDescriptor{
			Type: access.ResourcePayroll,
			ID:   "p-42",
		},
	}
}

func TestNewRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative/path", "example.com"} {
		_, err := New(raw)
		require.Error(t, err, "url %q", raw)
	}

	client, err := New("http://policy.internal:8080")
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestEvaluateSendsRequestAndDecodesDecision(t *testing.T) {
	var captured evaluateRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/evaluate", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(evaluateResponse{Allowed: true, Reason: "policy matched"})
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL, WithToken("svc-token"))
	require.NoError(t, err)

	decision, err := client.Evaluate(context.Background(), "payroll.read", callerContext())
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, "policy matched", decision.Reason)

	require.Equal(t, "Bearer svc-token", gotAuth)
	require.Equal(t, "payroll.read", captured.Permission)
	require.Equal(t, "u1", captured.Context.UserID)
	require.Equal(t, "payroll", captured.Context.ResourceType)
	require.Equal(t, "p-42", captured.Context.ResourceID)
	require.Equal(t, []string{"d1", "d2"}, captured.Context.ManagedDepartments)
}

func TestEvaluateBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/evaluate-batch", r.URL.Path)

		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.ElementsMatch(t, []string{"payroll.read", "reports.create"}, req.Permissions)

		json.NewEncoder(w).Encode(batchResponse{Results: map[string]evaluateResponse{
			"payroll.read":   {Allowed: true},
			"reports.create": {Allowed: false, Reason: "role too low"},
		}})
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL)
	require.NoError(t, err)

	decisions, err := client.EvaluateBatch(context.Background(),
		[]access.Permission{"payroll.read", "reports.create"}, callerContext())
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	require.True(t, decisions["payroll.read"].Allowed)
	require.False(t, decisions["reports.create"].Allowed)
	require.Equal(t, "role too low", decisions["reports.create"].Reason)
}

func TestServerErrorsAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL)
	require.NoError(t, err)

	_, err = client.Evaluate(context.Background(), "payroll.read", callerContext())
	require.Error(t, err)
	require.True(t, access.IsTransient(err))
}

func TestTransportFailuresAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	_, err = client.Evaluate(context.Background(), "payroll.read", callerContext())
	require.Error(t, err)
	require.True(t, access.IsTransient(err))
}

func TestTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client, err := New(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = client.Evaluate(context.Background(), "payroll.read", callerContext())
	require.Error(t, err)
	require.True(t, access.IsTransient(err))
	require.True(t, IsTimeout(err))
}

func TestClientErrorsAreNotTransient(t *testing.T) {
	cases := []struct {
		status int
		expect error
	}{
		{http.StatusUnauthorized, apperrors.ErrUnauthorized},
		{http.StatusForbidden, apperrors.ErrForbidden},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		client, err := New(srv.URL)
		require.NoError(t, err)

		_, err = client.Evaluate(context.Background(), "payroll.read", callerContext())
		require.ErrorIs(t, err, tc.expect)
		require.False(t, access.IsTransient(err), "status %d must not trigger fallback", tc.status)

		srv.Close()
	}
}

func TestUnexpectedStatusBecomesAppError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL)
	require.NoError(t, err)

	_, err = client.Evaluate(context.Background(), "payroll.read", callerContext())
	require.Error(t, err)
	require.False(t, access.IsTransient(err))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "POLICY_STATUS_418", appErr.Code)
}
