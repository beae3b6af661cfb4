package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tallyhr/accesscore/internal/access"
)

func testIdentity() access.Identity {
	return access.Identity{
		UserID:             "u1",
		Role:               "manager",
		DepartmentID:       "d1",
		ManagedDepartments: []string{"d1", "d2"},
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)

	svc, err := NewService(Config{Secret: "test-secret"})
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestGenerateValidateRoundTrip(t *testing.T) {
	svc, err := NewService(Config{Secret: "test-secret", Issuer: "accesscore"})
	require.NoError(t, err)

	token, err := svc.Generate(testIdentity())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "manager", claims.Role)
	require.Equal(t, "d1", claims.DepartmentID)
	require.Equal(t, []string{"d1", "d2"}, claims.ManagedDepartments)
	require.Equal(t, "accesscore", claims.Issuer)

	id := claims.Identity()
	require.Equal(t, testIdentity(), id)
}

func TestGenerateRequiresUserID(t *testing.T) {
	svc, err := NewService(Config{Secret: "test-secret"})
	require.NoError(t, err)

	_, err = svc.Generate(access.Identity{Role: "employee"})
	require.Error(t, err)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, err := NewService(Config{Secret: "secret-a"})
	require.NoError(t, err)
	verifier, err := NewService(Config{Secret: "secret-b"})
	require.NoError(t, err)

	token, err := issuer.Generate(testIdentity())
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	require.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	issuer, err := NewService(Config{Secret: "test-secret", Issuer: "other-service"})
	require.NoError(t, err)
	verifier, err := NewService(Config{Secret: "test-secret", Issuer: "accesscore"})
	require.NoError(t, err)

	token, err := issuer.Generate(testIdentity())
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	require.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issued := time.Now().Add(-time.Hour)
	past, err := NewService(Config{
		Secret: "test-secret",
		TTL:    time.Minute,
		Clock:  func() time.Time { return issued },
	})
	require.NoError(t, err)

	token, err := past.Generate(testIdentity())
	require.NoError(t, err)

	present, err := NewService(Config{Secret: "test-secret"})
	require.NoError(t, err)

	_, err = present.Validate(token)
	require.Error(t, err)
}

func TestValidateRejectsEmptyToken(t *testing.T) {
	svc, err := NewService(Config{Secret: "test-secret"})
	require.NoError(t, err)

	_, err = svc.Validate("")
	require.Error(t, err)

	_, err = svc.Validate("not-a-jwt")
	require.Error(t, err)
}
