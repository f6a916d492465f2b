package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-unit-tests-only"

func TestVerify_RoundTrip(t *testing.T) {
	want := Identity{UserID: uuid.New(), Role: RoleDoctor, Name: "Sofía Paredes", Email: "sofia.paredes@cardio.local"}

	token, err := Sign(testSecret, want, time.Hour)
	require.NoError(t, err)

	got, err := NewVerifier(testSecret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVerify_Rejects(t *testing.T) {
	id := Identity{UserID: uuid.New(), Role: RolePatient}

	wrongKey, err := Sign("other-secret", id, time.Hour)
	require.NoError(t, err)

	expired, err := Sign(testSecret, id, -time.Minute)
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{ID: id.UserID.String(), Role: "ROOT"}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	badID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{ID: "42", Role: string(RolePatient)}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: id.UserID.String(), Role: string(RolePatient)}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"wrong key": wrongKey,
		"expired":   expired,
		"bad role":  badRole,
		"bad id":    badID,
		"alg none":  unsigned,
		"not a jwt": "abc.def",
	}
	v := NewVerifier(testSecret)
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func protected(v *Verifier, roles ...Role) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := FromContext(r.Context())
		_, _ = w.Write([]byte(id.UserID.String()))
	})
	return Authenticate(v)(RequireRole(roles...)(ok))
}

func decodeDetails(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["details"]
}

func TestAuthenticate_MissingAndInvalid(t *testing.T) {
	h := protected(NewVerifier(testSecret), RolePatient)

	tests := []struct {
		name    string
		header  string
		details string
	}{
		{"missing", "", msgTokenRequired},
		{"basic auth", "Basic dXNlcjpwYXNz", msgTokenRequired},
		{"empty bearer", "Bearer ", msgTokenRequired},
		{"garbage", "Bearer not-a-token", msgTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.details, decodeDetails(t, rec))
		})
	}
}

func TestRequireRole(t *testing.T) {
	v := NewVerifier(testSecret)
	h := protected(v, RolePatient, RoleAdmin)

	for _, tc := range []struct {
		role Role
		want int
	}{
		{RolePatient, http.StatusOK},
		{RoleAdmin, http.StatusOK},
		{RoleDoctor, http.StatusForbidden},
	} {
		id := Identity{UserID: uuid.New(), Role: tc.role}
		token, err := Sign(testSecret, id, time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, tc.want, rec.Code, "role %s", tc.role)
		if tc.want == http.StatusOK {
			assert.Equal(t, id.UserID.String(), rec.Body.String())
		} else {
			assert.Equal(t, msgForbidden, decodeDetails(t, rec))
		}
	}
}
