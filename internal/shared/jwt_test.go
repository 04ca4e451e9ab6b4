package shared

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestActorVerifierRoundTrip(t *testing.T) {
	v := NewActorVerifier(testSecret, "odyssey-identity")
	token, err := v.Sign(Actor{ID: 1001, TenantID: 7, Name: "Rina"}, time.Hour)
	require.NoError(t, err)

	actor, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), actor.ID)
	assert.Equal(t, int64(7), actor.TenantID)
	assert.Equal(t, "Rina", actor.Name)
}

func TestActorVerifierRejects(t *testing.T) {
	v := NewActorVerifier(testSecret, "odyssey-identity")

	_, err := v.Verify("  ")
	assert.ErrorIs(t, err, ErrMissingToken)

	other := NewActorVerifier("another-secret-another-secret-xx", "odyssey-identity")
	token, err := other.Sign(Actor{ID: 1001}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewActorVerifier(testSecret, "somebody-else")
	token, err = wrongIssuer.Sign(Actor{ID: 1001}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	claims := ActorClaims{
		ActorID: 1001,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "odyssey-identity",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err = v.Sign(Actor{}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestActorVerifierExpiry(t *testing.T) {
	v := NewActorVerifier(testSecret, "")
	issued := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return issued }
	token, err := v.Sign(Actor{ID: 2002}, 10*time.Minute)
	require.NoError(t, err)

	v.now = func() time.Time { return issued.Add(11 * time.Minute) }
	_, err = v.Verify(token)
	require.NoError(t, err, "leeway covers small clock skew")

	v.now = func() time.Time { return issued.Add(time.Hour) }
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireActor(t *testing.T) {
	v := NewActorVerifier(testSecret, "")
	var seen *Actor
	handler := v.RequireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/deals/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Bearer")
	assert.Contains(t, rr.Body.String(), ErrMissingToken.Error())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deals/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Nil(t, seen)

	token, err := v.Sign(Actor{ID: 1001}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/deals/x", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, seen)
	assert.Equal(t, int64(1001), seen.ID)
}
