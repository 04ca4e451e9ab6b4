package shared

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-deals/internal/platform/httpx"
)

// ActorClaims is the token payload identifying an agent.
type ActorClaims struct {
	ActorID  int64  `json:"actor_id"`
	TenantID int64  `json:"tenant_id,omitempty"`
	AgencyID int64  `json:"agency_id,omitempty"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ActorVerifier validates HS256 bearer tokens issued by the identity service.
type ActorVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewActorVerifier constructs a verifier. An empty issuer skips the issuer check.
func NewActorVerifier(secret, issuer string) *ActorVerifier {
	return &ActorVerifier{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 2 * time.Minute,
		now:    time.Now,
	}
}

// Sign issues a token for the actor; used by tooling and tests.
func (v *ActorVerifier) Sign(actor Actor, ttl time.Duration) (string, error) {
	now := v.now()
	claims := ActorClaims{
		ActorID:  actor.ID,
		TenantID: actor.TenantID,
		AgencyID: actor.AgencyID,
		Name:     actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.ID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses the token and returns the actor it identifies.
func (v *ActorVerifier) Verify(token string) (*Actor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &ActorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := claims.ActorID
	if id == 0 && claims.Subject != "" {
		if parsedID, convErr := strconv.ParseInt(claims.Subject, 10, 64); convErr == nil {
			id = parsedID
		}
	}
	if id <= 0 {
		return nil, fmt.Errorf("%w: no actor", ErrInvalidToken)
	}
	return &Actor{ID: id, TenantID: claims.TenantID, AgencyID: claims.AgencyID, Name: claims.Name}, nil
}

// RequireActor rejects requests without a valid bearer token and stores the actor in context.
func (v *ActorVerifier) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := v.Verify(bearerToken(r))
		if err != nil {
			detail := ErrInvalidToken.Error()
			if errors.Is(err, ErrMissingToken) {
				detail = ErrMissingToken.Error()
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="deals"`)
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", detail)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
