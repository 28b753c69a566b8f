/*
middleware.go - Session, access control and request hygiene

PURPOSE:
  Everything that runs before a handler: who is calling, may they reach
  this route group, are they calling too often, and is this a replay of
  a request already served.

SESSION:
  The caller presents an HS256 bearer token with user_id, role and
  location_id claims. The token is issued by the identity provider; this
  service only verifies it. Handlers read the result with SessionFrom.

ROLE GATE:
  RequireRole guards a route group by role. It is coarse: the per-request
  decision (is this my report? is this my own request?) is made by
  timeoff.Authorizer inside the service.

IDEMPOTENCY:
  POST requests carrying an Idempotency-Key header are de-duplicated in
  Redis per (route, user, key). The first response below 500 is stored
  and replayed; a concurrent duplicate gets 409 while the first is still
  running. An empty body is stored as null and replayed without a body.
  Without Redis the middleware is a no-op.

RATE LIMIT:
  One token bucket per user, kept in process. Buckets unused for longer
  than it takes them to refill (at least ten minutes) are swept.

SEE ALSO:
  - server.go: Where the middleware is mounted
  - errors.go: Error body written on rejection
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// ACCESS LOG
// =============================================================================

// AccessLog writes one line per request.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the verified identity of the caller.
type Session struct {
	UserID     string
	Role       timeoff.Role
	LocationID string
}

type sessionClaims struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	LocationID string `json:"location_id"`
	jwt.RegisteredClaims
}

type sessionKey struct{}

// SessionFrom returns the session attached by Authenticate.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// IssueToken signs a session token. Used by the identity provider side
// and by tests.
func IssueToken(secret []byte, s Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID:     s.UserID,
		Role:       string(s.Role),
		LocationID: s.LocationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticate verifies the bearer token and attaches the Session.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || raw == "" {
				writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "Missing bearer token", "")
				return
			}

			var claims sessionClaims
			token, err := parser.ParseWithClaims(raw, &claims, keyFunc)
			if err != nil || !token.Valid {
				msg := "Invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "Token expired"
				}
				writeError(w, http.StatusUnauthorized, CodeUnauthenticated, msg, "")
				return
			}

			role := timeoff.Role(claims.Role)
			if claims.UserID == "" || !role.Valid() {
				writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "Invalid token claims", "")
				return
			}

			s := Session{UserID: claims.UserID, Role: role, LocationID: claims.LocationID}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// RequireRole lets the request through only for the given roles.
func RequireRole(roles ...timeoff.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "Not authenticated", "")
				return
			}
			for _, role := range roles {
				if s.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, CodeForbidden, "Insufficient role", string(s.Role))
		})
	}
}

// =============================================================================
// RATE LIMIT
// =============================================================================

// limiterIdleTTL is the shortest time a bucket is kept after its last use.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// userLimiter keeps one token bucket per user. Buckets idle for longer than
// idle are swept, at most once per idle period, so the map tracks recently
// active users rather than every user ever seen.
type userLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	r         rate.Limit
	b         int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// newUserLimiter sizes idle so a swept bucket had refilled to its burst:
// dropping it never hands a user more tokens than waiting would have.
func newUserLimiter(rps float64, burst int) *userLimiter {
	idle := limiterIdleTTL
	if refill := float64(burst) / rps; refill > idle.Seconds() {
		idle = 24 * time.Hour
		if refill < idle.Seconds() {
			idle = time.Duration(refill * float64(time.Second))
		}
	}
	return &userLimiter{
		entries:   make(map[string]*limiterEntry),
		r:         rate.Limit(rps),
		b:         burst,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *userLimiter) get(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}

	e, ok := l.entries[userID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.r, l.b)}
		l.entries[userID] = e
	}
	e.lastSeen = now
	return e.lim
}

// sweep drops buckets unused for idle or longer. Callers hold mu.
func (l *userLimiter) sweep(now time.Time) {
	for id, e := range l.entries {
		if now.Sub(e.lastSeen) >= l.idle {
			delete(l.entries, id)
		}
	}
	l.lastSweep = now
}

// RateLimitByUser allows rps requests per second per user with the given
// burst. rps <= 0 disables the limit.
func RateLimitByUser(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newUserLimiter(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFrom(r.Context())
			if ok && !limiter.get(s.UserID).Allow() {
				writeError(w, http.StatusTooManyRequests, CodeRateLimited, "Too many requests", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

const idempotencyLockTTL = 30 * time.Second

// emptyBody stands in for a response without a body. json.RawMessage must
// hold valid JSON, so an empty one cannot be marshalled.
var emptyBody = json.RawMessage("null")

// storedResponse is what a replay sends back. A null Body replays as no
// body at all.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// recorder tees the response so it can be stored after the handler ran.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *recorder) Write(p []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(p)
	return rec.ResponseWriter.Write(p)
}

// Idempotency replays the stored response of a POST already served under the
// same Idempotency-Key. Redis failures are logged and the request proceeds.
func Idempotency(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rdb == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get("Idempotency-Key")
			if idemKey == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			s, _ := SessionFrom(ctx)
			route := r.URL.Path
			if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			cacheKey := fmt.Sprintf("idemp:%s:%s:%s", route, s.UserID, idemKey)
			lockKey := cacheKey + ":lock"
			log := logger.With(zap.String("idempotency_key", idemKey), zap.String("user_id", s.UserID))

			val, err := rdb.Get(ctx, cacheKey).Bytes()
			switch {
			case err == nil:
				var stored storedResponse
				jerr := json.Unmarshal(val, &stored)
				if jerr == nil {
					log.Debug("replaying stored response", zap.Int("status", stored.Status))
					w.Header().Set("Idempotent-Replayed", "true")
					if bytes.Equal(stored.Body, emptyBody) {
						w.WriteHeader(stored.Status)
						return
					}
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(stored.Status)
					w.Write(stored.Body)
					return
				}
				log.Warn("stored response unreadable, serving afresh", zap.Error(jerr))
			case !errors.Is(err, redis.Nil):
				log.Warn("idempotency lookup failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			acquired, err := rdb.SetNX(ctx, lockKey, "1", idempotencyLockTTL).Result()
			if err != nil {
				log.Warn("idempotency lock failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				writeError(w, http.StatusConflict, CodeInProgress, "A request with this Idempotency-Key is still being processed", "")
				return
			}
			defer rdb.Del(context.WithoutCancel(ctx), lockKey)

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 || rec.status >= http.StatusInternalServerError {
				return
			}
			body := json.RawMessage(bytes.TrimSpace(rec.body.Bytes()))
			switch {
			case len(body) == 0:
				log.Debug("response has no body, storing null", zap.Int("status", rec.status))
				body = emptyBody
			case !json.Valid(body):
				log.Warn("response body is not JSON, not stored", zap.Int("status", rec.status))
				return
			}
			payload, err := json.Marshal(storedResponse{Status: rec.status, Body: body})
			if err != nil {
				log.Warn("idempotency encode failed", zap.Error(err))
				return
			}
			if err := rdb.Set(context.WithoutCancel(ctx), cacheKey, payload, ttl).Err(); err != nil {
				log.Warn("idempotency store failed", zap.Error(err))
			}
		})
	}
}
