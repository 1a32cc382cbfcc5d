package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/logger"
	"github.com/Laudkyle/aptbooks/pkg/middleware"
	"github.com/Laudkyle/aptbooks/pkg/requestid"
)

// ReplayHeader marks a response served from the idempotency store.
const ReplayHeader = requestid.HeaderIdempotentReplay

// Replay is a stored response to a mutating request.
type Replay struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
}

// ReplayStore keeps responses by idempotency key. Implementations must be
// safe for concurrent use.
type ReplayStore interface {
	// Get returns the stored replay, or nil when there is none.
	Get(ctx context.Context, key string) (*Replay, error)
	// Reserve claims key for an in-flight request. It returns false when the
	// key is already claimed or answered.
	Reserve(ctx context.Context, key string) (bool, error)
	// Save stores the answer for a reserved key.
	Save(ctx context.Context, key string, r Replay) error
	// Release drops a reservation without an answer.
	Release(ctx context.Context, key string) error
}

type memoryEntry struct {
	replay    *Replay
	expiresAt time.Time
}

// MemoryReplayStore is an in-memory ReplayStore. Entries expire after the TTL
// and are cleaned up lazily on access.
type MemoryReplayStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryReplayStore creates a store whose entries live for ttl.
func NewMemoryReplayStore(ttl time.Duration) *MemoryReplayStore {
	return &MemoryReplayStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// lookup returns the live entry for key. Caller holds mu.
func (s *MemoryReplayStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryReplayStore) Get(_ context.Context, key string) (*Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.replay == nil {
		return nil, nil
	}
	r := *e.replay
	return &r, nil
}

func (s *MemoryReplayStore) Reserve(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{expiresAt: s.now().Add(s.ttl)}
	return true, nil
}

func (s *MemoryReplayStore) Save(_ context.Context, key string, r Replay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{replay: &r, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryReplayStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of entries, expired ones included.
func (s *MemoryReplayStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// pendingTTL bounds how long a crashed request can hold a reservation.
const pendingTTL = 30 * time.Second

// RedisReplayStore keeps replays in Redis so several sandbox instances share
// them. A reservation is a SETNX lock next to the answer key.
type RedisReplayStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisReplayStore creates a Redis-backed store.
func NewRedisReplayStore(client redis.Cmdable, ttl time.Duration) *RedisReplayStore {
	return &RedisReplayStore{client: client, prefix: "aptbooks:idempotency:", ttl: ttl}
}

func (s *RedisReplayStore) answerKey(key string) string { return s.prefix + key }
func (s *RedisReplayStore) lockKey(key string) string   { return s.prefix + "lock:" + key }

func (s *RedisReplayStore) Get(ctx context.Context, key string) (*Replay, error) {
	data, err := s.client.Get(ctx, s.answerKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get replay: %w", err)
	}
	var r Replay
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode replay: %w", err)
	}
	return &r, nil
}

func (s *RedisReplayStore) Reserve(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.answerKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check replay: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	ok, err := s.client.SetNX(ctx, s.lockKey(key), "1", pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve key: %w", err)
	}
	return ok, nil
}

func (s *RedisReplayStore) Save(ctx context.Context, key string, r Replay) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode replay: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.answerKey(key), data, s.ttl)
	pipe.Del(ctx, s.lockKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save replay: %w", err)
	}
	return nil
}

func (s *RedisReplayStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("release key: %w", err)
	}
	return nil
}

// captureWriter tees the response so it can be stored.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Idempotency replays the first successful response to a mutating request
// carrying an Idempotency-Key. Keys are scoped to the caller, method and
// path. A key reused with a different body is rejected with 422, and a key
// whose first request is still running gets 409. Must run after Auth.
func Idempotency(store ReplayStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(requestid.HeaderIdempotencyKey)
			if key == "" || !isMutation(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			log := logger.FromContext(ctx)

			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				writeError(w, r, apierrors.InvalidInput("read request body: "+err.Error(), nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			fingerprint := hex.EncodeToString(sum[:])

			var userID string
			if claims := middleware.ClaimsFromContext(ctx); claims != nil {
				userID = claims.UserID
			}
			scoped := fmt.Sprintf("%s:%s:%s:%s", userID, r.Method, r.URL.Path, key)

			prior, err := store.Get(ctx, scoped)
			if err != nil {
				log.WarnContext(ctx, "idempotency lookup failed, processing anyway", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if prior != nil {
				if prior.Fingerprint != fingerprint {
					writeError(w, r, &apierrors.APIError{
						Status:  http.StatusUnprocessableEntity,
						Code:    "IDEMPOTENCY_KEY_REUSED",
						Message: "idempotency key was already used with a different request body",
					})
					return
				}
				log.DebugContext(ctx, "replaying idempotent response", slog.String("idempotency_key", key))
				if prior.ContentType != "" {
					w.Header().Set("Content-Type", prior.ContentType)
				}
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(prior.Status)
				_, _ = w.Write(prior.Body)
				return
			}

			ok, err := store.Reserve(ctx, scoped)
			if err != nil {
				log.WarnContext(ctx, "idempotency reservation failed, processing anyway", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeError(w, r, apierrors.Conflict("a request with this idempotency key is already in progress"))
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			// The response is already written; store bookkeeping must not
			// depend on the client still listening.
			bg := context.WithoutCancel(ctx)
			if cw.status >= 200 && cw.status < 300 {
				err = store.Save(bg, scoped, Replay{
					Fingerprint: fingerprint,
					Status:      cw.status,
					ContentType: cw.Header().Get("Content-Type"),
					Body:        cw.buf.Bytes(),
				})
			} else {
				err = store.Release(bg, scoped)
			}
			if err != nil {
				log.WarnContext(ctx, "failed to record idempotent response", slog.String("error", err.Error()))
			}
		})
	}
}
