package requestid

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// HeaderRequestID tags every outbound request for log correlation.
	HeaderRequestID = "X-Request-Id"
	// HeaderIdempotencyKey lets the backend deduplicate retried mutations.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks a response replayed for a repeated key.
	HeaderIdempotentReplay = "X-Idempotent-Replay"

	// fallbackPrefix marks identifiers that were not produced by the UUID source.
	fallbackPrefix = "rid_"
)

// Generator produces opaque per-request identifiers. The zero value is not
// usable; use NewGenerator or the package-level New.
type Generator struct {
	random io.Reader
	now    func() time.Time
}

// NewGenerator returns a Generator reading randomness from r. A nil reader
// selects crypto/rand through uuid.NewRandom.
func NewGenerator(r io.Reader) *Generator {
	return &Generator{random: r, now: time.Now}
}

var defaultGenerator = NewGenerator(nil)

// New returns a fresh identifier from the default generator.
func New() string {
	return defaultGenerator.New()
}

// New returns a v4 UUID string. If the random source fails it falls back to a
// best-effort "rid_<random>_<millis>" identifier.
func (g *Generator) New() string {
	var (
		id  uuid.UUID
		err error
	)
	if g.random != nil {
		id, err = uuid.NewRandomFromReader(g.random)
	} else {
		id, err = uuid.NewRandom()
	}
	if err == nil {
		return id.String()
	}
	return g.fallback()
}

// fallback makes no uniqueness promise beyond "unlikely to collide within a
// single client session". Do not use it as a storage key.
func (g *Generator) fallback() string {
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	return fallbackPrefix +
		strconv.FormatUint(rand.Uint64(), 36) + "_" +
		strconv.FormatInt(now().UnixMilli(), 36)
}

// IsFallback reports whether id was produced by the fallback path.
func IsFallback(id string) bool {
	return strings.HasPrefix(id, fallbackPrefix)
}

// HasHeader reports whether h carries name under any spelling. http.Header
// canonicalizes keys set through Set/Add, but callers may also write the map
// directly with a lowercase key.
func HasHeader(h http.Header, name string) bool {
	if h == nil {
		return false
	}
	if h.Get(name) != "" {
		return true
	}
	for k, v := range h {
		if strings.EqualFold(k, name) && len(v) > 0 && v[0] != "" {
			return true
		}
	}
	return false
}

// EnsureIdempotencyKey attaches a generated Idempotency-Key to h unless one is
// already present. The caller's key is never replaced. A nil h yields a new
// header set.
func EnsureIdempotencyKey(h http.Header) http.Header {
	return ensureIdempotencyKey(h, New)
}

func ensureIdempotencyKey(h http.Header, gen func() string) http.Header {
	if h == nil {
		h = make(http.Header)
	}
	if HasHeader(h, HeaderIdempotencyKey) {
		return h
	}
	h.Set(HeaderIdempotencyKey, gen())
	return h
}

type contextKey string

const idempotencyKey contextKey = "idempotency_key"

// WithIdempotencyKey pins the key used for mutations issued with ctx, so a
// caller retrying the same logical operation sends the same key.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey, key)
}

// IdempotencyKeyFromContext returns the pinned key, or "" if none.
func IdempotencyKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKey).(string); ok {
		return key
	}
	return ""
}
