package requestid

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"testing/iotest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ReturnsUUID(t *testing.T) {
	id := New()

	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.False(t, IsFallback(id))
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGenerator_FallbackWhenRandomFails(t *testing.T) {
	g := NewGenerator(iotest.ErrReader(errors.New("entropy exhausted")))
	g.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	id := g.New()

	assert.True(t, IsFallback(id))
	assert.Regexp(t, `^rid_[0-9a-z]+_[0-9a-z]+$`, id)
	assert.NotEqual(t, id, g.New())
}

func TestEnsureIdempotencyKey_PreservesCanonical(t *testing.T) {
	h := http.Header{}
	h.Set("Idempotency-Key", "abc")

	out := EnsureIdempotencyKey(h)

	assert.Equal(t, "abc", out.Get(HeaderIdempotencyKey))
	assert.Len(t, out.Values(HeaderIdempotencyKey), 1)
}

func TestEnsureIdempotencyKey_PreservesLowercaseMapKey(t *testing.T) {
	h := http.Header{"idempotency-key": []string{"abc"}}

	out := EnsureIdempotencyKey(h)

	assert.Equal(t, []string{"abc"}, out["idempotency-key"])
	assert.Empty(t, out.Get(HeaderIdempotencyKey))
}

func TestEnsureIdempotencyKey_PreservesMixedCaseMapKey(t *testing.T) {
	h := http.Header{"IDEMPOTENCY-KEY": []string{"xyz"}}

	out := EnsureIdempotencyKey(h)

	assert.Equal(t, []string{"xyz"}, out["IDEMPOTENCY-KEY"])
	assert.Empty(t, out.Get(HeaderIdempotencyKey))
}

func TestEnsureIdempotencyKey_GeneratesWhenAbsent(t *testing.T) {
	out := EnsureIdempotencyKey(http.Header{"Content-Type": []string{"application/json"}})

	assert.NotEmpty(t, out.Get(HeaderIdempotencyKey))
	assert.Equal(t, "application/json", out.Get("Content-Type"))
}

func TestEnsureIdempotencyKey_EmptyValueIsReplaced(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderIdempotencyKey, "")

	out := ensureIdempotencyKey(h, func() string { return "generated" })

	assert.Equal(t, "generated", out.Get(HeaderIdempotencyKey))
}

func TestEnsureIdempotencyKey_NilHeader(t *testing.T) {
	out := ensureIdempotencyKey(nil, func() string { return "generated" })

	require.NotNil(t, out)
	assert.Equal(t, "generated", out.Get(HeaderIdempotencyKey))
}

func TestIdempotencyKeyContext(t *testing.T) {
	assert.Empty(t, IdempotencyKeyFromContext(context.Background()))

	ctx := WithIdempotencyKey(context.Background(), "pinned")
	assert.Equal(t, "pinned", IdempotencyKeyFromContext(ctx))
}
