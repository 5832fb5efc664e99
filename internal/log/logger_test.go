package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithJobID(ctx, "job-1")
	ctx = ContextWithTenantID(ctx, "tenant-a")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "job-1", JobIDFromContext(ctx))
	assert.Equal(t, "tenant-a", TenantIDFromContext(ctx))
}

func TestContextMissingValues(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, JobIDFromContext(nil)) //nolint:staticcheck // nil context tolerated on purpose
}

func TestWithComponent(t *testing.T) {
	l := WithComponent("test")
	// Must not panic and must be usable.
	l.Debug().Msg("component logger works")
}
