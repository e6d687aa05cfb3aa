package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomquant/supervisor/pkg/types"
)

type stubHandler struct{}

func (stubHandler) Validate(spec types.Spec) error { return nil }
func (stubHandler) Execute(ctx context.Context, rc RunContext, spec types.Spec) (types.Result, error) {
	return types.Result{}, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("ping", stubHandler{}))

	h, err := r.Lookup("ping")
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.True(t, r.Has("ping"))
	assert.Equal(t, []string{"ping"}, r.JobTypes())
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("ping", stubHandler{}))

	err := r.Register("ping", stubHandler{})
	var dup *ErrDuplicateHandler
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, "ping", dup.JobType)
}

func TestLookupUnknown(t *testing.T) {
	r := New()
	_, err := r.Lookup("does_not_exist")
	var unknown *ErrUnknownJobType
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "does_not_exist", unknown.JobType)
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := New()
	r.MustRegister("ping", stubHandler{})
	assert.Panics(t, func() {
		r.MustRegister("ping", stubHandler{})
	})
}

func TestHasUnregistered(t *testing.T) {
	r := New()
	assert.False(t, r.Has("unknown"))
}
