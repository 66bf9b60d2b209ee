package capability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	initConf map[string]any
	closed   bool
}

func (f *fakeSource) Init(_ context.Context, _ Env, conf map[string]any) error {
	f.initConf = conf
	return nil
}

func (f *fakeSource) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeSource) Fetch(_ context.Context, params map[string]any) (map[string]any, error) {
	return map[string]any{"echo": params["q"]}, nil
}

func TestRegisterAndNew(t *testing.T) {
	Register("test_source", func() Implementation { return &fakeSource{} })

	impl, err := New("test_source")
	require.NoError(t, err)
	require.IsType(t, &fakeSource{}, impl)

	_, err = New("no_such_driver")
	assert.Error(t, err)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("dup_driver", func() Implementation { return &fakeSource{} })
	assert.Panics(t, func() {
		Register("dup_driver", func() Implementation { return &fakeSource{} })
	})
}

func TestInvokeDispatch(t *testing.T) {
	src := &fakeSource{}

	out, err := Invoke(context.Background(), src, KindDataSource, map[string]any{"q": "atlanta"})
	require.NoError(t, err)
	assert.Equal(t, "atlanta", out["echo"])

	// fakeSource is not a Model; kind mismatch must fail, not panic.
	_, err = Invoke(context.Background(), src, KindModel, nil)
	assert.Error(t, err)

	_, err = Invoke(context.Background(), src, Kind("bogus"), nil)
	assert.Error(t, err)
}

func TestTransientMarking(t *testing.T) {
	base := errors.New("connection reset")
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(Transient(base)))
	assert.True(t, IsTransient(fmt.Errorf("fetch failed: %w", Transient(base))))
	assert.Nil(t, Transient(nil))
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindDataSource.Valid())
	assert.True(t, KindModel.Valid())
	assert.True(t, KindProcessor.Valid())
	assert.False(t, Kind("widget").Valid())
}
