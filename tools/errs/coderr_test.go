package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrDecode.WrapMsg("bad payload", "id", "1-0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.False(t, errors.Is(err, ErrHandler))
	assert.Equal(t, DecodeError, Code(err))
	assert.Contains(t, err.Error(), "bad payload, id=1-0")

	// the sentinel itself stays untouched
	assert.Empty(t, ErrDecode.Detail)
}

func TestWrapCauseMatchesBoth(t *testing.T) {
	cause := errors.New("rpc unavailable")
	err := ErrHubRequest.WrapCause(cause, "getFids")
	assert.True(t, errors.Is(err, ErrHubRequest))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "rpc unavailable")

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, errors.Is(wrapped, ErrHubRequest))
	assert.Nil(t, ErrHubRequest.WrapCause(nil, "x"))
}

func TestCodeRelation(t *testing.T) {
	err := ErrPagination.WrapMsg("Unable to get all reactions for FID", "fid", 42)
	assert.True(t, errors.Is(err, ErrPagination))
	assert.True(t, errors.Is(err, ErrHubRequest))
	assert.False(t, errors.Is(ErrHubRequest.Wrap(), ErrPagination))

	r := newCodeRelation()
	require.Error(t, r.Add(1))
	require.NoError(t, r.Add(1, 2, 3))
	assert.True(t, r.Is(1, 3))
	assert.True(t, r.Is(2, 3))
	assert.False(t, r.Is(3, 1))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil))
	assert.Nil(t, WrapMsg(nil, "x"))
	assert.Equal(t, "boom, k=v", WrapMsg(errors.New("x"), "boom", "k", "v").Error()[:9])
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))

	err := ErrPanic("index out of range")
	assert.True(t, errors.Is(err, ErrInternalServer))
	assert.Contains(t, err.Error(), "index out of range")

	cause := errors.New("nil map")
	err = ErrPanic(cause)
	assert.True(t, errors.Is(err, cause))
}
