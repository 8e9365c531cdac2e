package safe

import (
	"errors"
	"sync"
	"testing"

	"shuttle/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallRecoversPanic(t *testing.T) {
	err := Call(func() error { panic("boom") })
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInternalServer))

	sentinel := errors.New("plain")
	assert.Equal(t, sentinel, Call(func() error { return sentinel }))
}

func TestGoSurvivesPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	Go("test", func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()
}

func TestMustNotNil(t *testing.T) {
	var p *int
	assert.Panics(t, func() { MustNotNil(p, "p") })
	assert.Panics(t, func() { MustNotNil(nil, "nil") })
	assert.NotPanics(t, func() { MustNotNil(1, "int") })
}
