package mongoutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"shuttle/tools/errs"
)

func TestValidateAndSetDefaults(t *testing.T) {
	c := &Config{Address: []string{"m1:27017", "m2:27017"}, Database: "shuttle", Username: "u", Password: "p"}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, defaultMaxPoolSize, c.MaxPoolSize)
	assert.Equal(t, defaultMaxRetry, c.MaxRetry)
	assert.Equal(t, "mongodb://u:p@m1:27017,m2:27017/shuttle?authSource=shuttle&maxPoolSize=100", c.Uri)

	c = &Config{Address: []string{"m1:27017"}, Database: "shuttle", AuthSource: "admin", MaxPoolSize: 5}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://m1:27017/shuttle?authSource=admin&maxPoolSize=5", c.Uri)

	c = &Config{Uri: "mongodb://localhost:27017"}
	assert.True(t, errors.Is(c.ValidateAndSetDefaults(), errs.ErrConfig))
	c = &Config{Database: "shuttle"}
	assert.True(t, errors.Is(c.ValidateAndSetDefaults(), errs.ErrConfig))
}

func TestShouldRetry(t *testing.T) {
	ctx := context.Background()
	assert.True(t, shouldRetry(ctx, errors.New("server selection timeout")))
	assert.False(t, shouldRetry(ctx, mongo.CommandError{Code: 18, Message: "auth failed"}))
	assert.True(t, shouldRetry(ctx, mongo.CommandError{Code: 91, Message: "shutting down"}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, shouldRetry(cancelled, errors.New("x")))
}
