package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSConfig(t *testing.T) {
	all := corsConfig([]string{"https://a.example", "*"})
	assert.True(t, all.AllowAllOrigins)
	assert.Empty(t, all.AllowOrigins)

	listed := corsConfig([]string{"https://a.example"})
	assert.False(t, listed.AllowAllOrigins)
	assert.Equal(t, []string{"https://a.example"}, listed.AllowOrigins)
	assert.NoError(t, listed.Validate())
}
