package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chatwire/chatwire/internal/config"
)

func TestProvideHTTPClientsSeparatesTimeouts(t *testing.T) {
	cfg := config.Config{}
	cfg.AI.TimeoutSeconds = 180

	clients := provideHTTPClients(cfg)
	assert.Equal(t, 180*time.Second, clients.completion.Timeout())
	assert.Equal(t, config.DefaultEdgeTimeout*time.Second, clients.edge.Timeout())
	assert.NotEqual(t, clients.completion, clients.edge)
}
