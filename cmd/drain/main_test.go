package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_RejectsMemoryQueue(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("STORE_BACKEND", "chromem")
	t.Setenv("EMBEDDING_PROVIDER", "mock")

	var out bytes.Buffer

	assert.Equal(t, exitFailure, run(nil, &out))
	assert.Empty(t, out.String())
}

func TestRun_InvalidFlag(t *testing.T) {
	var out bytes.Buffer

	assert.Equal(t, exitFailure, run([]string{"-max-passes", "many"}, &out))
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("INDEXER_BATCH_SIZE", "500")

	var out bytes.Buffer

	assert.Equal(t, exitFailure, run(nil, &out))
}
