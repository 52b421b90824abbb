//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayGrowsExponentially(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     10 * time.Second,
	}
	assert.Equal(t, 100*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 400*time.Millisecond, p.NextDelay(3))
}

func TestNextDelayCapsAtMaxInterval(t *testing.T) {
	p := RetryPolicy{
		InitialInterval: time.Second,
		BackoffFactor:   10.0,
		MaxInterval:     3 * time.Second,
	}
	assert.Equal(t, 3*time.Second, p.NextDelay(5))
}

func TestNextDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     time.Second,
		Jitter:          true,
	}
	for i := 0; i < 50; i++ {
		d := p.NextDelay(2)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 400*time.Millisecond)
	}
}

func TestNextDelayClampsInvalidInputs(t *testing.T) {
	p := RetryPolicy{InitialInterval: 100 * time.Millisecond}
	assert.Equal(t, p.NextDelay(1), p.NextDelay(0))
	assert.Equal(t, p.NextDelay(1), p.NextDelay(-3))

	// A non-positive factor must not shrink the delay.
	p = RetryPolicy{InitialInterval: 100 * time.Millisecond, BackoffFactor: -1}
	assert.Equal(t, 100*time.Millisecond, p.NextDelay(3))
}
