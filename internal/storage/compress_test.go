package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressPageRoundTrip(t *testing.T) {
	buf := make([]byte, PageSize)
	// Highly repetitive content compresses well under any reasonable budget.
	for i := range buf {
		buf[i] = byte(i % 4)
	}

	img, err := CompressPage(buf, PageSize/2)
	require.NoError(t, err)

	got, err := img.Decompress()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(buf, got))
}

func TestCompressPageRejectsWrongSize(t *testing.T) {
	_, err := CompressPage(make([]byte, PageSize-1), PageSize/2)
	assert.ErrorIs(t, err, ErrCompressFailed)
}

func TestCompressPageFailsWhenBudgetTooSmall(t *testing.T) {
	buf := make([]byte, PageSize)
	for i := range buf {
		buf[i] = byte(i) // incompressible-ish pattern
	}
	_, err := CompressPage(buf, 4)
	assert.ErrorIs(t, err, ErrCompressFailed)
}
