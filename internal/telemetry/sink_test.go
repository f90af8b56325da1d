package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSink_DeleteBatch_RejectsBlankDeviceID(t *testing.T) {
	s := &Sink{}
	now := time.Now()
	err := s.DeleteBatch(context.Background(), "", now.Add(-time.Hour), now)
	assert.Error(t, err)
}
