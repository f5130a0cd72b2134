package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Edits(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.EditStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.editsInFlight))

	c.EditFinished("gemini", "success", 2*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.editsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.editsTotal.WithLabelValues("gemini", "success")))

	c.EditStarted()
	c.EditFinished("gemini", "no-image-part", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.editsTotal.WithLabelValues("gemini", "no-image-part")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.editsTotal))
}

func TestCollector_Uploads(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.RecordUpload("ok", 2048)
	c.RecordUpload("ok", 4096)
	c.RecordUpload("rejected", 0)
	c.RecordSecurityIncident()
	c.SetActiveSessions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.uploadsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploadsTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.securityIncidents))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activeSessions))
}
