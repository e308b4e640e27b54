package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(bookingCreated.WithLabelValues("success"))
	IncBookingCreated("success")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingCreated.WithLabelValues("success")))

	before = testutil.ToFloat64(notificationsSent.WithLabelValues("new_booking", "failed"))
	IncNotification("new_booking", "failed")
	assert.Equal(t, before+1, testutil.ToFloat64(notificationsSent.WithLabelValues("new_booking", "failed")))
}
