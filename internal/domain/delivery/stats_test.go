package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestStats_DeliveryRate(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.DeliveryRate())
	assert.False(t, Stats{}.IsReliable())

	s := Stats{TotalScheduled: 20, TotalDelivered: 19, TotalFailed: 1}
	assert.InDelta(t, 0.95, s.DeliveryRate(), 1e-9)
	assert.True(t, s.IsReliable())

	s = Stats{TotalScheduled: 10, TotalDelivered: 9, TotalFailed: 1}
	assert.False(t, s.IsReliable())
}

func TestStats_LastAttemptMillis(t *testing.T) {
	assert.Zero(t, Stats{}.LastAttemptMillis())

	at := time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, at.UnixMilli(), Stats{LastAttemptAt: at}.LastAttemptMillis())
}

func TestStats_Apply(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000).UTC()

	s := Stats{}.Apply(NewAttempt(t0, true, nil))
	assert.Equal(t, int64(1), s.TotalScheduled)
	assert.Equal(t, int64(1), s.TotalDelivered)
	assert.True(t, s.LastAttemptSucceeded)
	assert.Nil(t, s.LastFailureReason)

	t1 := t0.Add(time.Hour)
	s = s.Apply(NewAttempt(t1, false, strPtr(ReasonQuotaExceeded)))
	assert.Equal(t, int64(2), s.TotalScheduled)
	assert.Equal(t, int64(1), s.TotalFailed)
	assert.False(t, s.LastAttemptSucceeded)
	assert.Equal(t, ReasonQuotaExceeded, *s.LastFailureReason)
	assert.Equal(t, t1, s.LastAttemptAt)
	assert.True(t, s.Consistent())
}

func TestNewAttempt_SuccessDropsReason(t *testing.T) {
	a := NewAttempt(time.Now(), true, strPtr("ignored"))
	assert.True(t, a.Succeeded())
	assert.Nil(t, a.Reason)
}

func TestResult_ReasonPtr(t *testing.T) {
	assert.Nil(t, Delivered().ReasonPtr())

	r := Failed("", nil)
	if assert.NotNil(t, r.ReasonPtr()) {
		assert.Equal(t, ReasonUnknown, *r.ReasonPtr())
	}
}
