package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusNoPay, StatusPayed))
	assert.True(t, CanTransition(StatusNoPay, StatusClosed))
	assert.True(t, CanTransition(StatusClosed, StatusPayed))

	assert.False(t, CanTransition(StatusPayed, StatusClosed))
	assert.False(t, CanTransition(StatusEnrolled, StatusClosed))
	assert.False(t, CanTransition(StatusEnrolled, StatusPayed))
	assert.False(t, CanTransition(StatusPayed, StatusPayed))
	assert.False(t, CanTransition("BOGUS", StatusPayed))
}

func TestStatusFinal(t *testing.T) {
	for _, st := range []Status{StatusPayed, StatusEnrolled, StatusFinished, StatusRefunded} {
		assert.True(t, st.Final(), st)
	}
	assert.False(t, StatusNoPay.Final())
	assert.False(t, StatusClosed.Final())
	assert.False(t, Status("BOGUS").Final())
}

func TestRefundable(t *testing.T) {
	cases := []struct {
		status     Status
		inProgress bool
		want       bool
	}{
		{StatusPayed, false, true},
		{StatusFinished, false, true},
		{StatusPayed, true, false},
		{StatusNoPay, false, false},
		{StatusClosed, false, false},
		{StatusEnrolled, false, false},
		{StatusRefunded, false, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Refundable(c.status, c.inProgress), "%s/%v", c.status, c.inProgress)
	}
}

func TestRefundStatusInProgress(t *testing.T) {
	assert.True(t, RefundPendingApproval.InProgress())
	assert.True(t, RefundApproved.InProgress())
	for _, r := range []RefundStatus{RefundNone, RefundRejected, RefundCancelled, RefundSucceeded, RefundFailed} {
		assert.False(t, r.InProgress(), r)
	}

	inProgress, err := StoredRefundStatus{}.InProgress(context.Background(), OrderLine{RefundStatus: RefundApproved})
	assert.NoError(t, err)
	assert.True(t, inProgress)
}

func TestStatusLabels(t *testing.T) {
	assert.Equal(t, "awaiting payment", StatusNoPay.Desc())
	assert.Equal(t, "payment succeeded", StatusPayed.ProgressName())
	assert.Equal(t, "MYSTERY", Status("MYSTERY").Desc())
	assert.False(t, Status("MYSTERY").Valid())
	assert.True(t, StatusRefunded.Valid())
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("handler: %w", withDetail(ErrCourseUnavailable, "course c9 cannot be purchased"))
	assert.ErrorIs(t, err, ErrCourseUnavailable)
	assert.NotErrorIs(t, err, ErrCourseNotFree)
	assert.Equal(t, KindBusinessRule, KindOf(err))
	assert.False(t, Retryable(err))

	cause := errors.New("timeout")
	ext := external("catalog", cause)
	assert.ErrorIs(t, ext, cause)
	assert.True(t, Retryable(ext))
	assert.Equal(t, KindUnknown, KindOf(cause))
	assert.Contains(t, ext.Error(), "EXTERNAL_SERVICE_ERROR")
}
