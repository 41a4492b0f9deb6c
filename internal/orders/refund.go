package orders

import "context"

// RefundStatus is owned by the refund service; this package only reads it.
type RefundStatus string

const (
	RefundNone            RefundStatus = "NONE"
	RefundPendingApproval RefundStatus = "PENDING_APPROVAL"
	RefundApproved        RefundStatus = "APPROVED"
	RefundRejected        RefundStatus = "REJECTED"
	RefundCancelled       RefundStatus = "CANCELLED"
	RefundSucceeded       RefundStatus = "SUCCEEDED"
	RefundFailed          RefundStatus = "FAILED"
)

func (r RefundStatus) InProgress() bool {
	return r == RefundPendingApproval || r == RefundApproved
}

// Refundable is the per-line refund predicate.
func Refundable(orderStatus Status, refundInProgress bool) bool {
	return orderStatus.CanRefund() && !refundInProgress
}

type RefundStatusProvider interface {
	InProgress(ctx context.Context, line OrderLine) (bool, error)
}

// StoredRefundStatus answers from the refund status copied onto the line.
type StoredRefundStatus struct{}

func (StoredRefundStatus) InProgress(_ context.Context, line OrderLine) (bool, error) {
	return line.RefundStatus.InProgress(), nil
}
