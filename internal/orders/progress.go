package orders

import (
	"context"
	"time"
)

type ProgressNode struct {
	Name string     `json:"name"`
	Time *time.Time `json:"time,omitempty"`
}

type ProgressProvider interface {
	Milestones(ctx context.Context, o *Order, lineID string) ([]ProgressNode, error)
}

// TimelineProgress derives milestones from the order's own timestamps.
type TimelineProgress struct{}

func (TimelineProgress) Milestones(_ context.Context, o *Order, _ string) ([]ProgressNode, error) {
	created := o.CreateTime
	nodes := []ProgressNode{{Name: StatusNoPay.ProgressName(), Time: &created}}
	if o.PayTime != nil {
		nodes = append(nodes, ProgressNode{Name: StatusPayed.ProgressName(), Time: o.PayTime})
	}
	if o.FinishTime != nil {
		st := StatusFinished
		if o.Status == StatusEnrolled {
			st = StatusEnrolled
		}
		nodes = append(nodes, ProgressNode{Name: st.ProgressName(), Time: o.FinishTime})
	}
	if o.CloseTime != nil {
		nodes = append(nodes, ProgressNode{Name: StatusClosed.ProgressName(), Time: o.CloseTime})
	}
	if o.Status == StatusRefunded {
		nodes = append(nodes, ProgressNode{Name: StatusRefunded.ProgressName()})
	}
	return nodes, nil
}
