package orders

import (
	"context"
	"time"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	// keeps (PageNo-1)*PageSize far from overflowing the OFFSET
	maxPageNo       = 100000
)

type LineView struct {
	ID            string       `json:"id"`
	CourseID      string       `json:"courseId"`
	Name          string       `json:"name"`
	CoverURL      string       `json:"coverUrl"`
	ValidDuration int          `json:"validDuration"`
	Price         int64        `json:"price"`
	RealPayAmount int64        `json:"realPayAmount"`
	Status        Status       `json:"status"`
	RefundStatus  RefundStatus `json:"refundStatus"`
	CanRefund     bool         `json:"canRefund"`
}

type OrderSummary struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	StatusDesc     string     `json:"statusDesc"`
	TotalAmount    int64      `json:"totalAmount"`
	DiscountAmount int64      `json:"discountAmount"`
	RealAmount     int64      `json:"realAmount"`
	CreateTime     time.Time  `json:"createTime"`
	PayTime        *time.Time `json:"payTime,omitempty"`
	Lines          []LineView `json:"lines"`
}

type OrderPage struct {
	Total int64          `json:"total"`
	Pages int64          `json:"pages"`
	List  []OrderSummary `json:"list"`
}

type OrderDetailView struct {
	OrderSummary
	Message       string         `json:"message"`
	PayChannel    string         `json:"payChannel,omitempty"`
	PayOrderNo    string         `json:"payOrderNo,omitempty"`
	FinishTime    *time.Time     `json:"finishTime,omitempty"`
	CloseTime     *time.Time     `json:"closeTime,omitempty"`
	PayDeadline   *time.Time     `json:"payDeadline,omitempty"`
	ProgressNodes []ProgressNode `json:"progressNodes"`
}

func (q ListQuery) normalized() ListQuery {
	if q.PageNo < 1 {
		q.PageNo = 1
	}
	if q.PageNo > maxPageNo {
		q.PageNo = maxPageNo
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	return q
}

// QueryMyOrders returns a page of the user's orders, newest first, with
// per-line refund eligibility.
func (s *Service) QueryMyOrders(ctx context.Context, q ListQuery) (OrderPage, error) {
	if q.UserID == "" {
		return OrderPage{}, invalid("user id is required")
	}
	if q.Status != "" && !q.Status.Valid() {
		return OrderPage{}, invalid("unknown order status " + string(q.Status))
	}
	q = q.normalized()

	list, total, err := s.store.ListOrders(ctx, q)
	if err != nil {
		return OrderPage{}, persistence(CodePersistence, "order list failed", err)
	}
	page := OrderPage{
		Total: total,
		Pages: (total + int64(q.PageSize) - 1) / int64(q.PageSize),
		List:  []OrderSummary{},
	}
	if len(list) == 0 {
		return page, nil
	}

	ids := make([]string, 0, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
	}
	lines, err := s.store.FindLinesByOrderIDs(ctx, ids)
	if err != nil {
		return OrderPage{}, persistence(CodePersistence, "order lines lookup failed", err)
	}
	for i := range list {
		sum, err := s.summarize(ctx, &list[i], lines[list[i].ID])
		if err != nil {
			return OrderPage{}, err
		}
		page.List = append(page.List, sum)
	}
	return page, nil
}

// QueryOrderDetail returns one order of the user with its progress
// milestones. lineID narrows the milestones to one line and may be empty.
func (s *Service) QueryOrderDetail(ctx context.Context, userID, orderID, lineID string) (OrderDetailView, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return OrderDetailView{}, err
	}
	lines, err := s.store.FindLines(ctx, orderID)
	if err != nil {
		return OrderDetailView{}, persistence(CodePersistence, "order lines lookup failed", err)
	}
	sum, err := s.summarize(ctx, o, lines)
	if err != nil {
		return OrderDetailView{}, err
	}
	nodes, err := s.progress.Milestones(ctx, o, lineID)
	if err != nil {
		return OrderDetailView{}, external("progress provider failed", err)
	}
	if nodes == nil {
		nodes = []ProgressNode{}
	}
	return OrderDetailView{
		OrderSummary:  sum,
		Message:       o.Message,
		PayChannel:    o.PayChannel,
		PayOrderNo:    o.PayOrderNo,
		FinishTime:    o.FinishTime,
		CloseTime:     o.CloseTime,
		PayDeadline:   statusView(o, s.payTTL).PayDeadline,
		ProgressNodes: nodes,
	}, nil
}

func (s *Service) summarize(ctx context.Context, o *Order, lines []OrderLine) (OrderSummary, error) {
	sum := OrderSummary{
		ID:             o.ID,
		Status:         o.Status,
		StatusDesc:     o.Status.Desc(),
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		RealAmount:     o.RealAmount,
		CreateTime:     o.CreateTime,
		PayTime:        o.PayTime,
		Lines:          make([]LineView, 0, len(lines)),
	}
	for _, l := range lines {
		inProgress, err := s.refunds.InProgress(ctx, l)
		if err != nil {
			return OrderSummary{}, external("refund status provider failed", err)
		}
		sum.Lines = append(sum.Lines, LineView{
			ID:            l.ID,
			CourseID:      l.CourseID,
			Name:          l.Name,
			CoverURL:      l.CoverURL,
			ValidDuration: l.ValidDuration,
			Price:         l.Price,
			RealPayAmount: l.RealPayAmount,
			Status:        l.Status,
			RefundStatus:  l.RefundStatus,
			CanRefund:     Refundable(o.Status, inProgress),
		})
	}
	return sum, nil
}

