package orders

import "time"

// Amounts are integers in the smallest currency unit.
type Order struct {
	ID             string
	UserID         string
	TotalAmount    int64
	DiscountAmount int64
	RealAmount     int64
	Status         Status
	Message        string
	PayChannel     string
	PayOrderNo     string
	CreateTime     time.Time
	PayTime        *time.Time
	FinishTime     *time.Time
	CloseTime      *time.Time
	UpdateTime     time.Time
}

type OrderLine struct {
	ID             string
	OrderID        string
	UserID         string
	CourseID       string
	Price          int64
	DiscountAmount int64
	RealPayAmount  int64
	Status         Status
	RefundStatus   RefundStatus
	PayChannel     string
	Name           string
	CoverURL       string
	ValidDuration  int
	CreateTime     time.Time
	UpdateTime     time.Time
}

// Course is the catalog's answer for one purchasable course.
type Course struct {
	ID            string `json:"id"`
	Price         int64  `json:"price"`
	Free          bool   `json:"free"`
	Name          string `json:"name"`
	CoverURL      string `json:"coverUrl"`
	ValidDuration int    `json:"validDuration"`
}

// PaymentResult is a settled payment reported by the payment gateway.
type PaymentResult struct {
	OrderID    string
	SettledAt  time.Time
	Channel    string
	PayOrderNo string
}

// StatusView is returned by place, enroll and status queries. PayDeadline is
// set only while the order is NO_PAY.
type StatusView struct {
	OrderID     string     `json:"orderId"`
	PayAmount   int64      `json:"payAmount"`
	Status      Status     `json:"status"`
	PayDeadline *time.Time `json:"payDeadline,omitempty"`
}

func statusView(o *Order, ttl time.Duration) StatusView {
	v := StatusView{OrderID: o.ID, PayAmount: o.RealAmount, Status: o.Status}
	if o.Status == StatusNoPay {
		d := o.CreateTime.Add(ttl)
		v.PayDeadline = &d
	}
	return v
}

func courseIDs(lines []OrderLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.CourseID)
	}
	return out
}
