package orders

import (
	"context"
	"time"
)

// DiscountPolicy returns a discount per course id. Missing ids get none.
type DiscountPolicy interface {
	Discounts(ctx context.Context, userID string, courses []Course) (map[string]int64, error)
}

// NoDiscount is the default policy until coupons are wired in.
type NoDiscount struct{}

func (NoDiscount) Discounts(context.Context, string, []Course) (map[string]int64, error) {
	return nil, nil
}

// Builder assembles an order header and its lines from priced courses.
type Builder struct {
	IDs       IDAllocator
	Discounts DiscountPolicy
	Now       func() time.Time
}

// Build creates a NO_PAY order with one line per course.
func (b *Builder) Build(ctx context.Context, userID string, courses []Course) (*Order, []OrderLine, error) {
	if len(courses) == 0 {
		return nil, nil, invalid("order needs at least one course")
	}
	disc, err := b.Discounts.Discounts(ctx, userID, courses)
	if err != nil {
		return nil, nil, external("discount policy failed", err)
	}
	o, lines := b.assemble(userID, courses, StatusNoPay, func(c Course) (int64, int64) {
		return c.Price, disc[c.ID]
	})
	return o, lines, nil
}

// BuildFree creates an ENROLLED order for a single free course. Amounts are
// forced to zero whatever price the catalog carries.
func (b *Builder) BuildFree(userID string, c Course) (*Order, []OrderLine) {
	o, lines := b.assemble(userID, []Course{c}, StatusEnrolled, func(Course) (int64, int64) { return 0, 0 })
	finished := o.CreateTime
	o.FinishTime = &finished
	o.Message = StatusEnrolled.ProgressName()
	return o, lines
}

func (b *Builder) assemble(userID string, courses []Course, st Status, price func(Course) (int64, int64)) (*Order, []OrderLine) {
	now := b.Now().UTC()
	o := &Order{
		ID:         b.IDs.NewID(),
		UserID:     userID,
		Status:     st,
		CreateTime: now,
		UpdateTime: now,
	}
	lines := make([]OrderLine, 0, len(courses))
	for _, c := range courses {
		p, d := price(c)
		if d < 0 {
			d = 0
		}
		if d > p {
			d = p
		}
		lines = append(lines, OrderLine{
			ID:             b.IDs.NewID(),
			OrderID:        o.ID,
			UserID:         userID,
			CourseID:       c.ID,
			Price:          p,
			DiscountAmount: d,
			RealPayAmount:  p - d,
			Status:         st,
			RefundStatus:   RefundNone,
			Name:           c.Name,
			CoverURL:       c.CoverURL,
			ValidDuration:  c.ValidDuration,
			CreateTime:     now,
			UpdateTime:     now,
		})
		o.TotalAmount += p
		o.DiscountAmount += d
	}
	o.RealAmount = o.TotalAmount - o.DiscountAmount
	return o, lines
}
