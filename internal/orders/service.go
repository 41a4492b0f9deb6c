package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-course-trade/internal/logx"
	"github.com/ariefcatur/go-course-trade/internal/outbox"
)

const (
	MsgCancelledByUser = "order cancelled by user"
	MsgPaymentSettled  = "payment succeeded"
)

// ListQuery selects one page of a user's orders. An empty Status matches all.
type ListQuery struct {
	UserID   string
	Status   Status
	PageNo   int
	PageSize int
}

type Store interface {
	Persist(ctx context.Context, o *Order, lines []OrderLine, events ...outbox.Message) error
	FindOrder(ctx context.Context, id string) (*Order, error)
	FindLines(ctx context.Context, orderID string) ([]OrderLine, error)
	FindLinesByOrderIDs(ctx context.Context, ids []string) (map[string][]OrderLine, error)
	ListOrders(ctx context.Context, q ListQuery) ([]Order, int64, error)
	CloseUnpaid(ctx context.Context, orderID string, at time.Time, message string) (bool, error)
	MarkPaid(ctx context.Context, p PaymentResult, message string, evt outbox.Message) (bool, error)
	DeleteClosed(ctx context.Context, orderID, userID string) (bool, error)
}

// Catalog answers which of the requested courses can be bought. Ids missing
// from the result are not purchasable.
type Catalog interface {
	CheckPurchasable(ctx context.Context, courseIDs []string) ([]Course, error)
}

type CartStore interface {
	RemoveItems(ctx context.Context, userID string, courseIDs []string) error
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (StatusView, bool, error)
	Set(ctx context.Context, v StatusView) error
	Invalidate(ctx context.Context, orderID string) error
}

type ServiceDeps struct {
	Store   Store
	Catalog Catalog

	// Optional collaborators.
	Cart      CartStore
	Cache     StatusCache
	Refunds   RefundStatusProvider
	Progress  ProgressProvider
	IDs       IDAllocator
	Discounts DiscountPolicy

	PayTTL         time.Duration
	CatalogTimeout time.Duration
	Producer       string
	Now            func() time.Time
	Logger         *zap.Logger
}

// Service drives the order state machine.
type Service struct {
	store          Store
	catalog        Catalog
	cart           CartStore
	cache          StatusCache
	refunds        RefundStatusProvider
	progress       ProgressProvider
	builder        *Builder
	payTTL         time.Duration
	catalogTimeout time.Duration
	producer       string
	now            func() time.Time
	log            *zap.Logger
}

func NewService(d ServiceDeps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("orders: store is required")
	}
	if d.Catalog == nil {
		return nil, errors.New("orders: catalog is required")
	}
	if d.IDs == nil {
		d.IDs = ULIDAllocator{}
	}
	if d.Discounts == nil {
		d.Discounts = NoDiscount{}
	}
	if d.Refunds == nil {
		d.Refunds = StoredRefundStatus{}
	}
	if d.Progress == nil {
		d.Progress = TimelineProgress{}
	}
	if d.PayTTL <= 0 {
		d.PayTTL = 30 * time.Minute
	}
	if d.Producer == "" {
		d.Producer = "trade-api"
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Logger = logx.OrNop(d.Logger)
	now := func() time.Time { return d.Now().UTC() }
	return &Service{
		store:          d.Store,
		catalog:        d.Catalog,
		cart:           d.Cart,
		cache:          d.Cache,
		refunds:        d.Refunds,
		progress:       d.Progress,
		builder:        &Builder{IDs: d.IDs, Discounts: d.Discounts, Now: now},
		payTTL:         d.PayTTL,
		catalogTimeout: d.CatalogTimeout,
		producer:       d.Producer,
		now:            now,
		log:            d.Logger,
	}, nil
}

func (s *Service) checkPurchasable(ctx context.Context, ids []string) ([]Course, error) {
	if s.catalogTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.catalogTimeout)
		defer cancel()
	}
	courses, err := s.catalog.CheckPurchasable(ctx, ids)
	if err != nil {
		return nil, external("course catalog unavailable", err)
	}
	return courses, nil
}

// PlaceOrder creates a NO_PAY order for every requested course or fails
// without writing anything.
func (s *Service) PlaceOrder(ctx context.Context, userID string, courseIDs []string) (StatusView, error) {
	if userID == "" {
		return StatusView{}, invalid("user id is required")
	}
	ids := dedupe(courseIDs)
	if len(ids) == 0 {
		return StatusView{}, invalid("at least one course id is required")
	}

	found, err := s.checkPurchasable(ctx, ids)
	if err != nil {
		return StatusView{}, err
	}
	byID := make(map[string]Course, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	courses := make([]Course, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return StatusView{}, withDetail(ErrCourseUnavailable, fmt.Sprintf("course %s cannot be purchased", id))
		}
		courses = append(courses, c)
	}

	o, lines, err := s.builder.Build(ctx, userID, courses)
	if err != nil {
		return StatusView{}, err
	}
	if err := s.store.Persist(ctx, o, lines); err != nil {
		return StatusView{}, persistence(CodePlaceOrderFailed, "order was not created", err)
	}

	if s.cart != nil {
		if err := s.cart.RemoveItems(ctx, userID, ids); err != nil {
			s.log.Warn("cart cleanup failed", zap.String("order_id", o.ID), zap.String("user_id", userID), zap.Error(err))
		}
	}
	s.log.Info("order placed", zap.String("order_id", o.ID), zap.String("user_id", userID),
		zap.Int("lines", len(lines)), zap.Int64("real_amount", o.RealAmount))
	return statusView(o, s.payTTL), nil
}

// EnrollFree creates an ENROLLED order for a free course and queues the
// enrolled event with it.
func (s *Service) EnrollFree(ctx context.Context, userID, courseID string) (StatusView, error) {
	if userID == "" || courseID == "" {
		return StatusView{}, invalid("user id and course id are required")
	}
	found, err := s.checkPurchasable(ctx, []string{courseID})
	if err != nil {
		return StatusView{}, err
	}
	var course *Course
	for i := range found {
		if found[i].ID == courseID {
			course = &found[i]
			break
		}
	}
	if course == nil {
		return StatusView{}, ErrCourseNotFound
	}
	if !course.Free {
		return StatusView{}, ErrCourseNotFree
	}

	o, lines := s.builder.BuildFree(userID, *course)
	evt, err := newEvent(s.producer, TopicOrderEnrolled, EventOrderEnrolled, OrderBasic{
		OrderID:    o.ID,
		UserID:     userID,
		CourseIDs:  courseIDs(lines),
		FinishTime: *o.FinishTime,
	}, o.CreateTime)
	if err != nil {
		return StatusView{}, persistence(CodePlaceOrderFailed, "enrolled event not built", err)
	}
	if err := s.store.Persist(ctx, o, lines, evt); err != nil {
		return StatusView{}, persistence(CodePlaceOrderFailed, "order was not created", err)
	}
	s.log.Info("free course enrolled", zap.String("order_id", o.ID), zap.String("user_id", userID),
		zap.String("course_id", courseID))
	return statusView(o, s.payTTL), nil
}

// ownedOrder hides orders of other users behind ErrOrderNotFound.
func (s *Service) ownedOrder(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.store.FindOrder(ctx, orderID)
	if errors.Is(err, ErrNoRecord) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, persistence(CodePersistence, "order lookup failed", err)
	}
	if o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// CancelOrder closes an unpaid order. Cancelling a closed order succeeds
// without a write.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) error {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if o.Status == StatusClosed {
		return nil
	}
	if !CanTransition(o.Status, StatusClosed) {
		return ErrAlreadyFinished
	}

	ok, err := s.store.CloseUnpaid(ctx, orderID, s.now(), MsgCancelledByUser)
	if err != nil {
		return persistence(CodePersistence, "order was not cancelled", err)
	}
	if !ok {
		s.log.Info("cancel lost race with concurrent transition", zap.String("order_id", orderID))
		return nil
	}
	s.invalidate(ctx, orderID)
	s.log.Info("order cancelled", zap.String("order_id", orderID), zap.String("user_id", userID))
	return nil
}

func (s *Service) QueryOrderStatus(ctx context.Context, orderID string) (StatusView, error) {
	if s.cache != nil {
		v, hit, err := s.cache.Get(ctx, orderID)
		if err != nil {
			s.log.Warn("status cache read failed", zap.String("order_id", orderID), zap.Error(err))
		} else if hit {
			return v, nil
		}
	}
	o, err := s.store.FindOrder(ctx, orderID)
	if errors.Is(err, ErrNoRecord) {
		return StatusView{}, ErrOrderNotFound
	}
	if err != nil {
		return StatusView{}, persistence(CodePersistence, "order lookup failed", err)
	}
	v := statusView(o, s.payTTL)
	// NO_PAY and CLOSED may still be paid; a view cached now could outlive
	// the invalidation of a payment committed after the read above
	if s.cache != nil && o.Status.Final() {
		if err := s.cache.Set(ctx, v); err != nil {
			s.log.Warn("status cache write failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return v, nil
}

// OnPaymentConfirmed applies a gateway notification. Unknown orders and
// repeated payment references are logged and acknowledged.
func (s *Service) OnPaymentConfirmed(ctx context.Context, p PaymentResult) error {
	if p.OrderID == "" || p.PayOrderNo == "" {
		return invalid("payment result needs order id and payment reference")
	}
	if p.SettledAt.IsZero() {
		p.SettledAt = s.now()
	}
	p.SettledAt = p.SettledAt.UTC()
	log := s.log.With(zap.String("order_id", p.OrderID), zap.String("pay_order_no", p.PayOrderNo))

	o, err := s.store.FindOrder(ctx, p.OrderID)
	if errors.Is(err, ErrNoRecord) {
		log.Warn("payment for unknown order ignored")
		return nil
	}
	if err != nil {
		return persistence(CodePersistence, "order lookup failed", err)
	}
	if !CanTransition(o.Status, StatusPayed) {
		log.Warn("payment for order not awaiting payment ignored", zap.String("status", string(o.Status)))
		return nil
	}

	lines, err := s.store.FindLines(ctx, o.ID)
	if err != nil {
		return persistence(CodePersistence, "order lines lookup failed", err)
	}
	evt, err := newEvent(s.producer, TopicOrderPaid, EventOrderPaid, OrderBasic{
		OrderID:    o.ID,
		UserID:     o.UserID,
		CourseIDs:  courseIDs(lines),
		FinishTime: p.SettledAt,
	}, s.now())
	if err != nil {
		return persistence(CodePersistence, "paid event not built", err)
	}

	applied, err := s.store.MarkPaid(ctx, p, MsgPaymentSettled, evt)
	if err != nil {
		return persistence(CodePersistence, "payment was not recorded", err)
	}
	if !applied {
		log.Warn("duplicate payment notification ignored")
		return nil
	}
	s.invalidate(ctx, o.ID)
	if o.Status == StatusClosed {
		log.Warn("payment settled for closed order, refund follow-up needed",
			zap.String("channel", p.Channel), zap.Timep("close_time", o.CloseTime))
		return nil
	}
	log.Info("order paid", zap.String("channel", p.Channel))
	return nil
}

// DeleteOrder removes a closed order of the caller.
func (s *Service) DeleteOrder(ctx context.Context, userID, orderID string) error {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusClosed {
		return ErrOrderNotDeletable
	}
	ok, err := s.store.DeleteClosed(ctx, orderID, userID)
	if err != nil {
		return persistence(CodePersistence, "order was not deleted", err)
	}
	if !ok {
		return ErrOrderNotDeletable
	}
	s.invalidate(ctx, orderID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, orderID); err != nil {
		s.log.Warn("status cache invalidate failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
