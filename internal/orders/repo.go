package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-course-trade/internal/outbox"
)

// Repo is the Postgres Store. Every state change and the outbox rows it
// produces commit in one transaction.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, user_id, total_amount, discount_amount, real_amount, status, message,
	pay_channel, pay_order_no, create_time, pay_time, finish_time, close_time, update_time`

const lineColumns = `id, order_id, user_id, course_id, price, discount_amount, real_pay_amount,
	status, refund_status, pay_channel, name, cover_url, valid_duration, create_time, update_time`

// Persist writes the header, then all lines, then events. Nothing is visible
// unless all of them succeed.
func (r *Repo) Persist(ctx context.Context, o *Order, lines []OrderLine, events ...outbox.Message) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.UserID, o.TotalAmount, o.DiscountAmount, o.RealAmount, string(o.Status), o.Message,
		o.PayChannel, o.PayOrderNo, o.CreateTime, o.PayTime, o.FinishTime, o.CloseTime, o.UpdateTime,
	)
	if err != nil {
		return fmt.Errorf("insert order header: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`
			INSERT INTO order_lines (`+lineColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			l.ID, l.OrderID, l.UserID, l.CourseID, l.Price, l.DiscountAmount, l.RealPayAmount,
			string(l.Status), string(l.RefundStatus), l.PayChannel, l.Name, l.CoverURL, l.ValidDuration,
			l.CreateTime, l.UpdateTime,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range lines {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert order line %s: %w", lines[i].CourseID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert order lines: %w", err)
	}

	for _, e := range events {
		if err := outbox.Insert(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var st string
	err := row.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.DiscountAmount, &o.RealAmount, &st, &o.Message,
		&o.PayChannel, &o.PayOrderNo, &o.CreateTime, &o.PayTime, &o.FinishTime, &o.CloseTime, &o.UpdateTime)
	if err != nil {
		return nil, err
	}
	o.Status = Status(st)
	return &o, nil
}

func scanLine(row rowScanner) (OrderLine, error) {
	var l OrderLine
	var st, rs string
	err := row.Scan(&l.ID, &l.OrderID, &l.UserID, &l.CourseID, &l.Price, &l.DiscountAmount, &l.RealPayAmount,
		&st, &rs, &l.PayChannel, &l.Name, &l.CoverURL, &l.ValidDuration, &l.CreateTime, &l.UpdateTime)
	l.Status, l.RefundStatus = Status(st), RefundStatus(rs)
	return l, err
}

func (r *Repo) FindOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", id, err)
	}
	return o, nil
}

func (r *Repo) FindLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	byOrder, err := r.FindLinesByOrderIDs(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	return byOrder[orderID], nil
}

func (r *Repo) FindLinesByOrderIDs(ctx context.Context, ids []string) (map[string][]OrderLine, error) {
	out := make(map[string][]OrderLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+lineColumns+` FROM order_lines
		WHERE order_id = ANY($1) ORDER BY order_id, create_time, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("find lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, rows.Err()
}

// ListOrders returns one page of a user's orders, newest first, and the
// total number of matching orders.
func (r *Repo) ListOrders(ctx context.Context, q ListQuery) ([]Order, int64, error) {
	var total int64
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE user_id=$1 AND ($2 = '' OR status = $2)`,
		q.UserID, string(q.Status)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id=$1 AND ($2 = '' OR status = $2)
		ORDER BY create_time DESC, id DESC
		LIMIT $3 OFFSET $4`,
		q.UserID, string(q.Status), q.PageSize, (q.PageNo-1)*q.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

// CloseUnpaid moves the order to CLOSED only if it is still NO_PAY. It
// reports false when a concurrent transition got there first.
func (r *Repo) CloseUnpaid(ctx context.Context, orderID string, at time.Time, message string) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, close_time=$3, message=$4, update_time=$3
		WHERE id=$1 AND status=$5`,
		orderID, string(StatusClosed), at, message, string(StatusNoPay))
	if err != nil {
		return false, fmt.Errorf("close order %s: %w", orderID, err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE order_lines SET status=$2, update_time=$3 WHERE order_id=$1`,
		orderID, string(StatusClosed), at); err != nil {
		return false, fmt.Errorf("close lines %s: %w", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// MarkPaid records the receipt, moves the order and its lines to PAYED and
// queues evt. It reports false, writing nothing, when the payment reference
// was seen before or the order is no longer payable.
func (r *Repo) MarkPaid(ctx context.Context, p PaymentResult, message string, evt outbox.Message) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO payment_receipts (pay_order_no, order_id, pay_channel, settled_at)
		VALUES ($1,$2,$3,$4) ON CONFLICT (pay_order_no) DO NOTHING`,
		p.PayOrderNo, p.OrderID, p.Channel, p.SettledAt)
	if err != nil {
		return false, fmt.Errorf("record receipt %s: %w", p.PayOrderNo, err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	ct, err = tx.Exec(ctx, `
		UPDATE orders SET status=$2, pay_time=$3, pay_channel=$4, pay_order_no=$5, message=$6, update_time=NOW()
		WHERE id=$1 AND status = ANY($7)`,
		p.OrderID, string(StatusPayed), p.SettledAt, p.Channel, p.PayOrderNo, message, payableFrom())
	if err != nil {
		return false, fmt.Errorf("pay order %s: %w", p.OrderID, err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE order_lines SET status=$2, pay_channel=$3, update_time=NOW() WHERE order_id=$1`,
		p.OrderID, string(StatusPayed), p.Channel); err != nil {
		return false, fmt.Errorf("pay lines %s: %w", p.OrderID, err)
	}
	if err := outbox.Insert(ctx, tx, evt); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// DeleteClosed removes a CLOSED order owned by userID. Lines cascade.
func (r *Repo) DeleteClosed(ctx context.Context, orderID, userID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		DELETE FROM orders WHERE id=$1 AND user_id=$2 AND status=$3`,
		orderID, userID, string(StatusClosed))
	if err != nil {
		return false, fmt.Errorf("delete order %s: %w", orderID, err)
	}
	return ct.RowsAffected() == 1, nil
}

// payableFrom lists the statuses a payment may move to PAYED.
func payableFrom() []string {
	var out []string
	for from, next := range validNext {
		if next[StatusPayed] {
			out = append(out, string(from))
		}
	}
	return out
}
