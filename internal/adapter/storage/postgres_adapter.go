package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/seckill/internal/core/domain"
)

const pgUniqueViolation = "23505"

type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (p *PostgresAdapter) EnsureSchema(ctx context.Context) error {
	stmts, err := schemaStatements("postgres")
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresAdapter) CreateOrder(ctx context.Context, order domain.Order, entry domain.AuditEntry) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_no, user_id, activity_id, product_id, quantity,
			unit_price, total_amount, status, payment_timeout, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		order.OrderNo, order.UserID, order.ActivityID, order.ProductID, order.Quantity,
		order.UnitPrice, order.TotalAmount, string(order.Status), order.PaymentDeadline,
		order.CreatedAt, order.UpdatedAt,
	).Scan(&orderID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, domain.ErrDuplicateOrder
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}

	// pgx encodes the details map as JSON for the jsonb column.
	_, err = tx.Exec(ctx, `
		INSERT INTO operation_logs (user_id, action, target_type, target_id, details, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.UserID, entry.Action, entry.TargetType, entry.TargetID, entry.Details,
		nullText(entry.OriginAddr), nullText(entry.ClientAgent),
	)
	if err != nil {
		return 0, fmt.Errorf("insert operation log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return orderID, nil
}

func (p *PostgresAdapter) GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, order_no, user_id, activity_id, product_id, quantity, unit_price,
			total_amount, status, payment_timeout, created_at, updated_at
		FROM orders WHERE order_no = $1`, orderNo,
	).Scan(&o.ID, &o.OrderNo, &o.UserID, &o.ActivityID, &o.ProductID, &o.Quantity, &o.UnitPrice,
		&o.TotalAmount, &status, &o.PaymentDeadline, &o.CreatedAt, &o.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func (p *PostgresAdapter) GetActivity(ctx context.Context, activityID int64) (*domain.Activity, error) {
	var (
		a      domain.Activity
		status string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, activity_name, status, start_time, end_time
		FROM seckill_activities WHERE id = $1`, activityID,
	).Scan(&a.ID, &a.Name, &status, &a.StartTime, &a.EndTime)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	a.Status = domain.ActivityStatus(status)
	return &a, nil
}

func (p *PostgresAdapter) ListOpenActivities(ctx context.Context, now time.Time) ([]domain.Activity, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, activity_name, status, start_time, end_time
		FROM seckill_activities
		WHERE status IN ('pending', 'active') AND end_time > $1
		ORDER BY start_time, id`, now)
	if err != nil {
		return nil, fmt.Errorf("query open activities: %w", err)
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var (
			a      domain.Activity
			status string
		)
		if err := rows.Scan(&a.ID, &a.Name, &status, &a.StartTime, &a.EndTime); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Status = domain.ActivityStatus(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}

func (p *PostgresAdapter) GetActivityProduct(ctx context.Context, activityID, productID int64) (*domain.ActivityProduct, error) {
	ap, err := scanActivityProduct(p.pool.QueryRow(ctx, `
		SELECT `+activityProductColumns+`
		FROM activity_products WHERE activity_id = $1 AND product_id = $2`, activityID, productID))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query activity product: %w", err)
	}
	return &ap, nil
}

func (p *PostgresAdapter) ListActivityProducts(ctx context.Context, activityID int64) ([]domain.ActivityProduct, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+activityProductColumns+`
		FROM activity_products WHERE activity_id = $1 ORDER BY product_id`, activityID)
	if err != nil {
		return nil, fmt.Errorf("query activity products: %w", err)
	}
	defer rows.Close()

	var out []domain.ActivityProduct
	for rows.Next() {
		ap, err := scanActivityProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity product: %w", err)
		}
		out = append(out, ap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity products: %w", err)
	}
	return out, nil
}

func (p *PostgresAdapter) UpdateStockSnapshot(ctx context.Context, ap domain.ActivityProduct) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE activity_products
		SET available_stock = $1, reserved_stock = $2, sold_stock = $3,
			version = version + 1, updated_at = now()
		WHERE activity_id = $4 AND product_id = $5 AND version = $6`,
		ap.AvailableStock, ap.ReservedStock, ap.SoldStock, ap.ActivityID, ap.ProductID, ap.Version,
	)
	if err != nil {
		return fmt.Errorf("update stock snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

func (p *PostgresAdapter) Close() error {
	p.pool.Close()
	return nil
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
