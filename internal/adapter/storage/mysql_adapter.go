package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/seckill/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the tables the adapter reads and writes if they are missing.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	stmts, err := schemaStatements("mysql")
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order, entry domain.AuditEntry) (int64, error) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return 0, fmt.Errorf("encode audit details: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO orders (order_no, user_id, activity_id, product_id, quantity,
			unit_price, total_amount, status, payment_timeout, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.OrderNo, order.UserID, order.ActivityID, order.ProductID, order.Quantity,
		order.UnitPrice, order.TotalAmount, order.Status, order.PaymentDeadline,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return 0, domain.ErrDuplicateOrder
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}

	orderID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("order id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO operation_logs (user_id, action, target_type, target_id, details, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.Action, entry.TargetType, entry.TargetID, details,
		nullString(entry.OriginAddr), nullString(entry.ClientAgent),
	)
	if err != nil {
		return 0, fmt.Errorf("insert operation log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return orderID, nil
}

func (m *MySQLAdapter) GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	var o domain.Order
	err := m.db.QueryRowContext(ctx, `
		SELECT id, order_no, user_id, activity_id, product_id, quantity, unit_price,
			total_amount, status, payment_timeout, created_at, updated_at
		FROM orders WHERE order_no = ?`, orderNo,
	).Scan(&o.ID, &o.OrderNo, &o.UserID, &o.ActivityID, &o.ProductID, &o.Quantity, &o.UnitPrice,
		&o.TotalAmount, &o.Status, &o.PaymentDeadline, &o.CreatedAt, &o.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

func (m *MySQLAdapter) GetActivity(ctx context.Context, activityID int64) (*domain.Activity, error) {
	var a domain.Activity
	err := m.db.QueryRowContext(ctx, `
		SELECT id, activity_name, status, start_time, end_time
		FROM seckill_activities WHERE id = ?`, activityID,
	).Scan(&a.ID, &a.Name, &a.Status, &a.StartTime, &a.EndTime)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	return &a, nil
}

func (m *MySQLAdapter) ListOpenActivities(ctx context.Context, now time.Time) ([]domain.Activity, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, activity_name, status, start_time, end_time
		FROM seckill_activities
		WHERE status IN ('pending', 'active') AND end_time > ?
		ORDER BY start_time, id`, now)
	if err != nil {
		return nil, fmt.Errorf("query open activities: %w", err)
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.Name, &a.Status, &a.StartTime, &a.EndTime); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}

const activityProductColumns = `activity_id, product_id, product_name, seckill_price, max_purchase_per_user,
	total_stock, available_stock, reserved_stock, sold_stock, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivityProduct(row rowScanner) (domain.ActivityProduct, error) {
	var p domain.ActivityProduct
	err := row.Scan(&p.ActivityID, &p.ProductID, &p.ProductName, &p.UnitPrice, &p.MaxPurchasePerUser,
		&p.TotalStock, &p.AvailableStock, &p.ReservedStock, &p.SoldStock, &p.Version, &p.UpdatedAt)
	return p, err
}

func (m *MySQLAdapter) GetActivityProduct(ctx context.Context, activityID, productID int64) (*domain.ActivityProduct, error) {
	p, err := scanActivityProduct(m.db.QueryRowContext(ctx, `
		SELECT `+activityProductColumns+`
		FROM activity_products WHERE activity_id = ? AND product_id = ?`, activityID, productID))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query activity product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) ListActivityProducts(ctx context.Context, activityID int64) ([]domain.ActivityProduct, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+activityProductColumns+`
		FROM activity_products WHERE activity_id = ? ORDER BY product_id`, activityID)
	if err != nil {
		return nil, fmt.Errorf("query activity products: %w", err)
	}
	defer rows.Close()

	var out []domain.ActivityProduct
	for rows.Next() {
		p, err := scanActivityProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity products: %w", err)
	}
	return out, nil
}

func (m *MySQLAdapter) UpdateStockSnapshot(ctx context.Context, p domain.ActivityProduct) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE activity_products
		SET available_stock = ?, reserved_stock = ?, sold_stock = ?, version = version + 1
		WHERE activity_id = ? AND product_id = ? AND version = ?`,
		p.AvailableStock, p.ReservedStock, p.SoldStock, p.ActivityID, p.ProductID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update stock snapshot: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

func (m *MySQLAdapter) Close() error {
	return m.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
