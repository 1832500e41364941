package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"seed-order-service/models"
)

const mysqlDuplicateEntry = 1062

const orderColumns = `id, order_number, customer_first_name, customer_last_name, customer_email, customer_phone,
	shipping_address, shipping_city, shipping_postal_code, shipping_province,
	subtotal, shipping_cost, total, status, created_at, updated_at`

const itemColumns = `id, order_id, product_id, product_name, quantity, price, total_price`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

var _ Store = (*MySQLStore)(nil)

func (s *MySQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after a successful Commit returns sql.ErrTxDone and is a no-op.
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&mysqlTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return loadOrder(ctx, s.db, "id = ?", id, false)
}

func (s *MySQLStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return loadOrder(ctx, s.db, "order_number = ?", orderNumber, false)
}

func (s *MySQLStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int64, error) {
	filter = NormalizePage(filter)

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CustomerEmail != "" {
		where = append(where, "customer_email = ?")
		args = append(args, filter.CustomerEmail)
	}
	if filter.OrderNumber != "" {
		where = append(where, "order_number LIKE ?")
		args = append(args, "%"+filter.OrderNumber+"%")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	if total == 0 {
		return []models.Order{}, 0, nil
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, (filter.Page-1)*filter.Limit)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders"+clause+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]models.Order, 0, filter.Limit)
	index := make(map[int64]int)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		o.Items = []models.OrderItem{}
		index[o.ID] = len(orders)
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, total, nil
	}

	placeholders := make([]string, len(orders))
	ids := make([]any, len(orders))
	for i, o := range orders {
		placeholders[i] = "?"
		ids[i] = o.ID
	}
	itemRows, err := s.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM order_items WHERE order_id IN ("+strings.Join(placeholders, ",")+") ORDER BY order_id, id",
		ids...)
	if err != nil {
		return nil, 0, fmt.Errorf("list order items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			return nil, 0, err
		}
		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list order items: %w", err)
	}
	return orders, total, nil
}

func (s *MySQLStore) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, updated_at = NOW()
		WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLStore) UpdateStatusIf(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, updated_at = NOW()
		WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("conditional status update: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// rows == 0: either not found or status mismatch
	return rows > 0, nil
}

func (s *MySQLStore) Statistics(ctx context.Context) (*models.OrderStatistics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("order statistics: %w", err)
	}
	defer rows.Close()

	var groups []StatusTotal
	for rows.Next() {
		var g StatusTotal
		if err := rows.Scan(&g.Status, &g.Count, &g.Revenue); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order statistics: %w", err)
	}
	return Aggregate(groups), nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) InsertOrder(ctx context.Context, o *models.Order) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (order_number, customer_first_name, customer_last_name, customer_email, customer_phone,
			shipping_address, shipping_city, shipping_postal_code, shipping_province,
			subtotal, shipping_cost, total, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`,
		o.OrderNumber, o.CustomerFirstName, o.CustomerLastName, o.CustomerEmail, o.CustomerPhone,
		o.ShippingAddress, o.ShippingCity, o.ShippingPostal, o.ShippingProvince,
		o.Subtotal, o.ShippingCost, o.Total, o.Status,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return 0, ErrDuplicateOrderNumber
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("order id: %w", err)
	}
	return id, nil
}

func (t *mysqlTx) InsertItem(ctx context.Context, orderID int64, item models.OrderItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, price, total_price)
		VALUES (?, ?, ?, ?, ?, ?)`,
		orderID, item.ProductID, item.ProductName, item.Quantity, item.Price, item.TotalPrice,
	)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (t *mysqlTx) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?
		WHERE id = ? AND stock >= ?`,
		qty, productID, qty,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (t *mysqlTx) IncrementStock(ctx context.Context, productID int64, qty int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?
		WHERE id = ?`,
		qty, productID,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	return nil
}

func (t *mysqlTx) ProductStock(ctx context.Context, productID int64) (int, error) {
	var stock int
	err := t.tx.QueryRowContext(ctx, "SELECT stock FROM products WHERE id = ?", productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("product stock: %w", err)
	}
	return stock, nil
}

func (t *mysqlTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return loadOrder(ctx, t.tx, "id = ?", id, true)
}

func (t *mysqlTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET order_number = ?, customer_first_name = ?, customer_last_name = ?, customer_email = ?, customer_phone = ?,
			shipping_address = ?, shipping_city = ?, shipping_postal_code = ?, shipping_province = ?,
			subtotal = ?, shipping_cost = ?, total = ?, status = ?, updated_at = NOW()
		WHERE id = ?`,
		o.OrderNumber, o.CustomerFirstName, o.CustomerLastName, o.CustomerEmail, o.CustomerPhone,
		o.ShippingAddress, o.ShippingCity, o.ShippingPostal, o.ShippingProvince,
		o.Subtotal, o.ShippingCost, o.Total, o.Status, o.ID,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (t *mysqlTx) DeleteItems(ctx context.Context, orderID int64) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = ?", orderID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	return nil
}

func (t *mysqlTx) DeleteOrder(ctx context.Context, id int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM orders WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func loadOrder(ctx context.Context, q querier, where string, arg any, forUpdate bool) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE " + where
	if forUpdate {
		query += " FOR UPDATE"
	}
	o, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, "SELECT "+itemColumns+" FROM order_items WHERE order_id = ? ORDER BY id", o.ID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	o.Items = []models.OrderItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	return o, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerFirstName, &o.CustomerLastName, &o.CustomerEmail, &o.CustomerPhone,
		&o.ShippingAddress, &o.ShippingCity, &o.ShippingPostal, &o.ShippingProvince,
		&o.Subtotal, &o.ShippingCost, &o.Total, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func scanItem(row scanner) (models.OrderItem, error) {
	var item models.OrderItem
	if err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
		&item.Quantity, &item.Price, &item.TotalPrice); err != nil {
		return models.OrderItem{}, fmt.Errorf("scan order item: %w", err)
	}
	return item, nil
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// StatusTotal is one GROUP BY status row of the statistics query.
type StatusTotal struct {
	Status  models.OrderStatus
	Count   int64
	Revenue decimal.Decimal
}

// Aggregate folds per-status totals into order statistics. Revenue and the
// average only count orders that were not cancelled.
func Aggregate(groups []StatusTotal) *models.OrderStatistics {
	stats := &models.OrderStatistics{
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		ByStatus:          make(map[models.OrderStatus]int64, len(models.OrderStatuses)),
	}
	for _, s := range models.OrderStatuses {
		stats.ByStatus[s] = 0
	}

	var billable int64
	for _, g := range groups {
		stats.TotalOrders += g.Count
		stats.ByStatus[g.Status] += g.Count
		if g.Status == models.StatusCancelled {
			continue
		}
		billable += g.Count
		stats.TotalRevenue = stats.TotalRevenue.Add(g.Revenue)
	}
	stats.TotalRevenue = stats.TotalRevenue.Round(2)
	if billable > 0 {
		stats.AverageOrderValue = stats.TotalRevenue.Div(decimal.NewFromInt(billable)).Round(2)
	}
	return stats
}
