package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price DECIMAL(12,4) NOT NULL DEFAULT 0,
		stock INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT chk_products_stock CHECK (stock >= 0)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_number VARCHAR(64) NOT NULL,
		customer_first_name VARCHAR(100) NOT NULL,
		customer_last_name VARCHAR(100) NOT NULL,
		customer_email VARCHAR(255) NOT NULL,
		customer_phone VARCHAR(50) NOT NULL DEFAULT '',
		shipping_address TEXT NOT NULL,
		shipping_city VARCHAR(100) NOT NULL DEFAULT '',
		shipping_postal_code VARCHAR(20) NOT NULL DEFAULT '',
		shipping_province VARCHAR(100) NOT NULL DEFAULT '',
		subtotal DECIMAL(12,2) NOT NULL,
		shipping_cost DECIMAL(12,2) NOT NULL DEFAULT 0,
		total DECIMAL(12,2) NOT NULL,
		status ENUM('pending','processing','shipped','delivered','cancelled') NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_orders_order_number (order_number),
		KEY idx_orders_status (status),
		KEY idx_orders_customer_email (customer_email)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		quantity INT NOT NULL,
		price DECIMAL(12,4) NOT NULL,
		total_price DECIMAL(14,4) NOT NULL,
		KEY idx_order_items_order (order_id),
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders (id) ON DELETE CASCADE
	) ENGINE=InnoDB`,
}

// Migrate creates the tables the order service reads and writes.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
