package database

// OrdersSchema holds the order service tables.
const OrdersSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 BIGSERIAL PRIMARY KEY,
	user_id            BIGINT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'CREATED',
	reservation_status TEXT NOT NULL DEFAULT 'PENDING',
	total_amount       NUMERIC(12,2) NOT NULL CHECK (total_amount >= 0),
	reconcile_attempts INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders (user_id);
CREATE INDEX IF NOT EXISTS idx_orders_reservation ON orders (reservation_status);

CREATE TABLE IF NOT EXISTS order_lines (
	id                BIGSERIAL PRIMARY KEY,
	order_id          BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id        BIGINT NOT NULL,
	quantity          INTEGER NOT NULL CHECK (quantity > 0),
	price_at_purchase NUMERIC(12,2) NOT NULL CHECK (price_at_purchase >= 0),
	deduction_state   TEXT NOT NULL DEFAULT 'NOT_ATTEMPTED'
);

CREATE INDEX IF NOT EXISTS idx_order_lines_order_id ON order_lines (order_id);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key           TEXT PRIMARY KEY,
	status_code   INTEGER NOT NULL,
	response_body BYTEA NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// InventorySchema holds the stock ledger tables.
const InventorySchema = `
CREATE TABLE IF NOT EXISTS products (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL,
	price          NUMERIC(12,2) NOT NULL CHECK (price >= 0),
	stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS stock_movements (
	reference  TEXT PRIMARY KEY,
	product_id BIGINT NOT NULL REFERENCES products(id),
	delta      INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
