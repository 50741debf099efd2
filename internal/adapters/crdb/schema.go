package crdb

// Schema is the DDL for the core tables. Tests apply it to throwaway
// databases; deployments run it through their migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS ticket_categories (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL,
	name TEXT NOT NULL,
	unit_price FLOAT8 NOT NULL CHECK (unit_price >= 0),
	total INT NOT NULL CHECK (total >= 0),
	sold INT NOT NULL DEFAULT 0 CHECK (sold >= 0),
	held INT NOT NULL DEFAULT 0 CHECK (held >= 0),
	CHECK (sold + held <= total)
);

CREATE TABLE IF NOT EXISTS event_capacity (
	event_id UUID PRIMARY KEY,
	total INT NOT NULL CHECK (total >= 0),
	sold INT NOT NULL DEFAULT 0 CHECK (sold >= 0),
	held INT NOT NULL DEFAULT 0 CHECK (held >= 0),
	CHECK (sold + held <= total)
);

CREATE TABLE IF NOT EXISTS seat_locks (
	event_id UUID NOT NULL,
	seat_id TEXT NOT NULL,
	category_id UUID NOT NULL,
	booking_id UUID NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('HELD', 'SOLD')),
	expires_at TIMESTAMPTZ,
	UNIQUE (event_id, seat_id)
);

CREATE INDEX IF NOT EXISTS seat_locks_booking_idx ON seat_locks (booking_id);
CREATE INDEX IF NOT EXISTS seat_locks_expiry_idx ON seat_locks (event_id, status, expires_at);

CREATE TABLE IF NOT EXISTS bookings (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	event_id UUID NOT NULL,
	mode TEXT NOT NULL CHECK (mode IN ('CATEGORY', 'SEAT')),
	category_id UUID,
	quantity INT NOT NULL CHECK (quantity >= 1),
	total_amount FLOAT8 NOT NULL CHECK (total_amount >= 0),
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'PAID', 'FAILED', 'CANCELLED', 'EXPIRED')),
	expires_at TIMESTAMPTZ,
	payment_ref TEXT,
	paid_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS bookings_expiry_idx ON bookings (status, expires_at);

CREATE TABLE IF NOT EXISTS booking_items (
	booking_id UUID NOT NULL,
	seat_id TEXT NOT NULL,
	category_id UUID NOT NULL,
	unit_price FLOAT8 NOT NULL,
	PRIMARY KEY (booking_id, seat_id)
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json BYTES NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key TEXT NOT NULL
);
`
