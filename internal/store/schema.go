package store

// SchemaVersion is the current database schema version.
const SchemaVersion = 2

const schema = `
-- Users table
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'vendedor',
    active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Registered sync devices. token_hash is the sha256 of the sync token;
-- the raw token is never stored. Cleared on logout.
CREATE TABLE IF NOT EXISTS devices (
    uuid TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    token_hash TEXT UNIQUE,
    last_sync_at DATETIME,
    active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

-- Append-only change log. Rows are never mutated except to flip
-- conflict_resolved. The conflict flag marks entries that were recorded as
-- the losing side of a concurrent edit and never applied.
CREATE TABLE IF NOT EXISTS change_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    table_name TEXT NOT NULL,
    record_uuid TEXT NOT NULL,
    operation TEXT NOT NULL CHECK(operation IN ('INSERT', 'UPDATE', 'DELETE')),
    payload JSON,
    user_id TEXT,
    device_uuid TEXT,
    timestamp DATETIME NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    synced INTEGER NOT NULL DEFAULT 0,
    conflict INTEGER NOT NULL DEFAULT 0,
    conflict_resolved INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (user_id) REFERENCES users(id),
    FOREIGN KEY (device_uuid) REFERENCES devices(uuid)
);

-- One row per pull or push exchange, for audit.
CREATE TABLE IF NOT EXISTS sync_sessions (
    uuid TEXT PRIMARY KEY,
    device_uuid TEXT NOT NULL,
    direction TEXT NOT NULL CHECK(direction IN ('push', 'pull')),
    started_at DATETIME NOT NULL,
    ended_at DATETIME,
    changes_sent INTEGER NOT NULL DEFAULT 0,
    changes_received INTEGER NOT NULL DEFAULT 0,
    conflicts INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'in_progress' CHECK(status IN ('in_progress', 'completed', 'error')),
    error_message TEXT,
    FOREIGN KEY (device_uuid) REFERENCES devices(uuid)
);

-- Detected concurrent edits, kept for manual review.
CREATE TABLE IF NOT EXISTS sync_conflicts (
    uuid TEXT PRIMARY KEY,
    table_name TEXT NOT NULL,
    record_uuid TEXT NOT NULL,
    local_change_id INTEGER NOT NULL,
    remote_change_id INTEGER NOT NULL,
    local_payload JSON NOT NULL,
    remote_payload JSON NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0,
    resolution TEXT CHECK(resolution IN ('local', 'remote', 'merge')),
    resolved_by TEXT,
    resolved_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (local_change_id) REFERENCES change_log(id),
    FOREIGN KEY (remote_change_id) REFERENCES change_log(id),
    FOREIGN KEY (resolved_by) REFERENCES users(id)
);

-- Business tables the change log replays into. Rows are addressed by uuid;
-- the integer id exists only as the local rowid.
CREATE TABLE IF NOT EXISTS clientes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    nombre TEXT,
    cedula TEXT,
    telefono TEXT,
    email TEXT,
    direccion TEXT,
    fecha_registro DATETIME
);

CREATE TABLE IF NOT EXISTS productos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    codigo TEXT,
    nombre TEXT,
    descripcion TEXT,
    precio_costo REAL,
    precio_venta REAL,
    stock INTEGER
);

CREATE TABLE IF NOT EXISTS ventas (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    cliente_uuid TEXT,
    total REAL,
    tipo TEXT,
    saldo_pendiente REAL,
    fecha DATETIME
);

CREATE TABLE IF NOT EXISTS detalle_ventas (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    venta_uuid TEXT,
    producto_uuid TEXT,
    cantidad INTEGER,
    precio_unitario REAL,
    subtotal REAL
);

CREATE TABLE IF NOT EXISTS abonos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    venta_uuid TEXT,
    monto REAL,
    fecha DATETIME,
    cobrador_uuid TEXT,
    caja_uuid TEXT
);

CREATE TABLE IF NOT EXISTS cajas (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    nombre TEXT,
    saldo_inicial REAL,
    fecha_apertura DATETIME
);

CREATE TABLE IF NOT EXISTS movimientos_caja (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT UNIQUE NOT NULL,
    caja_uuid TEXT,
    tipo TEXT,
    monto REAL,
    fecha DATETIME,
    descripcion TEXT
);

-- Schema info table
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_devices_user ON devices(user_id);
CREATE INDEX IF NOT EXISTS idx_change_log_record ON change_log(table_name, record_uuid);
CREATE INDEX IF NOT EXISTS idx_change_log_ts ON change_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_sessions_device ON sync_sessions(device_uuid, started_at);
CREATE INDEX IF NOT EXISTS idx_conflicts_open ON sync_conflicts(resolved, created_at);
`

// Migration defines a database migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all database migrations in order.
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Add covering index for the pull query (timestamp + originating device)",
		SQL: `CREATE INDEX IF NOT EXISTS idx_change_log_pull
			ON change_log(timestamp, device_uuid);`,
	},
}
