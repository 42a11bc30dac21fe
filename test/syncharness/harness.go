// Package syncharness drives multi-device sync scenarios end to end: a
// real HTTP server backed by the production store, and simulated devices
// that keep their own offline SQLite databases and talk to the server
// through the sync client.
package syncharness

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/calderon/ventasync/internal/api"
	"github.com/calderon/ventasync/internal/store"
	"github.com/calderon/ventasync/internal/syncclient"
)

const (
	testEmail    = "sync@ventas.test"
	testPassword = "contrasena-fuerte"
)

// clientSchema is the offline mirror a device keeps locally: the business
// tables plus its own append-only change log.
const clientSchema = `
CREATE TABLE clientes (
    uuid TEXT PRIMARY KEY,
    nombre TEXT,
    cedula TEXT,
    telefono TEXT,
    email TEXT,
    direccion TEXT,
    fecha_registro TEXT
);

CREATE TABLE productos (
    uuid TEXT PRIMARY KEY,
    codigo TEXT,
    nombre TEXT,
    descripcion TEXT,
    precio_costo REAL,
    precio_venta REAL,
    stock INTEGER
);

CREATE TABLE ventas (
    uuid TEXT PRIMARY KEY,
    cliente_uuid TEXT,
    total REAL,
    tipo TEXT,
    saldo_pendiente REAL,
    fecha TEXT
);

CREATE TABLE detalle_ventas (
    uuid TEXT PRIMARY KEY,
    venta_uuid TEXT,
    producto_uuid TEXT,
    cantidad INTEGER,
    precio_unitario REAL,
    subtotal REAL
);

CREATE TABLE abonos (
    uuid TEXT PRIMARY KEY,
    venta_uuid TEXT,
    monto REAL,
    fecha TEXT,
    cobrador_uuid TEXT,
    caja_uuid TEXT
);

CREATE TABLE cajas (
    uuid TEXT PRIMARY KEY,
    nombre TEXT,
    saldo_inicial REAL,
    fecha_apertura TEXT
);

CREATE TABLE movimientos_caja (
    uuid TEXT PRIMARY KEY,
    caja_uuid TEXT,
    tipo TEXT,
    monto REAL,
    fecha TEXT,
    descripcion TEXT
);

CREATE TABLE change_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL UNIQUE,
    table_name TEXT NOT NULL,
    record_uuid TEXT NOT NULL,
    operation TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    timestamp TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    synced INTEGER NOT NULL DEFAULT 0
);
`

// entityTables lists the business tables compared for convergence.
var entityTables = []string{"clientes", "productos", "ventas", "detalle_ventas", "abonos", "cajas", "movimientos_caja"}

// SimulatedDevice is one offline client with its own local database.
type SimulatedDevice struct {
	Name       string
	DeviceUUID string
	DB         *sql.DB
	API        *syncclient.Client
	LastSync   time.Time
}

// Harness runs a real sync server and a set of simulated devices.
type Harness struct {
	t          *testing.T
	Store      *store.Store
	HTTP       *httptest.Server
	Devices    map[string]*SimulatedDevice
	deviceKeys []string
}

// NewHarness starts a server on a temp database and logs in numDevices
// simulated devices for the same user. Options tweak the server config
// before it starts, e.g. shrinking PullPageSize to force paginated pulls.
func NewHarness(t *testing.T, numDevices int, opts ...func(*api.Config)) *Harness {
	t.Helper()

	st, err := store.Open(t.TempDir() + "/server.db")
	if err != nil {
		t.Fatalf("open server store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if _, err := st.CreateUser("Prueba", testEmail, testPassword, "admin"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	cfg := api.LoadConfig()
	cfg.RateLimitAuth = 100000
	cfg.RateLimitPush = 100000
	cfg.RateLimitPull = 100000
	cfg.RateLimitOther = 100000
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := api.NewServer(cfg, st)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	h := &Harness{
		t:       t,
		Store:   st,
		HTTP:    ts,
		Devices: make(map[string]*SimulatedDevice),
	}

	for i := 0; i < numDevices; i++ {
		letter := string(rune('A' + i))
		name := "device-" + letter

		local, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			t.Fatalf("open local db %s: %v", name, err)
		}
		if _, err := local.Exec(clientSchema); err != nil {
			t.Fatalf("create local schema %s: %v", name, err)
		}
		t.Cleanup(func() { local.Close() })

		client := syncclient.New(ts.URL, "", "")
		login, err := client.Login(testEmail, testPassword, name)
		if err != nil {
			t.Fatalf("login %s: %v", name, err)
		}

		h.Devices[name] = &SimulatedDevice{
			Name:       name,
			DeviceUUID: login.DeviceUUID,
			DB:         local,
			API:        client,
		}
		h.deviceKeys = append(h.deviceKeys, name)
	}

	return h
}

// Mutate applies a local mutation on a device and records it in the
// device's change log with the next local version for the record.
func (h *Harness) Mutate(deviceName, operation, tabla, recordUUID string, data map[string]any) error {
	d, ok := h.Devices[deviceName]
	if !ok {
		return fmt.Errorf("unknown device: %s", deviceName)
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	switch operation {
	case "INSERT", "UPDATE":
		if err := upsertLocal(tx, tabla, recordUUID, data); err != nil {
			return fmt.Errorf("upsert %s: %w", tabla, err)
		}
	case "DELETE":
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE uuid = ?", tabla), recordUUID); err != nil {
			return fmt.Errorf("delete %s: %w", tabla, err)
		}
	default:
		return fmt.Errorf("unknown operation: %s", operation)
	}

	var version int64
	err = tx.QueryRow(
		`SELECT COALESCE(MAX(version), 0) + 1 FROM change_log WHERE table_name = ? AND record_uuid = ?`,
		tabla, recordUUID,
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("next version: %w", err)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO change_log (uuid, table_name, record_uuid, operation, payload, timestamp, version, synced)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		uuid.NewString(), tabla, recordUUID, operation, string(payload),
		time.Now().UTC().Format(time.RFC3339Nano), version,
	)
	if err != nil {
		return fmt.Errorf("insert change_log: %w", err)
	}

	return tx.Commit()
}

// Push uploads the device's pending changes. Every item the server
// answered for, applied or conflicted, is marked synced locally so it is
// never re-sent.
func (h *Harness) Push(deviceName string) (*syncclient.PushResponse, error) {
	d, ok := h.Devices[deviceName]
	if !ok {
		return nil, fmt.Errorf("unknown device: %s", deviceName)
	}

	changes, err := d.pendingChanges()
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return &syncclient.PushResponse{Success: true}, nil
	}

	resp, err := d.API.Push(changes, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}

	synced := make([]string, 0, len(resp.Applied)+len(resp.Conflicts))
	for _, item := range resp.Applied {
		if item.Status == "applied" || item.Status == "already_exists" {
			synced = append(synced, item.UUID)
		}
	}
	for _, item := range resp.Conflicts {
		synced = append(synced, item.UUID)
	}
	if err := d.markSynced(synced); err != nil {
		return nil, err
	}

	return resp, nil
}

// Pull downloads changes from other devices and applies them to the
// device's local database, advancing its checkpoint.
func (h *Harness) Pull(deviceName string) ([]syncclient.PulledChange, error) {
	d, ok := h.Devices[deviceName]
	if !ok {
		return nil, fmt.Errorf("unknown device: %s", deviceName)
	}

	changes, checkpoint, err := d.API.PullAll(d.LastSync)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	for _, change := range changes {
		if err := d.applyRemote(change); err != nil {
			return nil, err
		}
	}

	d.LastSync = checkpoint
	return changes, nil
}

// Resolve resolves a conflict through a device's API session and applies
// the winning data to that device's local mirror. The resolution entry is
// attributed to the resolving device, so pull never echoes it back; the
// device applies the outcome itself like a real client would.
func (h *Harness) Resolve(deviceName, conflictUUID, resolution string, merged map[string]any) error {
	d, ok := h.Devices[deviceName]
	if !ok {
		return fmt.Errorf("unknown device: %s", deviceName)
	}

	conflicts, err := d.API.Conflicts()
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}
	var target *syncclient.Conflict
	for i := range conflicts {
		if conflicts[i].UUID == conflictUUID {
			target = &conflicts[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("conflict not found: %s", conflictUUID)
	}

	if err := d.API.Resolve(conflictUUID, resolution, merged); err != nil {
		return err
	}

	var winner map[string]any
	switch resolution {
	case "remote":
		if err := json.Unmarshal(target.DatosRemoto, &winner); err != nil {
			return fmt.Errorf("decode remote payload: %w", err)
		}
	case "merge":
		winner = merged
	default:
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := upsertLocal(tx, target.Tabla, target.RecordUUID, winner); err != nil {
		return fmt.Errorf("apply resolution: %w", err)
	}
	return tx.Commit()
}

// Sync pushes then pulls for a device.
func (h *Harness) Sync(deviceName string) error {
	if _, err := h.Push(deviceName); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if _, err := h.Pull(deviceName); err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	return nil
}

// pendingChanges reads unsynced change log rows in append order.
func (d *SimulatedDevice) pendingChanges() ([]syncclient.Change, error) {
	rows, err := d.DB.Query(
		`SELECT uuid, table_name, record_uuid, operation, payload, timestamp, version
		 FROM change_log WHERE synced = 0 ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("pending changes: %w", err)
	}
	defer rows.Close()

	var changes []syncclient.Change
	for rows.Next() {
		var c syncclient.Change
		var payload, ts string
		if err := rows.Scan(&c.UUID, &c.Tabla, &c.RecordUUID, &c.Operacion, &payload, &ts, &c.Version); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &c.Datos); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		c.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// markSynced flags the given change UUIDs as synced.
func (d *SimulatedDevice) markSynced(uuids []string) error {
	for _, id := range uuids {
		if _, err := d.DB.Exec(`UPDATE change_log SET synced = 1 WHERE uuid = ?`, id); err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
	}
	return nil
}

// applyRemote applies one pulled change to the local mirror and records it
// in the local change log so later local edits version past it.
func (d *SimulatedDevice) applyRemote(change syncclient.PulledChange) error {
	tx, err := d.DB.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	switch change.Operacion {
	case "DELETE":
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE uuid = ?", change.Tabla), change.RecordUUID); err != nil {
			return fmt.Errorf("apply delete: %w", err)
		}
	default:
		var data map[string]any
		if err := json.Unmarshal(change.Datos, &data); err != nil {
			return fmt.Errorf("decode remote payload: %w", err)
		}
		if err := upsertLocal(tx, change.Tabla, change.RecordUUID, data); err != nil {
			return fmt.Errorf("apply upsert: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT OR IGNORE INTO change_log (uuid, table_name, record_uuid, operation, payload, timestamp, version, synced)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		change.UUID, change.Tabla, change.RecordUUID, change.Operacion, string(change.Datos),
		change.Timestamp.UTC().Format(time.RFC3339Nano), change.Version,
	)
	if err != nil {
		return fmt.Errorf("record remote change: %w", err)
	}

	return tx.Commit()
}

// upsertLocal merges the given fields into an existing row or inserts a
// new one, never clearing columns the payload does not carry.
func upsertLocal(tx *sql.Tx, tabla, recordUUID string, data map[string]any) error {
	existing := readRow(tx, tabla, recordUUID)

	fields := make(map[string]any, len(existing)+len(data)+1)
	for k, v := range existing {
		fields[k] = v
	}
	for k, v := range data {
		fields[k] = v
	}
	fields["uuid"] = recordUUID

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	placeholders := make([]string, len(keys))
	vals := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		vals[i] = fields[k]
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		tabla, strings.Join(keys, ", "), strings.Join(placeholders, ", "))

	_, err := tx.Exec(query, vals...)
	return err
}

// readRow reads all columns of a row into a map, nil if absent.
func readRow(tx *sql.Tx, tabla, recordUUID string) map[string]any {
	rows, err := tx.Query(fmt.Sprintf("SELECT * FROM %s WHERE uuid = ?", tabla), recordUUID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	if !rows.Next() {
		return nil
	}

	cols, err := rows.Columns()
	if err != nil {
		return nil
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil
	}

	result := make(map[string]any, len(cols))
	for i, col := range cols {
		if vals[i] != nil {
			result[col] = vals[i]
		}
	}
	return result
}

// QueryEntity reads a record from a device's local mirror, nil if absent.
func (h *Harness) QueryEntity(deviceName, tabla, recordUUID string) map[string]any {
	h.t.Helper()

	d, ok := h.Devices[deviceName]
	if !ok {
		h.t.Fatalf("unknown device: %s", deviceName)
	}

	tx, err := d.DB.Begin()
	if err != nil {
		h.t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()

	return readRow(tx, tabla, recordUUID)
}

// CountEntities counts rows in a device's local table.
func (h *Harness) CountEntities(deviceName, tabla string) int {
	h.t.Helper()

	d := h.Devices[deviceName]
	var n int
	if err := d.DB.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", tabla)).Scan(&n); err != nil {
		h.t.Fatalf("count %s: %v", tabla, err)
	}
	return n
}

// AssertConverged verifies all devices hold identical business data.
func (h *Harness) AssertConverged() {
	h.t.Helper()

	if len(h.deviceKeys) < 2 {
		return
	}

	for _, tabla := range entityTables {
		var refDump, refDevice string
		for i, name := range h.deviceKeys {
			dump := h.dumpTable(name, tabla)
			if i == 0 {
				refDump, refDevice = dump, name
				continue
			}
			if dump != refDump {
				h.t.Fatalf("table %s diverged between %s and %s:\n%s\nvs\n%s",
					tabla, refDevice, name, refDump, dump)
			}
		}
	}
}

// dumpTable renders a device's table as canonical JSON ordered by uuid.
func (h *Harness) dumpTable(deviceName, tabla string) string {
	h.t.Helper()

	d := h.Devices[deviceName]
	rows, err := d.DB.Query(fmt.Sprintf("SELECT * FROM %s ORDER BY uuid", tabla))
	if err != nil {
		h.t.Fatalf("dump %s: %v", tabla, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		h.t.Fatalf("columns %s: %v", tabla, err)
	}

	var dump []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			h.t.Fatalf("scan %s: %v", tabla, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := vals[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		dump = append(dump, row)
	}
	if err := rows.Err(); err != nil {
		h.t.Fatalf("iterate %s: %v", tabla, err)
	}

	out, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		h.t.Fatalf("encode dump: %v", err)
	}
	return string(out)
}
