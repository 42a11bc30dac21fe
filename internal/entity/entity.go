// Package entity defines the closed set of business tables that participate
// in synchronization and applies change-log operations to them. Every table
// is declared up front with an explicit column whitelist; payload keys
// outside the whitelist are dropped, so a client can never write to a column
// the registry does not name.
package entity

import (
	"database/sql"
	"fmt"
	"strings"
)

// Definition describes one replicated table. Columns lists the writable
// payload columns; id and uuid are managed by the registry and never
// client-writable.
type Definition struct {
	Table   string
	Columns []string
}

// ErrUnknownTable reports a table outside the registry.
type ErrUnknownTable struct {
	Table string
}

func (e *ErrUnknownTable) Error() string {
	return fmt.Sprintf("unknown table: %s", e.Table)
}

var definitions = []Definition{
	{Table: "clientes", Columns: []string{"nombre", "cedula", "telefono", "email", "direccion", "fecha_registro"}},
	{Table: "productos", Columns: []string{"codigo", "nombre", "descripcion", "precio_costo", "precio_venta", "stock"}},
	{Table: "ventas", Columns: []string{"cliente_uuid", "total", "tipo", "saldo_pendiente", "fecha"}},
	{Table: "detalle_ventas", Columns: []string{"venta_uuid", "producto_uuid", "cantidad", "precio_unitario", "subtotal"}},
	{Table: "abonos", Columns: []string{"venta_uuid", "monto", "fecha", "cobrador_uuid", "caja_uuid"}},
	{Table: "cajas", Columns: []string{"nombre", "saldo_inicial", "fecha_apertura"}},
	{Table: "movimientos_caja", Columns: []string{"caja_uuid", "tipo", "monto", "fecha", "descripcion"}},
}

var byTable = func() map[string]*Definition {
	m := make(map[string]*Definition, len(definitions))
	for i := range definitions {
		m[definitions[i].Table] = &definitions[i]
	}
	return m
}()

// Lookup returns the definition for table, or an ErrUnknownTable.
func Lookup(table string) (*Definition, error) {
	d, ok := byTable[table]
	if !ok {
		return nil, &ErrUnknownTable{Table: table}
	}
	return d, nil
}

// Tables returns the registered table names in declaration order.
func Tables() []string {
	names := make([]string, len(definitions))
	for i, d := range definitions {
		names[i] = d.Table
	}
	return names
}

// Apply replays one change-log operation onto the business row identified by
// recordUUID, inside the caller's transaction. INSERT upserts so a replayed
// change converges to the same row. UPDATE touches only whitelisted columns
// present in the payload and is a no-op when the row does not exist. DELETE
// is a no-op when the row is already gone.
func (d *Definition) Apply(tx *sql.Tx, operation, recordUUID string, payload map[string]any) error {
	switch operation {
	case "INSERT":
		return d.upsert(tx, recordUUID, payload)
	case "UPDATE":
		return d.update(tx, recordUUID, payload)
	case "DELETE":
		_, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE uuid = ?`, d.Table), recordUUID)
		if err != nil {
			return fmt.Errorf("%s: delete %s: %w", d.Table, recordUUID, err)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown operation %q", d.Table, operation)
	}
}

func (d *Definition) upsert(tx *sql.Tx, recordUUID string, payload map[string]any) error {
	cols := []string{"uuid"}
	args := []any{recordUUID}
	var updates []string
	for _, c := range d.Columns {
		v, ok := payload[c]
		if !ok {
			continue
		}
		cols = append(cols, c)
		args = append(args, v)
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		d.Table, strings.Join(cols, ", "), placeholders(len(cols)))
	if len(updates) > 0 {
		q += fmt.Sprintf(` ON CONFLICT(uuid) DO UPDATE SET %s`, strings.Join(updates, ", "))
	} else {
		q += ` ON CONFLICT(uuid) DO NOTHING`
	}

	if _, err := tx.Exec(q, args...); err != nil {
		return fmt.Errorf("%s: insert %s: %w", d.Table, recordUUID, err)
	}
	return nil
}

func (d *Definition) update(tx *sql.Tx, recordUUID string, payload map[string]any) error {
	var sets []string
	var args []any
	for _, c := range d.Columns {
		v, ok := payload[c]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = ?", c))
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, recordUUID)

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE uuid = ?`, d.Table, strings.Join(sets, ", "))
	if _, err := tx.Exec(q, args...); err != nil {
		return fmt.Errorf("%s: update %s: %w", d.Table, recordUUID, err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
