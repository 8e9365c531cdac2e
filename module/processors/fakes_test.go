package processors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"shuttle/service/hub/hubpb"
)

type execCall struct {
	sql  string
	args []any
}

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.id
	return nil
}

// fakeTx records statements; unimplemented pgx.Tx methods panic through the nil embed.
type fakeTx struct {
	pgx.Tx

	mu      sync.Mutex
	calls   []execCall
	execErr error
	row     fakeRow
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, execCall{sql: sql, args: args})
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, execCall{sql: sql, args: args})
	return t.row
}

func message(typ hubpb.MessageType, fid uint64, hash []byte, body hubpb.Body) *hubpb.Message {
	return &hubpb.Message{
		Data: &hubpb.MessageData{
			Type:      typ,
			Fid:       fid,
			Timestamp: 100,
			Network:   1,
			Body:      body,
		},
		Hash:            hash,
		HashScheme:      1,
		Signature:       []byte("sig"),
		SignatureScheme: 1,
		Signer:          []byte{0xab, 0xcd},
	}
}

type messageKey struct {
	hash string
	fid  int64
	typ  int16
}

type messageRow struct {
	id                             int64
	deletedAt, prunedAt, revokedAt *time.Time
}

type castState struct {
	deletedAt *time.Time
}

// tableDB keeps the messages and casts tables in memory and applies the
// upsert and soft-delete statements with the same conflict rules Postgres does.
type tableDB struct {
	mu       sync.Mutex
	nextID   int64
	messages map[messageKey]*messageRow
	casts    map[string]*castState
}

func newTableDB() *tableDB {
	return &tableDB{messages: map[messageKey]*messageRow{}, casts: map[string]*castState{}}
}

func (d *tableDB) Begin(context.Context) (pgx.Tx, error) { return &tableTx{db: d}, nil }

func (d *tableDB) message(hash string, fid int64, typ hubpb.MessageType) *messageRow {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.messages[messageKey{hash: hash, fid: fid, typ: int16(typ)}]
}

func (d *tableDB) liveCasts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var live []string
	for hash, c := range d.casts {
		if c.deletedAt == nil {
			live = append(live, hash)
		}
	}
	return live
}

// setOnce mirrors COALESCE(existing, excluded).
func setOnce(dst **time.Time, v *time.Time) bool {
	if *dst != nil || v == nil {
		return false
	}
	*dst = v
	return true
}

type tableTx struct {
	pgx.Tx
	db *tableDB
}

func (t *tableTx) Commit(context.Context) error   { return nil }
func (t *tableTx) Rollback(context.Context) error { return nil }

func (t *tableTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if sql != sqlUpsertMessage {
		return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
	}
	d := t.db
	d.mu.Lock()
	defer d.mu.Unlock()

	key := messageKey{hash: args[5].(string), fid: args[0].(int64), typ: args[1].(int16)}
	deletedAt, prunedAt, revokedAt := args[8].(*time.Time), args[9].(*time.Time), args[10].(*time.Time)
	row, ok := d.messages[key]
	if !ok {
		d.nextID++
		row = &messageRow{id: d.nextID, deletedAt: deletedAt, prunedAt: prunedAt, revokedAt: revokedAt}
		d.messages[key] = row
		return fakeRow{id: row.id}
	}
	changed := setOnce(&row.deletedAt, deletedAt)
	changed = setOnce(&row.prunedAt, prunedAt) || changed
	changed = setOnce(&row.revokedAt, revokedAt) || changed
	if !changed {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{id: row.id}
}

func (t *tableTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d := t.db
	d.mu.Lock()
	defer d.mu.Unlock()

	switch sql {
	case sqlInsertCast:
		hash := args[2].(string)
		if _, ok := d.casts[hash]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		d.casts[hash] = &castState{}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case sqlDeleteCast:
		at, hash := args[0].(time.Time), args[1].(string)
		c, ok := d.casts[hash]
		if !ok || c.deletedAt != nil {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		c.deletedAt = &at
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected statement: %s", sql)
}
