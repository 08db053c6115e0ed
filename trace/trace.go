// Package trace records completed W5500 bus transactions into a
// SQLite database for offline protocol analysis. Records are buffered
// and written in batches; a process exit hook flushes any remainder.
package trace

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// A Record describes one completed bus transaction.
type Record struct {
	Time    int64
	Address uint16
	Control uint8
	Size    int
	Write   bool
}

// Recorder implements the driver trace sink, storing transaction
// records into a SQLite database.
type Recorder struct {
	mu        sync.Mutex
	db        *sql.DB
	records   []Record
	batchSize int
}

const createTableSQL = `CREATE TABLE transactions (
	time INTEGER,
	address INTEGER,
	control INTEGER,
	size INTEGER,
	write INTEGER
);`

const insertSQL = `INSERT INTO transactions
	(time, address, control, size, write) VALUES (?, ?, ?, ?, ?)`

// New creates a transaction recorder backed by a new SQLite database
// file at the given path. An empty path generates a unique filename.
func New(path string) (*Recorder, error) {
	if path == "" {
		path = "w5500_bus_trace_" + xid.New().String()
	}
	filename := path + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("trace: file %s already exists", filename)
	}
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("trace: opening database: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace: creating table: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Bus trace database created: %s\n", filename)

	r := &Recorder{db: db, batchSize: 4096}
	atexit.Register(func() { r.Flush() })
	return r, nil
}

// RecordTransaction buffers one transaction record. It is invoked
// from the driver's bus adaptor context and never blocks on the
// database.
func (r *Recorder) RecordTransaction(
	address uint16, control uint8, size int, write bool) {
	r.mu.Lock()
	r.records = append(r.records, Record{
		Time:    time.Now().UnixNano(),
		Address: address,
		Control: control,
		Size:    size,
		Write:   write,
	})
	flush := len(r.records) >= r.batchSize
	r.mu.Unlock()

	if flush {
		go r.Flush()
	}
}

// Flush writes all buffered records to the database.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	records := r.records
	r.records = nil
	r.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("trace: starting transaction: %w", err)
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("trace: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(
			rec.Time, rec.Address, rec.Control, rec.Size, rec.Write,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("trace: inserting record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("trace: committing records: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the database.
func (r *Recorder) Close() error {
	if err := r.Flush(); err != nil {
		r.db.Close()
		return err
	}
	return r.db.Close()
}
