package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"stocktest/internal/domain"
)

// Compile-time interface checks.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store backed by a SQLite database. Reads run
// concurrently; writes are serialised through writeMu because SQLite admits
// a single writer and every merge must see a consistent coverage row.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
	now     func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", connectionString(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dbPath, err)
	}

	s := &SQLiteStore{db: db, path: dbPath, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func connectionString(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database location this store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS securities (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker     TEXT NOT NULL UNIQUE,
			name       TEXT,
			asset_type TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS prices (
			security_id    INTEGER NOT NULL REFERENCES securities(id),
			day            INTEGER NOT NULL,
			open           INTEGER NOT NULL,
			high           INTEGER NOT NULL,
			low            INTEGER NOT NULL,
			close          INTEGER NOT NULL,
			volume         INTEGER NOT NULL,
			adjusted_close INTEGER,
			PRIMARY KEY (security_id, day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prices_day ON prices(day)`,

		`CREATE TABLE IF NOT EXISTS cache_metadata (
			security_id   INTEGER PRIMARY KEY REFERENCES securities(id),
			last_fetch    INTEGER NOT NULL,
			earliest_day  INTEGER,
			latest_day    INTEGER,
			total_records INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS no_data_ranges (
			security_id  INTEGER NOT NULL REFERENCES securities(id),
			start_day    INTEGER NOT NULL,
			end_day      INTEGER NOT NULL,
			last_checked INTEGER NOT NULL,
			PRIMARY KEY (security_id, start_day, end_day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_no_data_ranges_span ON no_data_ranges(security_id, start_day, end_day)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// SecurityStore implementation
// ---------------------------------------------------------------------------

// EnsureSecurity inserts ticker if it is new and returns the stored row.
func (s *SQLiteStore) EnsureSecurity(ctx context.Context, ticker string) (domain.Security, bool, error) {
	ticker = domain.NormalizeTicker(ticker)
	if ticker == "" {
		return domain.Security{}, false, errors.New("empty ticker")
	}

	s.writeMu.Lock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO securities (ticker, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(ticker) DO NOTHING`,
		ticker, s.now().Unix(), s.now().Unix())
	s.writeMu.Unlock()
	if err != nil {
		return domain.Security{}, false, domain.WrapStorage("insert security", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Security{}, false, domain.WrapStorage("insert security", err)
	}

	sec, ok, err := s.GetSecurity(ctx, ticker)
	if err != nil {
		return domain.Security{}, false, err
	}
	if !ok {
		return domain.Security{}, false, domain.WrapStorage("insert security", fmt.Errorf("%s vanished after insert", ticker))
	}
	return sec, n > 0, nil
}

// GetSecurity looks up a security by ticker.
func (s *SQLiteStore) GetSecurity(ctx context.Context, ticker string) (domain.Security, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ticker, COALESCE(name, ''), COALESCE(asset_type, ''), created_at, updated_at
		 FROM securities WHERE ticker = ?`, domain.NormalizeTicker(ticker))

	sec, err := scanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Security{}, false, nil
	}
	if err != nil {
		return domain.Security{}, false, domain.WrapStorage("get security", err)
	}
	return sec, true, nil
}

// UpdateSecurityInfo sets display name and asset type.
func (s *SQLiteStore) UpdateSecurityInfo(ctx context.Context, ticker, name, assetType string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE securities SET name = ?, asset_type = NULLIF(?, ''), updated_at = ? WHERE ticker = ?`,
		name, assetType, s.now().Unix(), domain.NormalizeTicker(ticker))
	return domain.WrapStorage("update security", err)
}

// ListSecurities returns every security ordered by ticker.
func (s *SQLiteStore) ListSecurities(ctx context.Context) ([]domain.Security, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, COALESCE(name, ''), COALESCE(asset_type, ''), created_at, updated_at
		 FROM securities ORDER BY ticker`)
	if err != nil {
		return nil, domain.WrapStorage("list securities", err)
	}
	defer rows.Close()

	var out []domain.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, domain.WrapStorage("list securities", err)
		}
		out = append(out, sec)
	}
	return out, domain.WrapStorage("list securities", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSecurity(r rowScanner) (domain.Security, error) {
	var (
		sec              domain.Security
		created, updated int64
	)
	if err := r.Scan(&sec.Ticker, &sec.Name, &sec.AssetType, &created, &updated); err != nil {
		return domain.Security{}, err
	}
	sec.CreatedAt = time.Unix(created, 0).UTC()
	sec.UpdatedAt = time.Unix(updated, 0).UTC()
	return sec, nil
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// ReadBars returns cached bars within r ordered by day.
func (s *SQLiteStore) ReadBars(ctx context.Context, ticker string, r domain.DateRange) ([]domain.PriceBar, error) {
	ticker = domain.NormalizeTicker(ticker)
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.day, p.open, p.high, p.low, p.close, p.adjusted_close, p.volume
		 FROM prices p JOIN securities s ON s.id = p.security_id
		 WHERE s.ticker = ? AND p.day BETWEEN ? AND ?
		 ORDER BY p.day`, ticker, int64(r.Start), int64(r.End))
	if err != nil {
		return nil, domain.WrapStorage("read bars", err)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		var (
			b   = domain.PriceBar{Ticker: ticker}
			adj sql.NullInt64
		)
		if err := rows.Scan(&b.Day, &b.Open, &b.High, &b.Low, &b.Close, &adj, &b.Volume); err != nil {
			return nil, domain.WrapStorage("read bars", err)
		}
		if adj.Valid {
			c := domain.Cents(adj.Int64)
			b.AdjClose = &c
		}
		bars = append(bars, b)
	}
	return bars, domain.WrapStorage("read bars", rows.Err())
}

// BarDays returns cached trading days within r.
func (s *SQLiteStore) BarDays(ctx context.Context, ticker string, r domain.DateRange) ([]domain.Day, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.day FROM prices p JOIN securities s ON s.id = p.security_id
		 WHERE s.ticker = ? AND p.day BETWEEN ? AND ?
		 ORDER BY p.day`, domain.NormalizeTicker(ticker), int64(r.Start), int64(r.End))
	if err != nil {
		return nil, domain.WrapStorage("read bar days", err)
	}
	defer rows.Close()

	var days []domain.Day
	for rows.Next() {
		var d domain.Day
		if err := rows.Scan(&d); err != nil {
			return nil, domain.WrapStorage("read bar days", err)
		}
		days = append(days, d)
	}
	return days, domain.WrapStorage("read bar days", rows.Err())
}

// NoDataRanges returns confirmed-empty ranges overlapping r.
func (s *SQLiteStore) NoDataRanges(ctx context.Context, ticker string, r domain.DateRange) ([]domain.NoDataRange, error) {
	ticker = domain.NormalizeTicker(ticker)
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.start_day, n.end_day, n.last_checked
		 FROM no_data_ranges n JOIN securities s ON s.id = n.security_id
		 WHERE s.ticker = ? AND n.start_day <= ? AND n.end_day >= ?
		 ORDER BY n.start_day, n.end_day`, ticker, int64(r.End), int64(r.Start))
	if err != nil {
		return nil, domain.WrapStorage("read no-data ranges", err)
	}
	defer rows.Close()

	var out []domain.NoDataRange
	for rows.Next() {
		var (
			nd      = domain.NoDataRange{Ticker: ticker}
			checked int64
		)
		if err := rows.Scan(&nd.Range.Start, &nd.Range.End, &checked); err != nil {
			return nil, domain.WrapStorage("read no-data ranges", err)
		}
		nd.LastChecked = time.Unix(checked, 0).UTC()
		out = append(out, nd)
	}
	return out, domain.WrapStorage("read no-data ranges", rows.Err())
}

// Coverage returns the coverage row for ticker.
func (s *SQLiteStore) Coverage(ctx context.Context, ticker string) (domain.CacheCoverage, bool, error) {
	ticker = domain.NormalizeTicker(ticker)
	var (
		lastFetch        int64
		earliest, latest sql.NullInt64
		total            sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT c.last_fetch, c.earliest_day, c.latest_day, c.total_records
		 FROM cache_metadata c JOIN securities s ON s.id = c.security_id
		 WHERE s.ticker = ?`, ticker).Scan(&lastFetch, &earliest, &latest, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheCoverage{}, false, nil
	}
	if err != nil {
		return domain.CacheCoverage{}, false, domain.WrapStorage("read coverage", err)
	}
	return domain.CacheCoverage{
		Ticker:       ticker,
		LastFetch:    time.Unix(lastFetch, 0).UTC(),
		EarliestDay:  domain.Day(earliest.Int64),
		LatestDay:    domain.Day(latest.Int64),
		TotalRecords: int(total.Int64),
	}, true, nil
}

// ApplyFetch merges one fetch result in a single transaction.
func (s *SQLiteStore) ApplyFetch(ctx context.Context, w FetchWrite) (int, error) {
	ticker := domain.NormalizeTicker(w.Ticker)
	if ticker == "" {
		return 0, errors.New("apply fetch: empty ticker")
	}
	fetchedAt := w.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.WrapStorage("begin merge", err)
	}
	inserted, err := applyFetchTx(ctx, tx, ticker, w, fetchedAt)
	if err != nil {
		_ = tx.Rollback()
		return 0, domain.WrapStorage("merge "+ticker, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.WrapStorage("commit merge "+ticker, err)
	}
	return inserted, nil
}

func applyFetchTx(ctx context.Context, tx *sql.Tx, ticker string, w FetchWrite, fetchedAt time.Time) (int, error) {
	now := fetchedAt.Unix()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO securities (ticker, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(ticker) DO NOTHING`, ticker, now, now); err != nil {
		return 0, err
	}
	var secID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM securities WHERE ticker = ?`, ticker).Scan(&secID); err != nil {
		return 0, err
	}

	inserted := 0
	if len(w.Bars) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO prices (security_id, day, open, high, low, close, volume, adjusted_close)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		for _, b := range w.Bars {
			var adj any
			if b.AdjClose != nil {
				adj = int64(*b.AdjClose)
			}
			res, err := stmt.ExecContext(ctx, secID, int64(b.Day),
				int64(b.Open), int64(b.High), int64(b.Low), int64(b.Close), b.Volume, adj)
			if err != nil {
				return 0, fmt.Errorf("insert bar %s: %w", b.Day, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return 0, err
			}
			inserted += int(n)
		}
	}

	for _, r := range w.NoData {
		if r.End < r.Start {
			return 0, fmt.Errorf("invalid no-data range %s", r)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO no_data_ranges (security_id, start_day, end_day, last_checked)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(security_id, start_day, end_day) DO UPDATE SET last_checked = excluded.last_checked`,
			secID, int64(r.Start), int64(r.End), now); err != nil {
			return 0, fmt.Errorf("insert no-data range %s: %w", r, err)
		}
	}

	if len(w.Bars) == 0 {
		return inserted, nil
	}

	var (
		earliest, latest sql.NullInt64
		total            int64
	)
	if err := tx.QueryRowContext(ctx,
		`SELECT MIN(day), MAX(day), COUNT(*) FROM prices WHERE security_id = ?`, secID).
		Scan(&earliest, &latest, &total); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_metadata (security_id, last_fetch, earliest_day, latest_day, total_records)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(security_id) DO UPDATE SET
			last_fetch = excluded.last_fetch,
			earliest_day = excluded.earliest_day,
			latest_day = excluded.latest_day,
			total_records = excluded.total_records`,
		secID, now, earliest, latest, total); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE securities SET updated_at = ? WHERE id = ?`, now, secID); err != nil {
		return 0, err
	}
	return inserted, nil
}
