// Package engine is the per-table engine: it owns a
// DuckDB connection to exactly one .duckdb file and runs DDL, DML,
// import/export and profiling against the single table that file
// holds (`main.data`). Callers are responsible for holding the
// table's pkg/tablelock handle around every mutating call — this
// package has no locking of its own.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	duckdb "github.com/duckdb/duckdb-go/v2"
	"github.com/keboola/storage-core/pkg/apierr"
)

// mainTable is the single table every engine file holds.
const mainTable = "main.data"

// Engine wraps one DuckDB connection scoped to a single table file.
type Engine struct {
	path string
	db   *sql.DB
}

// Open opens (creating if necessary) the DuckDB file at path.
func Open(path string) (*Engine, error) {
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, apierr.EngineError(err, "open duckdb file %s", path)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1) // one writer per table file
	return &Engine{path: path, db: db}, nil
}

// OpenReadOnly opens path for read-only access, for preview/profile
// calls that the spec permits to run without the table lock.
func OpenReadOnly(path string) (*Engine, error) {
	connector, err := duckdb.NewConnector(path+"?access_mode=read_only", nil)
	if err != nil {
		return nil, apierr.EngineError(err, "open duckdb file %s read-only", path)
	}
	db := sql.OpenDB(connector)
	return &Engine{path: path, db: db}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// Column describes one column in a create_table/add_column/alter_column call.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
	HasDefault bool
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIdent validates name is a plain SQL identifier and wraps it in
// double quotes. DuckDB, like Postgres, treats double-quoted
// identifiers literally, so this is safe against injection as long as
// name itself contains no quote character — which identRe guarantees.
func quoteIdent(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", apierr.Validation("invalid identifier: %q", name)
	}
	return `"` + name + `"`, nil
}

// CreateTable creates main.data with the given columns and, if pk is
// non-empty, a primary key constraint.
func (e *Engine) CreateTable(ctx context.Context, columns []Column, pk []string) error {
	if len(columns) == 0 {
		return apierr.Validation("create_table requires at least one column")
	}
	var defs []string
	for _, c := range columns {
		ident, err := quoteIdent(c.Name)
		if err != nil {
			return err
		}
		def := fmt.Sprintf("%s %s", ident, c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.HasDefault {
			def += " DEFAULT " + c.Default
		}
		defs = append(defs, def)
	}
	if len(pk) > 0 {
		pkIdents := make([]string, len(pk))
		for i, col := range pk {
			ident, err := quoteIdent(col)
			if err != nil {
				return err
			}
			pkIdents[i] = ident
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pkIdents, ", ")+")")
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", mainTable, strings.Join(defs, ", "))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return apierr.EngineError(err, "create_table")
	}
	return nil
}

// DropTable drops main.data. Dropping a table that doesn't exist
// returns success.
func (e *Engine) DropTable(ctx context.Context) error {
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", mainTable)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return apierr.EngineError(err, "drop_table")
	}
	return nil
}

// TableInfo is the structured response of GetTableInfo.
type TableInfo struct {
	Columns  []ColumnInfo
	RowCount int64
}

type ColumnInfo struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// GetTableInfo reads schema and row count from main.data.
func (e *Engine) GetTableInfo(ctx context.Context) (*TableInfo, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", mainTable))
	if err != nil {
		return nil, apierr.EngineError(err, "get_table_info: describe")
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull bool
		var dfltValue sql.NullString
		var pk bool
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return nil, apierr.EngineError(err, "get_table_info: scan column")
		}
		cols = append(cols, ColumnInfo{Name: name, Type: typ, Nullable: !notnull, PrimaryKey: pk})
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.EngineError(err, "get_table_info: iterate")
	}

	var count int64
	row := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", mainTable))
	if err := row.Scan(&count); err != nil {
		return nil, apierr.EngineError(err, "get_table_info: count")
	}

	return &TableInfo{Columns: cols, RowCount: count}, nil
}

// Preview runs an unlocked, row-capped read.
func (e *Engine) Preview(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", mainTable, limit))
	if err != nil {
		return nil, apierr.EngineError(err, "preview")
	}
	defer rows.Close()
	return scanRowsToMaps(rows)
}

func scanRowsToMaps(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, apierr.EngineError(err, "read columns")
	}
	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apierr.EngineError(err, "scan row")
		}
		rec := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AddColumn runs ALTER TABLE ADD COLUMN. NOT NULL without a default is
// a known DuckDB limitation; the engine surfaces it unchanged rather
// than papering over it with an implicit default.
func (e *Engine) AddColumn(ctx context.Context, col Column) error {
	ident, err := quoteIdent(col.Name)
	if err != nil {
		return err
	}
	def := fmt.Sprintf("%s %s", ident, col.Type)
	if !col.Nullable {
		def += " NOT NULL"
	}
	if col.HasDefault {
		def += " DEFAULT " + col.Default
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", mainTable, def)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return apierr.EngineError(err, "add_column")
	}
	return nil
}

// DropColumn rejects name being part of the primary key, or being the
// only remaining column.
func (e *Engine) DropColumn(ctx context.Context, name string) error {
	info, err := e.GetTableInfo(ctx)
	if err != nil {
		return err
	}
	if len(info.Columns) <= 1 {
		return apierr.Validation("cannot drop the last remaining column %q", name)
	}
	for _, c := range info.Columns {
		if c.Name == name && c.PrimaryKey {
			return apierr.Validation("cannot drop column %q: part of the primary key", name)
		}
	}
	ident, err := quoteIdent(name)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", mainTable, ident)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return apierr.EngineError(err, "drop_column")
	}
	return nil
}

// AlterColumnOptions is a partial update; at least one field must be set.
type AlterColumnOptions struct {
	NewName     string
	NewType     string
	NewNullable *bool
	NewDefault  string
	HasDefault  bool
}

// AlterColumn requires at least one change and fails with conflict if
// NewName collides with an existing column.
func (e *Engine) AlterColumn(ctx context.Context, name string, opts AlterColumnOptions) error {
	if opts.NewName == "" && opts.NewType == "" && opts.NewNullable == nil && !opts.HasDefault {
		return apierr.Validation("alter_column requires at least one change")
	}
	ident, err := quoteIdent(name)
	if err != nil {
		return err
	}

	if opts.NewType != "" {
		stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DATA TYPE %s", mainTable, ident, opts.NewType)
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return apierr.EngineError(err, "alter_column: set type")
		}
	}
	if opts.NewNullable != nil {
		clause := "DROP NOT NULL"
		if !*opts.NewNullable {
			clause = "SET NOT NULL"
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", mainTable, ident, clause)
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return apierr.EngineError(err, "alter_column: set nullability")
		}
	}
	if opts.HasDefault {
		stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", mainTable, ident, opts.NewDefault)
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return apierr.EngineError(err, "alter_column: set default")
		}
	}
	if opts.NewName != "" {
		info, err := e.GetTableInfo(ctx)
		if err != nil {
			return err
		}
		for _, c := range info.Columns {
			if c.Name == opts.NewName {
				return apierr.Conflict("column %q already exists", opts.NewName)
			}
		}
		newIdent, err := quoteIdent(opts.NewName)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", mainTable, ident, newIdent)
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return apierr.EngineError(err, "alter_column: rename")
		}
	}
	return nil
}

// AddPrimaryKey fails if a PK already exists, if a named column is
// missing, or if current data violates uniqueness.
func (e *Engine) AddPrimaryKey(ctx context.Context, columns []string) error {
	if len(columns) == 0 {
		return apierr.Validation("add_primary_key requires at least one column")
	}
	info, err := e.GetTableInfo(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(info.Columns))
	for _, c := range info.Columns {
		have[c.Name] = true
		if c.PrimaryKey {
			return apierr.Conflict("table already has a primary key")
		}
	}
	idents := make([]string, len(columns))
	for i, col := range columns {
		if !have[col] {
			return apierr.Validation("column %q does not exist", col)
		}
		ident, err := quoteIdent(col)
		if err != nil {
			return err
		}
		idents[i] = ident
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", mainTable, strings.Join(idents, ", "))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return apierr.Conflict("add_primary_key: uniqueness violated or engine rejected: %v", err)
	}
	return nil
}

// DropPrimaryKey fails if no primary key is currently set.
func (e *Engine) DropPrimaryKey(ctx context.Context) error {
	info, err := e.GetTableInfo(ctx)
	if err != nil {
		return err
	}
	hasPK := false
	for _, c := range info.Columns {
		if c.PrimaryKey {
			hasPK = true
			break
		}
	}
	if !hasPK {
		return apierr.Validation("table has no primary key to drop")
	}
	stmt := fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", mainTable)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return apierr.EngineError(err, "drop_primary_key")
	}
	return nil
}

var forbiddenWhere = regexp.MustCompile(`;|--|/\*`)

// IsDeleteAll reports whether a where-clause is semantically
// "delete every row": empty, "1=1", or "TRUE" (case-insensitive).
func IsDeleteAll(where string) bool {
	w := strings.ToUpper(strings.TrimSpace(where))
	return w == "" || w == "1=1" || w == "TRUE"
}

// DeleteRows runs DELETE FROM main.data [WHERE where]. Clauses
// containing statement separators or comment markers are rejected
// outright.
func (e *Engine) DeleteRows(ctx context.Context, where string) (int64, error) {
	if forbiddenWhere.MatchString(where) {
		return 0, apierr.Validation("where clause contains forbidden tokens")
	}
	stmt := fmt.Sprintf("DELETE FROM %s", mainTable)
	if strings.TrimSpace(where) != "" {
		stmt += " WHERE " + where
	}
	res, err := e.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, apierr.EngineError(err, "delete_rows")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apierr.EngineError(err, "delete_rows: rows affected")
	}
	return n, nil
}

// ImportFormat is the source file format for ImportFromFile.
type ImportFormat string

const (
	FormatCSV     ImportFormat = "csv"
	FormatParquet ImportFormat = "parquet"
	FormatJSON    ImportFormat = "json"
)

// DedupMode controls incremental import collision handling.
type DedupMode string

const (
	DedupAppend            DedupMode = "append"
	DedupUpdateDuplicates   DedupMode = "update_duplicates"
)

// ImportOptions configures ImportFromFile.
type ImportOptions struct {
	Delimiter   string
	Enclosure   string
	Escape      string
	Incremental bool
	DedupMode   DedupMode
	PrimaryKey  []string
}

// ImportResult is the structured response of ImportFromFile.
type ImportResult struct {
	ImportedRows int64
	TotalRows    int64
	SizeBytes    int64
	Columns      []string
}

// ImportFromFile loads source into main.data. If !options.Incremental
// the table is truncated first; if incremental with dedup_mode =
// update_duplicates and a PK, matching rows are overwritten; otherwise
// import is append-only.
func (e *Engine) ImportFromFile(ctx context.Context, source string, format ImportFormat, options ImportOptions) (*ImportResult, error) {
	readExpr, err := readExpression(source, format, options)
	if err != nil {
		return nil, err
	}

	if !options.Incremental {
		if _, err := e.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", mainTable)); err != nil {
			return nil, apierr.EngineError(err, "import_from_file: truncate")
		}
	}

	var before int64
	if err := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", mainTable)).Scan(&before); err != nil {
		return nil, apierr.EngineError(err, "import_from_file: count before")
	}

	if options.Incremental && options.DedupMode == DedupUpdateDuplicates && len(options.PrimaryKey) > 0 {
		stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s SELECT * FROM %s", mainTable, readExpr)
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return nil, apierr.EngineError(err, "import_from_file: upsert")
		}
	} else {
		stmt := fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", mainTable, readExpr)
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return nil, apierr.EngineError(err, "import_from_file: append")
		}
	}

	var after int64
	if err := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", mainTable)).Scan(&after); err != nil {
		return nil, apierr.EngineError(err, "import_from_file: count after")
	}

	info, err := e.GetTableInfo(ctx)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(info.Columns))
	for i, c := range info.Columns {
		cols[i] = c.Name
	}

	return &ImportResult{
		ImportedRows: after - before,
		TotalRows:    after,
		SizeBytes:    e.fileSize(),
		Columns:      cols,
	}, nil
}

func readExpression(source string, format ImportFormat, options ImportOptions) (string, error) {
	quoted := "'" + strings.ReplaceAll(source, "'", "''") + "'"
	switch format {
	case FormatCSV:
		args := []string{quoted}
		if options.Delimiter != "" {
			args = append(args, fmt.Sprintf("delim=%s", sqlLit(options.Delimiter)))
		}
		if options.Enclosure != "" {
			args = append(args, fmt.Sprintf("quote=%s", sqlLit(options.Enclosure)))
		}
		if options.Escape != "" {
			args = append(args, fmt.Sprintf("escape=%s", sqlLit(options.Escape)))
		}
		return fmt.Sprintf("read_csv(%s)", strings.Join(args, ", ")), nil
	case FormatParquet:
		return fmt.Sprintf("read_parquet(%s)", quoted), nil
	case FormatJSON:
		return fmt.Sprintf("read_json_auto(%s)", quoted), nil
	default:
		return "", apierr.Validation("unsupported import format: %q", format)
	}
}

func sqlLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ExportOptions configures ExportToFile.
type ExportOptions struct {
	Columns     []string
	Where       string
	Compression string
}

// ExportResult is the structured response of ExportToFile.
type ExportResult struct {
	RowsExported  int64
	FileSizeBytes int64
}

// ExportToFile is read-only: it never mutates main.data.
func (e *Engine) ExportToFile(ctx context.Context, dest string, format ImportFormat, options ExportOptions) (*ExportResult, error) {
	projection := "*"
	if len(options.Columns) > 0 {
		idents := make([]string, len(options.Columns))
		for i, c := range options.Columns {
			ident, err := quoteIdent(c)
			if err != nil {
				return nil, err
			}
			idents[i] = ident
		}
		projection = strings.Join(idents, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", projection, mainTable)
	if strings.TrimSpace(options.Where) != "" {
		if forbiddenWhere.MatchString(options.Where) {
			return nil, apierr.Validation("where clause contains forbidden tokens")
		}
		query += " WHERE " + options.Where
	}

	var rowCount int64
	countQuery := fmt.Sprintf("SELECT count(*) FROM (%s)", query)
	if err := e.db.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		return nil, apierr.EngineError(err, "export_to_file: count")
	}

	copyOpts := []string{fmt.Sprintf("FORMAT %s", strings.ToUpper(string(format)))}
	if options.Compression != "" {
		copyOpts = append(copyOpts, fmt.Sprintf("COMPRESSION %s", options.Compression))
	}

	quotedDest := "'" + strings.ReplaceAll(dest, "'", "''") + "'"
	stmt := fmt.Sprintf("COPY (%s) TO %s (%s)", query, quotedDest, strings.Join(copyOpts, ", "))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return nil, apierr.EngineError(err, "export_to_file")
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, apierr.EngineError(err, "export_to_file: stat destination")
	}
	return &ExportResult{RowsExported: rowCount, FileSizeBytes: info.Size()}, nil
}

func (e *Engine) fileSize() int64 {
	var size int64
	row := e.db.QueryRow("SELECT total_size FROM pragma_database_size()")
	_ = row.Scan(&size)
	return size
}

// ColumnProfile is the per-column section of Profile's response.
type ColumnProfile struct {
	Name              string
	Min               interface{}
	Max               interface{}
	ApproxDistinct    int64
	NullPercentage    float64
	Mean              *float64
	StdDev            *float64
	Percentiles       map[string]float64
	Skewness          *float64
	Kurtosis          *float64
	OutlierCount      *int64
	OutlierLowerBound *float64
	OutlierUpperBound *float64
}

// ProfileResult is the structured response of Profile.
type ProfileResult struct {
	RowCount    int64
	ColumnCount int
	Columns     []ColumnProfile
}

var numericTypes = map[string]bool{
	"TINYINT": true, "SMALLINT": true, "INTEGER": true, "BIGINT": true, "HUGEINT": true,
	"UTINYINT": true, "USMALLINT": true, "UINTEGER": true, "UBIGINT": true,
	"FLOAT": true, "DOUBLE": true, "DECIMAL": true, "REAL": true,
}

// Profile computes per-column summary statistics. Numeric columns get
// the full distributional profile; everything else gets the base set
// (min, max, approx distinct, null percentage).
func (e *Engine) Profile(ctx context.Context) (*ProfileResult, error) {
	info, err := e.GetTableInfo(ctx)
	if err != nil {
		return nil, err
	}

	result := &ProfileResult{RowCount: info.RowCount, ColumnCount: len(info.Columns)}
	for _, c := range info.Columns {
		ident, err := quoteIdent(c.Name)
		if err != nil {
			return nil, err
		}

		cp := ColumnProfile{Name: c.Name, Percentiles: map[string]float64{}}

		baseQuery := fmt.Sprintf(
			`SELECT min(%s), max(%s), approx_count_distinct(%s),
			        sum(CASE WHEN %s IS NULL THEN 1 ELSE 0 END) * 100.0 / greatest(count(*), 1)
			 FROM %s`, ident, ident, ident, ident, mainTable)
		row := e.db.QueryRowContext(ctx, baseQuery)
		var min, max interface{}
		if err := row.Scan(&min, &max, &cp.ApproxDistinct, &cp.NullPercentage); err != nil {
			return nil, apierr.EngineError(err, "profile: base stats for %s", c.Name)
		}
		cp.Min, cp.Max = min, max

		baseType := strings.ToUpper(strings.SplitN(c.Type, "(", 2)[0])
		if numericTypes[baseType] {
			statsQuery := fmt.Sprintf(
				`SELECT avg(%s), stddev(%s), skewness(%s), kurtosis(%s),
				        quantile_cont(%s, 0.01), quantile_cont(%s, 0.05),
				        quantile_cont(%s, 0.25), quantile_cont(%s, 0.50),
				        quantile_cont(%s, 0.75), quantile_cont(%s, 0.95),
				        quantile_cont(%s, 0.99)
				 FROM %s`,
				ident, ident, ident, ident, ident, ident, ident, ident, ident, ident, ident, mainTable)
			var mean, stddev, skew, kurt, q01, q05, q25, q50, q75, q95, q99 sql.NullFloat64
			row := e.db.QueryRowContext(ctx, statsQuery)
			if err := row.Scan(&mean, &stddev, &skew, &kurt, &q01, &q05, &q25, &q50, &q75, &q95, &q99); err != nil {
				return nil, apierr.EngineError(err, "profile: numeric stats for %s", c.Name)
			}
			if mean.Valid {
				v := mean.Float64
				cp.Mean = &v
			}
			if stddev.Valid {
				v := stddev.Float64
				cp.StdDev = &v
			}
			if skew.Valid {
				v := skew.Float64
				cp.Skewness = &v
			}
			if kurt.Valid {
				v := kurt.Float64
				cp.Kurtosis = &v
			}
			for k, v := range map[string]sql.NullFloat64{
				"q01": q01, "q05": q05, "q25": q25, "q50": q50, "q75": q75, "q95": q95, "q99": q99,
			} {
				if v.Valid {
					cp.Percentiles[k] = v.Float64
				}
			}
			if stddev.Valid && mean.Valid {
				lower := mean.Float64 - 3*stddev.Float64
				upper := mean.Float64 + 3*stddev.Float64
				cp.OutlierLowerBound, cp.OutlierUpperBound = &lower, &upper
				var outliers int64
				outlierQuery := fmt.Sprintf(
					"SELECT count(*) FROM %s WHERE %s < ? OR %s > ?", mainTable, ident, ident)
				if err := e.db.QueryRowContext(ctx, outlierQuery, lower, upper).Scan(&outliers); err == nil {
					cp.OutlierCount = &outliers
				}
			}
		}

		result.Columns = append(result.Columns, cp)
	}

	return result, nil
}

// Attach runs ATTACH '<path>' AS <alias> READ_ONLY against this
// engine's connection, used by the share/link and workspace engines
// to cross-attach other table files.
func (e *Engine) Attach(ctx context.Context, path, alias string) error {
	aliasIdent, err := quoteIdent(alias)
	if err != nil {
		return err
	}
	quotedPath := "'" + strings.ReplaceAll(path, "'", "''") + "'"
	stmt := fmt.Sprintf("ATTACH %s AS %s (READ_ONLY)", quotedPath, aliasIdent)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return apierr.EngineError(err, "attach %s", alias)
	}
	return nil
}

// Detach runs DETACH <alias>, tolerant of the alias not being attached.
func (e *Engine) Detach(ctx context.Context, alias string) error {
	aliasIdent, err := quoteIdent(alias)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DETACH DATABASE IF EXISTS %s", aliasIdent)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return apierr.EngineError(err, "detach %s", alias)
	}
	return nil
}

// Exec runs an arbitrary statement against this engine's connection,
// used by the workspace and PG-wire session engines for free-form SQL.
func (e *Engine) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return e.db.ExecContext(ctx, query, args...)
}

// Query runs an arbitrary query and returns *sql.Rows, used by the
// workspace and PG-wire session engines.
func (e *Engine) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, query, args...)
}

// QueryRow runs an arbitrary query expected to return at most one row,
// used by the workspace engine's row-count bookkeeping.
func (e *Engine) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return e.db.QueryRowContext(ctx, query, args...)
}

// SetStatementTimeout bounds the next statement's execution time
//.
func (e *Engine) SetStatementTimeout(ctx context.Context, d time.Duration) error {
	ms := d.Milliseconds()
	_, err := e.db.ExecContext(ctx, fmt.Sprintf("SET statement_timeout='%dms'", ms))
	return err
}
