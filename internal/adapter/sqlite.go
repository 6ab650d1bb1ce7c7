package adapter

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteAdapter SQLite 适配器
type SQLiteAdapter struct {
	db *sql.DB
}

// NewSQLiteAdapter 创建 SQLite 适配器
func NewSQLiteAdapter(db *sql.DB) *SQLiteAdapter {
	return &SQLiteAdapter{db: db}
}

// IntrospectSchema 获取元数据
func (a *SQLiteAdapter) IntrospectSchema(ctx context.Context) (*SchemaMetadata, error) {
	tables, err := a.getTables(ctx)
	if err != nil {
		return nil, err
	}
	return introspect(ctx, tables, a.getColumns)
}

func (a *SQLiteAdapter) getTables(ctx context.Context) ([]Table, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t := Table{Schema: "main"}
		if err := rows.Scan(&t.Name); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (a *SQLiteAdapter) getColumns(ctx context.Context, t Table) ([]Column, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT name, type, "notnull" = 0, pk > 0
		FROM pragma_table_info(?)
		ORDER BY cid
	`, t.Name)
	if err != nil {
		return nil, err
	}
	return scanColumns(rows)
}

// GetForeignKeys 获取外键约束
func (a *SQLiteAdapter) GetForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	tables, err := a.getTables(ctx)
	if err != nil {
		return nil, err
	}
	var fks []ForeignKey
	for _, t := range tables {
		rows, err := a.db.QueryContext(ctx, `
			SELECT ?, "from", "table", COALESCE("to", '')
			FROM pragma_foreign_key_list(?)
		`, t.Name, t.Name)
		if err != nil {
			return nil, err
		}
		tableFKs, err := scanForeignKeys(rows)
		if err != nil {
			return nil, err
		}
		fks = append(fks, tableFKs...)
	}
	return fks, nil
}

// Close 关闭连接
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}
