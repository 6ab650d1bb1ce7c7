package adapter

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLAdapter MySQL 适配器
type MySQLAdapter struct {
	db     *sql.DB
	schema string
}

// NewMySQLAdapter 创建 MySQL 适配器
func NewMySQLAdapter(db *sql.DB, schema string) *MySQLAdapter {
	return &MySQLAdapter{db: db, schema: schema}
}

// IntrospectSchema 获取元数据
func (a *MySQLAdapter) IntrospectSchema(ctx context.Context) (*SchemaMetadata, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`, a.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t := Table{Schema: a.schema}
		if err := rows.Scan(&t.Name); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return introspect(ctx, tables, a.getColumns)
}

func (a *MySQLAdapter) getColumns(ctx context.Context, t Table) ([]Column, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			IS_NULLABLE = 'YES',
			COLUMN_KEY = 'PRI'
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, a.schema, t.Name)
	if err != nil {
		return nil, err
	}
	return scanColumns(rows)
}

// GetForeignKeys 获取外键约束
func (a *MySQLAdapter) GetForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			kcu.TABLE_NAME,
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		WHERE kcu.TABLE_SCHEMA = ?
			AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
	`, a.schema)
	if err != nil {
		return nil, err
	}
	return scanForeignKeys(rows)
}

// Close 关闭连接
func (a *MySQLAdapter) Close() error {
	return a.db.Close()
}
