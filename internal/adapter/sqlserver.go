package adapter

import (
	"context"
	"database/sql"

	_ "github.com/denisenkom/go-mssqldb"
)

// SQLServerAdapter SQL Server 适配器
type SQLServerAdapter struct {
	db *sql.DB
}

// NewSQLServerAdapter 创建 SQL Server 适配器
func NewSQLServerAdapter(db *sql.DB) *SQLServerAdapter {
	return &SQLServerAdapter{db: db}
}

// IntrospectSchema 获取元数据
func (a *SQLServerAdapter) IntrospectSchema(ctx context.Context) (*SchemaMetadata, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_SCHEMA, TABLE_NAME
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return introspect(ctx, tables, a.getColumns)
}

func (a *SQLServerAdapter) getColumns(ctx context.Context, t Table) ([]Column, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			c.COLUMN_NAME,
			c.DATA_TYPE,
			CAST(CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END AS BIT),
			CAST(CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END AS BIT)
		FROM INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
			SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
				ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME
			WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		) pk ON c.TABLE_SCHEMA = pk.TABLE_SCHEMA
			AND c.TABLE_NAME = pk.TABLE_NAME
			AND c.COLUMN_NAME = pk.COLUMN_NAME
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION
	`, t.Schema, t.Name)
	if err != nil {
		return nil, err
	}
	return scanColumns(rows)
}

// GetForeignKeys 获取外键约束
func (a *SQLServerAdapter) GetForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			OBJECT_NAME(fk.parent_object_id),
			COL_NAME(fkc.parent_object_id, fkc.parent_column_id),
			OBJECT_NAME(fk.referenced_object_id),
			COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id)
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
	`)
	if err != nil {
		return nil, err
	}
	return scanForeignKeys(rows)
}

// Close 关闭连接
func (a *SQLServerAdapter) Close() error {
	return a.db.Close()
}
