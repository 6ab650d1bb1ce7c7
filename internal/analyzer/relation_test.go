package analyzer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"graph-migrator/internal/adapter"
	"graph-migrator/internal/catalog"
	"graph-migrator/internal/extract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateNameSimilarity(t *testing.T) {
	r := NewRelationshipInferer(nil)

	tests := []struct {
		name1    string
		name2    string
		expected float64
		minScore float64
	}{
		{"game_id", "game_id", 1.0, 1.0},
		{"GenreID", "genre_id", 0, 0.7},
		{"developer_id", "developer", 0.8, 0.8},
		{"id", "game_id", 0, 0},
		{"DepartmentID", "DepID", 0, 0},
		{"UserID", "UserId", 1.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name1+"_"+tt.name2, func(t *testing.T) {
			score := r.calculateNameSimilarity(tt.name1, tt.name2)
			if tt.expected > 0 {
				assert.Equal(t, tt.expected, score)
			} else {
				assert.GreaterOrEqual(t, score, tt.minScore)
				if tt.minScore == 0 {
					assert.Zero(t, score)
				}
			}
		})
	}
}

func TestIsTypeCompatible(t *testing.T) {
	r := NewRelationshipInferer(nil)

	tests := []struct {
		type1    string
		type2    string
		expected bool
	}{
		{"varchar", "varchar", true},
		{"varchar", "nvarchar", true},
		{"int", "bigint", true},
		{"varchar", "int", false},
		{"text", "varchar", true},
		{"VARCHAR(255)", "character varying", true},
		{"INTEGER", "int4", true},
	}

	for _, tt := range tests {
		t.Run(tt.type1+"_"+tt.type2, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.isTypeCompatible(tt.type1, tt.type2))
		})
	}
}

func pk(name, typ string) adapter.Column {
	return adapter.Column{Name: name, DataType: typ, IsPrimaryKey: true}
}

func col(name, typ string) adapter.Column {
	return adapter.Column{Name: name, DataType: typ, Nullable: true}
}

func gamesMetadata() *adapter.SchemaMetadata {
	return &adapter.SchemaMetadata{Tables: []adapter.Table{
		{Name: "game", Columns: []adapter.Column{pk("game_id", "INTEGER"), col("name", "TEXT")}},
		{Name: "genre", Columns: []adapter.Column{pk("genre_id", "INTEGER"), col("name", "TEXT"), col("genre_type_id", "INTEGER")}},
		{Name: "genre_type", Columns: []adapter.Column{pk("genre_type_id", "int"), col("name", "varchar(64)")}},
		{Name: "company", Columns: []adapter.Column{pk("company_id", "INTEGER"), col("name", "TEXT")}},
		{Name: "games_genres", Columns: []adapter.Column{pk("game_id", "INTEGER"), pk("genre_id", "INTEGER")}},
	}}
}

func TestInferReferences(t *testing.T) {
	r := NewRelationshipInferer(nil)
	refs := r.InferReferences(gamesMetadata(), nil)

	got := make([]string, len(refs))
	for i, ref := range refs {
		got[i] = ref.FromTable + "." + ref.FromColumn + "->" + ref.ToTable + "." + ref.ToColumn
		assert.False(t, ref.Declared)
		assert.InDelta(t, 1.0, ref.Confidence, 1e-9, ref.String())
	}
	assert.Equal(t, []string{
		"games_genres.game_id->game.game_id",
		"games_genres.genre_id->genre.genre_id",
		"genre.genre_type_id->genre_type.genre_type_id",
	}, got)
}

func TestInferReferencesPrefersDeclared(t *testing.T) {
	meta := gamesMetadata()
	meta.Tables[0].Columns = append(meta.Tables[0].Columns, col("publisher", "INTEGER"))
	fks := []adapter.ForeignKey{
		{FromTable: "game", FromColumn: "publisher", ToTable: "company", ToColumn: "company_id"},
		{FromTable: "genre", FromColumn: "genre_type_id", ToTable: "genre_type", ToColumn: "genre_type_id"},
	}

	refs := NewRelationshipInferer(nil).InferReferences(meta, fks)
	require.Len(t, refs, 4)

	byColumn := make(map[string]Reference)
	for _, ref := range refs {
		byColumn[ref.FromTable+"."+ref.FromColumn] = ref
	}
	publisher := byColumn["game.publisher"]
	assert.True(t, publisher.Declared)
	assert.Equal(t, "company", publisher.ToTable)
	assert.Equal(t, []string{"declared foreign key"}, publisher.Evidence)
	assert.True(t, byColumn["genre.genre_type_id"].Declared)
	assert.False(t, byColumn["games_genres.game_id"].Declared)
}

func TestDraftGames(t *testing.T) {
	res := NewDrafter(nil, nil).Draft(context.Background(), gamesMetadata(), nil)
	assert.Empty(t, res.Skipped)

	labels := make([]string, len(res.File.Entities))
	for i, e := range res.File.Entities {
		labels[i] = e.Label
	}
	assert.Equal(t, []string{"Company", "Game", "Genre", "GenreType"}, labels)

	require.Len(t, res.File.Relationships, 2)
	fk := res.File.Relationships[0]
	assert.Equal(t, "genre", fk.Table)
	assert.Equal(t, string(catalog.KindForeignKey), fk.Kind)
	assert.Equal(t, []string{"genre_id", "genre_type_id"}, fk.Columns)
	assert.Equal(t, "Genre", fk.Source)
	assert.Equal(t, "GenreType", fk.Target)
	assert.Equal(t, "HAS_GENRE_TYPE", fk.Type)

	bridge := res.File.Relationships[1]
	assert.Equal(t, "games_genres", bridge.Table)
	assert.Empty(t, bridge.Kind)
	assert.Equal(t, []string{"game_id", "genre_id"}, bridge.Columns)
	assert.Equal(t, "Game", bridge.Source)
	assert.Equal(t, "Genre", bridge.Target)
	assert.Equal(t, "HAS_GENRE", bridge.Type)

	// 草稿必须能直接通过 catalog 校验，也能写回 YAML 再读出
	c, err := catalog.New(res.File)
	require.NoError(t, err)
	assert.Len(t, c.Relationships(), 2)

	var buf bytes.Buffer
	require.NoError(t, catalog.Encode(&buf, res.File))
	_, err = catalog.Parse(buf.Bytes())
	require.NoError(t, err)
}

func TestDraftSkipsUnusableTables(t *testing.T) {
	meta := gamesMetadata()
	meta.Tables = append(meta.Tables,
		adapter.Table{Name: "bad-name", Columns: []adapter.Column{pk("id", "int")}},
		adapter.Table{Name: "audit_log", Columns: []adapter.Column{pk("at", "TEXT"), pk("actor", "TEXT"), col("message", "TEXT")}},
	)

	res := NewDrafter(nil, nil).Draft(context.Background(), meta, nil)
	assert.ElementsMatch(t, []string{"bad-name", "audit_log"}, res.Skipped)
	_, err := catalog.New(res.File)
	require.NoError(t, err)
}

func TestDraftTargetKey(t *testing.T) {
	meta := &adapter.SchemaMetadata{Tables: []adapter.Table{
		{Name: "company", Columns: []adapter.Column{pk("company_id", "INTEGER"), col("code", "TEXT")}},
		{Name: "game", Columns: []adapter.Column{pk("game_id", "INTEGER"), col("studio", "TEXT")}},
	}}
	fks := []adapter.ForeignKey{{FromTable: "game", FromColumn: "studio", ToTable: "company", ToColumn: "code"}}

	res := NewDrafter(nil, nil).Draft(context.Background(), meta, fks)
	require.Len(t, res.File.Relationships, 1)
	assert.Equal(t, "code", res.File.Relationships[0].TargetKey)
	_, err := catalog.New(res.File)
	require.NoError(t, err)
}

func TestLabelAndTypeNames(t *testing.T) {
	assert.Equal(t, "GenreType", LabelFor("genre_type"))
	assert.Equal(t, "Game", LabelFor("game"))
	assert.Equal(t, "GamesGenres", LabelFor("games__genres"))
	assert.Equal(t, "HAS_GENRE_TYPE", TypeFor("GenreType"))
	assert.Equal(t, "HAS_GAME", TypeFor("Game"))
}

type fakeSampler struct {
	values []any
	err    error
}

func (f fakeSampler) FetchRows(ctx context.Context, table string, columns []string) ([]extract.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	rows := make([]extract.Row, len(f.values))
	for i, v := range f.values {
		rows[i] = extract.Row{v}
	}
	return rows, nil
}

func TestDetectTypeColumn(t *testing.T) {
	ctx := context.Background()

	tc, err := NewEnumDetector(fakeSampler{values: []any{"developer", "publisher", "developer", "developer"}}).
		DetectTypeColumn(ctx, "games_companies", "type")
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, []string{"developer", "publisher"}, tc.Values)
	assert.InDelta(t, 0.9, tc.Confidence, 1e-9)

	// 非字符串、不能作为类型名的取值都不算枚举
	for _, values := range [][]any{{int64(1), int64(2)}, {"co-developer"}, {nil}, {}} {
		tc, err = NewEnumDetector(fakeSampler{values: values}).DetectTypeColumn(ctx, "games_companies", "type")
		require.NoError(t, err)
		assert.Nil(t, tc)
	}

	_, err = NewEnumDetector(fakeSampler{err: errors.New("boom")}).DetectTypeColumn(ctx, "games_companies", "type")
	assert.Error(t, err)
}

func TestDraftDerivedType(t *testing.T) {
	meta := gamesMetadata()
	meta.Tables = append(meta.Tables, adapter.Table{Name: "games_companies", Columns: []adapter.Column{
		col("game_id", "INTEGER"), col("company_id", "INTEGER"), col("type", "TEXT"),
	}})
	enums := NewEnumDetector(fakeSampler{values: []any{"developer", "publisher", "developer", "developer"}})

	res := NewDrafter(enums, nil).Draft(context.Background(), meta, nil)
	var rf *catalog.RelationshipFile
	for i := range res.File.Relationships {
		if res.File.Relationships[i].Table == "games_companies" {
			rf = &res.File.Relationships[i]
		}
	}
	require.NotNil(t, rf)
	assert.Equal(t, []string{"company_id", "game_id", "type"}, rf.Columns)
	assert.Empty(t, rf.Type)
	assert.Equal(t, "type", rf.TypeColumn)
	assert.Equal(t, []string{"developer", "publisher"}, rf.Types)

	c, err := catalog.New(res.File)
	require.NoError(t, err)
	assert.Contains(t, c.RelationshipTypes(), "publisher")
}
