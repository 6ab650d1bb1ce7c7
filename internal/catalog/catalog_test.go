package catalog

import (
	"bytes"
	"errors"
	"testing"

	"graph-migrator/internal/adapter"
	"graph-migrator/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gamesYAML = `
entities:
  - table: game
    columns: [game_id, title, score, release_date]
    label: Game
  - table: genre
    columns: [genre_id, name]
    label: Genre
  - table: genre_type
    columns: [genre_type_id, name]
    label: GenreType
  - table: company
    columns: [company_id, name]
    label: Company
relationships:
  - table: games_genres
    columns: [game_id, genre_id]
    source: Game
    target: Genre
    type: HAS_GENRE
  - table: games_companies
    columns: [game_id, company_id, type]
    source: Game
    target: Company
    types: [developer, publisher]
  - table: genre
    kind: foreign_key
    columns: [genre_id, genre_type_id]
    source: Genre
    target: GenreType
    type: IS_TYPE
mapping:
  Game:
    game_id: game_id
    title: name
    score: score
    release_date: release_date
`

func TestParseGames(t *testing.T) {
	c, err := Parse([]byte(gamesYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"Game", "Genre", "GenreType", "Company"}, c.Labels())

	game, ok := c.Entity("Game")
	require.True(t, ok)
	assert.Equal(t, "game", game.SourceTable)
	assert.Equal(t, "game_id", game.IdentityKey)

	rels := c.Relationships()
	require.Len(t, rels, 3)

	assert.Equal(t, "HAS_GENRE", rels[0].RelationshipType)
	assert.False(t, rels[0].Derived())
	assert.Equal(t, KindBridge, rels[0].Kind)
	assert.Equal(t, "game_id", rels[0].SourceKey)
	assert.Equal(t, "genre_id", rels[0].TargetKey)

	assert.True(t, rels[1].Derived())
	assert.Equal(t, "type", rels[1].TypeColumn)
	assert.True(t, rels[1].TypeAllowed("developer"))
	assert.False(t, rels[1].TypeAllowed("DROP"))

	assert.Equal(t, KindForeignKey, rels[2].Kind)
	assert.Equal(t, "genre.genre_type_id", rels[2].Name())

	assert.Equal(t, []string{"HAS_GENRE", "IS_TYPE", "developer", "publisher"}, c.RelationshipTypes())
}

func TestParseShippedCatalog(t *testing.T) {
	c, err := Load("../../configs/catalog.yaml")
	require.NoError(t, err)
	for _, r := range c.Relationships() {
		assert.Equal(t, "identifier", r.SourceKey, r.Name())
		assert.Equal(t, "identifier", r.TargetKey, r.Name())
	}
}

func TestJoinKeyOverride(t *testing.T) {
	c, err := Parse([]byte(`
entities:
  - {table: game, columns: [game_id, name], label: Game}
  - {table: genre, columns: [genre_id, name], label: Genre}
mapping:
  Game: {game_id: identifier, name: name}
  Genre: {genre_id: identifier, name: name}
relationships:
  - {table: games_genres, columns: [game_id, genre_id], source: Game, target: Genre, join_key: identifier, type: HAS_GENRE}
`))
	require.NoError(t, err)
	r := c.Relationships()[0]
	assert.Equal(t, "identifier", r.SourceKey)
	assert.Equal(t, "identifier", r.TargetKey)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{
		{
			name:    "empty",
			yaml:    ``,
			message: "no entity tables declared",
		},
		{
			name: "duplicate label",
			yaml: `
entities:
  - {table: game, columns: [game_id], label: Game}
  - {table: game2, columns: [game_id], label: Game}
`,
			message: `duplicate label "Game"`,
		},
		{
			name: "undeclared label with suggestion",
			yaml: `
entities:
  - {table: game, columns: [game_id], label: Game}
  - {table: genre, columns: [genre_id], label: Genre}
relationships:
  - {table: games_genres, columns: [game_id, genre_id], source: Game, target: Genra, type: HAS_GENRE}
`,
			message: `undeclared target label "Genra" (did you mean "Genre"?)`,
		},
		{
			name: "injection in label",
			yaml: `
entities:
  - {table: game, columns: [game_id], label: "Game) DETACH DELETE n //"}
`,
			message: "is not a valid identifier",
		},
		{
			name: "empty columns",
			yaml: `
entities:
  - {table: game, columns: [], label: Game}
`,
			message: "columns must not be empty",
		},
		{
			name: "derived type without allow-list",
			yaml: `
entities:
  - {table: game, columns: [game_id], label: Game}
  - {table: company, columns: [company_id], label: Company}
relationships:
  - {table: games_companies, columns: [game_id, company_id, type], source: Game, target: Company}
`,
			message: "need an allow-list",
		},
		{
			name: "derived type without type column",
			yaml: `
entities:
  - {table: game, columns: [game_id], label: Game}
  - {table: company, columns: [company_id], label: Company}
relationships:
  - {table: games_companies, columns: [game_id, company_id], source: Game, target: Company, types: [developer]}
`,
			message: "no type column available",
		},
		{
			name: "mapping drops identity key",
			yaml: `
entities:
  - {table: game, columns: [game_id, title], label: Game}
mapping:
  Game: {title: name}
`,
			message: `identity column "game_id" of Game has no mapping entry`,
		},
		{
			name: "mapping drops explicit identity",
			yaml: `
entities:
  - {table: game, columns: [game_id, title], label: Game, identity: game_id}
mapping:
  Game: {title: name}
`,
			message: `identity key "game_id" is not a property of the mapped node`,
		},
		{
			name: "mapping of unknown field",
			yaml: `
entities:
  - {table: game, columns: [game_id, title], label: Game}
mapping:
  Game: {game_id: game_id, titel: name}
`,
			message: `field "titel" is not a column of game (did you mean "title"?)`,
		},
		{
			name: "foreign key on wrong table",
			yaml: `
entities:
  - {table: genre, columns: [genre_id], label: Genre}
  - {table: genre_type, columns: [genre_type_id], label: GenreType}
relationships:
  - {table: genre_links, kind: foreign_key, columns: [genre_id, genre_type_id], source: Genre, target: GenreType, type: IS_TYPE}
`,
			message: "must read the source entity table",
		},
		{
			name: "join key not on node",
			yaml: `
entities:
  - {table: game, columns: [game_id], label: Game}
  - {table: genre, columns: [genre_id], label: Genre}
relationships:
  - {table: games_genres, columns: [game_id, genre_id], source: Game, target: Genre, join_key: identifier, type: HAS_GENRE}
`,
			message: `"identifier" is not a property of Game`,
		},
		{
			name: "unknown yaml field",
			yaml: `
entities:
  - {table: game, columns: [game_id], label: Game, lable: Oops}
`,
			message: "lable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrConfiguration))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

// 只映射 title 的 Game：映射后的节点只剩 name，没有标识属性，加载时就拒绝
func TestParseRejectsTitleOnlyMapping(t *testing.T) {
	_, err := Parse([]byte(`
entities:
  - table: game
    columns: [game_id, title, score, release_date]
    label: Game
mapping:
  Game:
    title: name
`))
	require.Error(t, err)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
	assert.Contains(t, err.Error(), `entity Game: identity column "game_id" of Game has no mapping entry`)
	assert.NotContains(t, err.Error(), `identity key ""`)
}

func TestCheckSource(t *testing.T) {
	c, err := Parse([]byte(gamesYAML))
	require.NoError(t, err)

	meta := &adapter.SchemaMetadata{Tables: []adapter.Table{
		{Name: "game", Columns: cols("game_id", "title", "score", "release_date")},
		{Name: "genre", Columns: cols("genre_id", "name", "genre_type_id")},
		{Name: "genre_type", Columns: cols("genre_type_id", "name")},
		{Name: "company", Columns: cols("company_id", "name")},
		{Name: "games_genres", Columns: cols("game_id", "genre_id")},
		{Name: "games_companies", Columns: cols("game_id", "company_id", "type")},
	}}
	require.NoError(t, c.CheckSource(meta))

	meta.Tables[0].Columns = cols("game_id", "titel", "score", "release_date")
	meta.Tables = meta.Tables[:5]
	err = c.CheckSource(meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `table game has no column "title" (did you mean "titel"?)`)
	assert.Contains(t, err.Error(), `table "games_companies" does not exist`)
}

func TestToFileRoundTrip(t *testing.T) {
	c, err := Parse([]byte(gamesYAML))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, c.ToFile()))

	again, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, c.Entities(), again.Entities())
	assert.Equal(t, c.Relationships(), again.Relationships())
}

func TestClosest(t *testing.T) {
	labels := []string{"Game", "Genre", "GenreType", "Platform"}
	assert.Equal(t, "Genre", Closest("genre", labels))
	assert.Equal(t, "Platform", Closest("Platfrom", labels))
	assert.Equal(t, "", Closest("Company", labels))
}

func cols(names ...string) []adapter.Column {
	out := make([]adapter.Column, len(names))
	for i, n := range names {
		out[i] = adapter.Column{Name: n}
	}
	return out
}
