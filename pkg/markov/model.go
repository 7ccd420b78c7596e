package markov

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	// BeginTokenID is the reserved vocabulary ID for the Begin sentinel.
	BeginTokenID = 0
	// EndTokenID is the reserved vocabulary ID for the End sentinel.
	EndTokenID = 1
)

// SetupSchema initializes the necessary tables and special vocabulary entries
// in the provided database. This function should be called once on a new
// database before any other operations are performed. It is idempotent and
// safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaVocab = `
CREATE TABLE IF NOT EXISTS haiku_vocabulary (
    token_id INTEGER PRIMARY KEY,
    token_text TEXT NOT NULL UNIQUE,
    syllables INTEGER NOT NULL DEFAULT 0
);
`
		schemaStates = `
CREATE TABLE IF NOT EXISTS haiku_states (
	state_id INTEGER PRIMARY KEY,
	state_text TEXT NOT NULL UNIQUE
);
`
		schemaModels = `
CREATE TABLE IF NOT EXISTS haiku_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    state_size INTEGER NOT NULL,
    retain_original INTEGER NOT NULL DEFAULT 0
);
`
		schemaTransitions = `
CREATE TABLE IF NOT EXISTS haiku_transitions (
    model_id INTEGER NOT NULL,
    state_id INTEGER NOT NULL,
    next_token_id INTEGER NOT NULL,
    weight REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (model_id, state_id, next_token_id)
);
`
		schemaSentences = `
CREATE TABLE IF NOT EXISTS haiku_sentences (
    sentence_id INTEGER PRIMARY KEY,
    model_id INTEGER NOT NULL,
    sentence_text TEXT NOT NULL
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaVocab, schemaStates, schemaModels, schemaTransitions, schemaSentences} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	const insertSpecial = `INSERT OR IGNORE INTO haiku_vocabulary (token_id, token_text, syllables) VALUES (?, ?, 0);`
	if _, err = tx.Exec(insertSpecial, BeginTokenID, Begin); err != nil {
		return fmt.Errorf("could not insert special tokens: %w", err)
	}
	if _, err = tx.Exec(insertSpecial, EndTokenID, End); err != nil {
		return fmt.Errorf("could not insert special tokens: %w", err)
	}

	// If all commands were successful, commit the transaction.
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// ModelInfo holds the essential metadata for a stored model: its unique ID,
// name, the state size of its table, and whether training sentences are kept.
type ModelInfo struct {
	Id        int    `json:"id"`
	Name      string `json:"name"`
	StateSize int    `json:"state_size"`
	Retain    bool   `json:"retain_original"`
}

// Store keeps trained transition tables in a SQLite database. It holds the
// database connection, a tokenizer for training, and prepared SQL statements
// for efficient database interaction.
type Store struct {
	db                   *sql.DB
	tokenizer            Tokenizer
	stmtGetModelInfo     *sql.Stmt
	stmtGetModels        *sql.Stmt
	stmtAddModel         *sql.Stmt
	stmtPruneModel       *sql.Stmt
	stmtModelTransitions *sql.Stmt
	stmtModelStarters    *sql.Stmt
	stmtModelWeight      *sql.Stmt
	stmtGetStateID       *sql.Stmt
	stmtGetTokenText     *sql.Stmt
	stmtGetVocabLen      *sql.Stmt
	stmtGetStateLen      *sql.Stmt
	stmtInsertVocab      *sql.Stmt
	stmtGetOrInsertState *sql.Stmt
	stmtLoadTransitions  *sql.Stmt
	stmtLoadSentences    *sql.Stmt
	logger               *slog.Logger
}

// NewStore creates and returns a new Store. It takes a database connection
// and a Tokenizer implementation. It pre-compiles all necessary SQL statements,
// returning an error if any preparation fails.
func NewStore(db *sql.DB, tokenizer Tokenizer) (*Store, error) {
	s := &Store{
		db:        db,
		tokenizer: tokenizer,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if s.tokenizer == nil {
		s.tokenizer = NewDefaultTokenizer()
	}

	statements := []struct {
		stmt  **sql.Stmt
		query string
	}{
		{&s.stmtGetModelInfo, `SELECT model_id, state_size, retain_original FROM haiku_models WHERE model_name = ?;`},
		{&s.stmtGetModels, `SELECT model_id, model_name, state_size, retain_original FROM haiku_models;`},
		{&s.stmtAddModel, `INSERT INTO haiku_models (model_name, state_size, retain_original) VALUES (?, ?, ?);`},
		{&s.stmtPruneModel, `DELETE FROM haiku_transitions WHERE model_id = ? AND weight <= ?;`},
		{&s.stmtModelTransitions, `SELECT COUNT(*) FROM haiku_transitions WHERE model_id = ?;`},
		{&s.stmtModelStarters, `SELECT COUNT(*) FROM haiku_transitions WHERE model_id = ? AND state_id = ?;`},
		{&s.stmtModelWeight, `SELECT coalesce(SUM(weight), 0) FROM haiku_transitions WHERE model_id = ?;`},
		{&s.stmtGetStateID, `SELECT state_id FROM haiku_states WHERE state_text = ?;`},
		{&s.stmtGetTokenText, `SELECT token_text FROM haiku_vocabulary WHERE token_id = ?;`},
		{&s.stmtGetVocabLen, `SELECT COUNT(*) FROM haiku_vocabulary;`},
		{&s.stmtGetStateLen, `SELECT COUNT(*) FROM haiku_states;`},
		{&s.stmtInsertVocab, `INSERT INTO haiku_vocabulary (token_text, syllables) VALUES (?, ?) ON CONFLICT(token_text) DO UPDATE SET syllables=excluded.syllables RETURNING token_id;`},
		{&s.stmtGetOrInsertState, `INSERT INTO haiku_states (state_text) VALUES (?) ON CONFLICT(state_text) DO UPDATE SET state_text=excluded.state_text RETURNING state_id;`},
		{&s.stmtLoadTransitions, `
SELECT s.state_text, t.next_token_id, v.token_text, v.syllables, t.weight
FROM haiku_transitions t
JOIN haiku_states s ON s.state_id = t.state_id
JOIN haiku_vocabulary v ON v.token_id = t.next_token_id
WHERE t.model_id = ?
ORDER BY t.rowid;`},
		{&s.stmtLoadSentences, `SELECT sentence_text FROM haiku_sentences WHERE model_id = ? ORDER BY sentence_id;`},
	}

	for _, st := range statements {
		stmt, err := db.Prepare(st.query)
		if err != nil {
			s.Close()
			return nil, err
		}
		*st.stmt = stmt
	}

	return s, nil
}

// Close releases all prepared SQL statements held by the Store. It should be
// called when the Store is no longer needed to free up database resources.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtGetModelInfo, s.stmtGetModels, s.stmtAddModel, s.stmtPruneModel,
		s.stmtModelTransitions, s.stmtModelStarters, s.stmtModelWeight,
		s.stmtGetStateID, s.stmtGetTokenText, s.stmtGetVocabLen, s.stmtGetStateLen,
		s.stmtInsertVocab, s.stmtGetOrInsertState, s.stmtLoadTransitions, s.stmtLoadSentences,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// GetModelInfos retrieves metadata for all models currently in the database,
// returning them in a map keyed by model name.
func (s *Store) GetModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name, &model.StateSize, &model.Retain); err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModelInfo retrieves the metadata for a single model specified by name.
// It returns sql.ErrNoRows if the model does not exist.
func (s *Store) GetModelInfo(ctx context.Context, modelName string) (ModelInfo, error) {
	model := ModelInfo{Name: modelName}
	err := s.stmtGetModelInfo.QueryRowContext(ctx, modelName).Scan(&model.Id, &model.StateSize, &model.Retain)
	if err != nil {
		return ModelInfo{}, err
	}
	return model, nil
}

// InsertModel creates a new model entry in the database.
func (s *Store) InsertModel(ctx context.Context, model ModelInfo) error {
	if model.StateSize <= 0 {
		return fmt.Errorf("%w: state size must be positive, got %d", ErrValidation, model.StateSize)
	}
	_, err := s.stmtAddModel.ExecContext(ctx, model.Name, model.StateSize, model.Retain)
	return err
}

// RemoveModel deletes a model and all of its associated data from the
// database. The operation is performed within a transaction.
func (s *Store) RemoveModel(ctx context.Context, model ModelInfo) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM haiku_transitions WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove transitions for model %d: %w", model.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM haiku_sentences WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove sentences for model %d: %w", model.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM haiku_models WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}

// LoadTable reads the transition table of a model from the database.
func (s *Store) LoadTable(ctx context.Context, model ModelInfo) (*Table, error) {
	rows, err := s.stmtLoadTransitions.QueryContext(ctx, model.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query transitions for model %d: %w", model.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	tokenCache := map[int]string{
		BeginTokenID: Begin,
		EndTokenID:   End,
	}

	type row struct {
		stateText string
		tokenText string
		syllables int
		weight    float64
	}
	// Rows are drained before resolving state tokens, since lookups on the
	// same connection would otherwise interleave with an open cursor.
	var loaded []row
	for rows.Next() {
		var r row
		var tokenID int
		if err = rows.Scan(&r.stateText, &tokenID, &r.tokenText, &r.syllables, &r.weight); err != nil {
			return nil, err
		}
		tokenCache[tokenID] = r.tokenText
		loaded = append(loaded, r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	table := newTable(model.StateSize)
	state := make([]string, model.StateSize)
	for _, r := range loaded {
		idStrs := strings.Split(r.stateText, " ")
		if len(idStrs) != model.StateSize {
			return nil, fmt.Errorf("%w: state %q does not match state size %d", ErrFormat, r.stateText, model.StateSize)
		}
		for i, idStr := range idStrs {
			id, err := strconv.Atoi(idStr)
			if err != nil {
				return nil, fmt.Errorf("%w: state %q: %v", ErrFormat, r.stateText, err)
			}
			if state[i], err = s.getTokenTextWithCache(ctx, id, tokenCache); err != nil {
				return nil, fmt.Errorf("failed to get text for state token %d: %w", id, err)
			}
		}
		table.add(state, r.tokenText, r.weight, r.syllables)
	}
	table.finalize()
	return table, nil
}

// Load reads a complete TextModel by model name, including retained sentences.
func (s *Store) Load(ctx context.Context, name string) (*TextModel, error) {
	model, err := s.GetModelInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("could not find model '%s': %w", name, err)
	}
	return s.loadText(ctx, model)
}

func (s *Store) loadText(ctx context.Context, model ModelInfo) (*TextModel, error) {
	table, err := s.LoadTable(ctx, model)
	if err != nil {
		return nil, err
	}

	var sentences [][]string
	if model.Retain {
		rows, err := s.stmtLoadSentences.QueryContext(ctx, model.Id)
		if err != nil {
			return nil, fmt.Errorf("could not query sentences for model %d: %w", model.Id, err)
		}
		defer func(rows *sql.Rows) {
			_ = rows.Close()
		}(rows)
		sentences = [][]string{}
		for rows.Next() {
			var text string
			if err = rows.Scan(&text); err != nil {
				return nil, err
			}
			var words []string
			if err = json.Unmarshal([]byte(text), &words); err != nil {
				return nil, fmt.Errorf("%w: sentence %q: %v", ErrFormat, text, err)
			}
			sentences = append(sentences, words)
		}
		if err = rows.Err(); err != nil {
			return nil, err
		}
	}

	m := NewTextModelFromTable(table, sentences)
	m.SetTokenizer(s.tokenizer)
	return m, nil
}

// ExportModel serializes a stored model as TextModel JSON and writes it to the
// provided io.Writer. The output can be read back with ImportModel or
// ParseTextModel.
func (s *Store) ExportModel(ctx context.Context, model ModelInfo, w io.Writer) error {
	m, err := s.loadText(ctx, model)
	if err != nil {
		return err
	}
	data, err := m.MarshalJSON()
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Model exported",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("states_exported", m.Table().Len()),
		slog.Int("sentences_exported", len(m.Sentences())),
	)

	_, err = w.Write(data)
	return err
}

// ImportModel reads TextModel JSON from an io.Reader and merges it into the
// named model. If the model already exists its state size must match, and the
// imported weights are added to the existing ones. If it does not exist, it is
// created. The entire operation is transactional.
func (s *Store) ImportModel(ctx context.Context, name string, r io.Reader) error {
	imported, err := ReadTextModel(r)
	if err != nil {
		return fmt.Errorf("failed to decode model: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	model := ModelInfo{Name: name, StateSize: imported.StateSize(), Retain: imported.RetainsOriginal()}
	var existingSize int
	err = tx.QueryRowContext(ctx, "SELECT model_id, state_size FROM haiku_models WHERE model_name = ?", name).Scan(&model.Id, &existingSize)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx, "INSERT INTO haiku_models (model_name, state_size, retain_original) VALUES (?, ?, ?)", name, model.StateSize, model.Retain)
		if err != nil {
			return fmt.Errorf("failed to insert new model '%s': %w", name, err)
		}
		newID, _ := res.LastInsertId()
		model.Id = int(newID)
	} else if err != nil {
		return fmt.Errorf("failed to query for model '%s': %w", name, err)
	} else if existingSize != model.StateSize {
		return fmt.Errorf("%w: model '%s' has state size %d, import has %d", ErrValidation, name, existingSize, model.StateSize)
	}

	if err = s.saveTable(ctx, tx, model, imported.Table()); err != nil {
		return err
	}
	if err = s.saveSentences(ctx, tx, model, imported.Sentences()); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Model imported successfully",
		slog.String("model_name", name),
		slog.Int("target_model_id", model.Id),
		slog.Int("states_merged", imported.Table().Len()),
		slog.Int("sentences_merged", len(imported.Sentences())),
	)

	return tx.Commit()
}

// getTokenTextWithCache minimizes vocabulary lookups while loading tables.
func (s *Store) getTokenTextWithCache(ctx context.Context, id int, cache map[int]string) (string, error) {
	if text, ok := cache[id]; ok {
		return text, nil
	}
	var text string
	if err := s.stmtGetTokenText.QueryRowContext(ctx, id).Scan(&text); err != nil {
		return "", err
	}
	cache[id] = text
	return text, nil
}
