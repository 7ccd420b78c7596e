package markov

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestInsertAndGetModelInfo(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	// Test success case
	modelInfo := ModelInfo{Name: "test_model", StateSize: 2, Retain: true}
	if err := s.InsertModel(ctx, modelInfo); err != nil {
		t.Fatalf("InsertModel() failed: %v", err)
	}

	m, err := s.GetModelInfo(ctx, "test_model")
	if err != nil {
		t.Errorf("GetModelInfo: expected no error, got %v", err)
	}
	if m.Name != "test_model" || m.StateSize != 2 || !m.Retain {
		t.Errorf("got unexpected model info: %+v", m)
	}

	// Test failure case (nonexistent)
	_, err = s.GetModelInfo(ctx, "nonexistent_model")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows for nonexistent model, got %v", err)
	}

	// Test failure case (duplicate name)
	if err = s.InsertModel(ctx, modelInfo); err == nil {
		t.Errorf("expected an error when inserting a model with a duplicate name, but got nil")
	}

	// Test failure case (bad state size)
	err = s.InsertModel(ctx, ModelInfo{Name: "bad", StateSize: 0})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for state size 0, got %v", err)
	}
}

func TestGetModelInfos(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	_ = s.InsertModel(ctx, ModelInfo{Name: "test_model", StateSize: 2})
	_ = s.InsertModel(ctx, ModelInfo{Name: "another_model", StateSize: 1})

	models, err := s.GetModelInfos(ctx)
	if err != nil {
		t.Fatalf("GetModelInfos failed: %v", err)
	}
	if len(models) != 2 {
		t.Errorf("expected 2 models, got %d", len(models))
	}
	if _, ok := models["test_model"]; !ok {
		t.Error("expected to find 'test_model'")
	}
	if m, ok := models["another_model"]; !ok || m.StateSize != 1 {
		t.Errorf("expected to find 'another_model' with state size 1, got %+v", m)
	}
}

func TestRemoveModel(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	m1 := ModelInfo{Name: "to_delete", StateSize: 1, Retain: true}
	m2 := ModelInfo{Name: "to_keep", StateSize: 1}
	_ = s.InsertModel(ctx, m1)
	_ = s.InsertModel(ctx, m2)
	m1, _ = s.GetModelInfo(ctx, m1.Name)
	m2, _ = s.GetModelInfo(ctx, m2.Name)
	_ = s.Train(ctx, m1, strings.NewReader("delete this data."))
	_ = s.Train(ctx, m2, strings.NewReader("keep this data."))

	if err := s.RemoveModel(ctx, m1); err != nil {
		t.Fatalf("RemoveModel failed: %v", err)
	}

	// Verify model m1 is gone
	_, err := s.GetModelInfo(ctx, m1.Name)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected ErrNoRows for deleted model, got %v", err)
	}

	// Verify transitions and sentences for m1 are gone
	var count int
	_ = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM haiku_transitions WHERE model_id = ?", m1.Id).Scan(&count)
	if count != 0 {
		t.Errorf("expected 0 transitions for deleted model, found %d", count)
	}
	_ = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM haiku_sentences WHERE model_id = ?", m1.Id).Scan(&count)
	if count != 0 {
		t.Errorf("expected 0 sentences for deleted model, found %d", count)
	}

	// Verify model m2 and its transitions still exist
	_ = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM haiku_transitions WHERE model_id = ?", m2.Id).Scan(&count)
	if count == 0 {
		t.Error("expected transitions for kept model to exist, but found 0")
	}
}

func TestLoadMatchesBuild(t *testing.T) {
	ctx, s, modelInfo := setupTestDBWithTraining(t)

	m, err := s.Load(ctx, modelInfo.Name)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Build([][]string{{"one", "fish", "two", "fish"}, {"red", "fish", "blue", "fish"}}, 2)
	got := m.Table()
	if got.StateSize() != 2 {
		t.Fatalf("expected state size 2, got %d", got.StateSize())
	}
	if !reflect.DeepEqual(got.States(), want.States()) {
		t.Errorf("states differ:\n got %v\nwant %v", got.States(), want.States())
	}
	for _, state := range want.States() {
		if !reflect.DeepEqual(got.Transitions(state), want.Transitions(state)) {
			t.Errorf("transitions for %v: got %+v, want %+v", state, got.Transitions(state), want.Transitions(state))
		}
	}

	if !m.RetainsOriginal() {
		t.Error("expected loaded model to retain its sentences")
	}
	if len(m.Sentences()) != 2 || m.Sentences()[1][0] != "red" {
		t.Errorf("unexpected retained sentences: %v", m.Sentences())
	}

	if _, err = s.Load(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows for missing model, got %v", err)
	}
}

func TestSaveTableStateSizeMismatch(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	_ = s.InsertModel(ctx, ModelInfo{Name: "sized", StateSize: 2})
	model, _ := s.GetModelInfo(ctx, "sized")

	err := s.SaveTable(ctx, model, Build([][]string{{"a", "b"}}, 1))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestSaveTableAddsWeights(t *testing.T) {
	ctx, s, modelInfo := setupTestDBWithTraining(t)

	table := Build([][]string{{"one", "fish", "two", "fish"}}, 2)
	if err := s.SaveTable(ctx, modelInfo, table); err != nil {
		t.Fatalf("SaveTable failed: %v", err)
	}

	loaded, err := s.LoadTable(ctx, modelInfo)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	got := loaded.Transitions([]string{Begin, Begin})
	want := []Transition{{Token: "one", Weight: 2, Syllables: 1}, {Token: "red", Weight: 1, Syllables: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx, s, modelInfo := setupTestDBWithTraining(t)

	// Export the trained model to an in-memory buffer
	var buf bytes.Buffer
	if err := s.ExportModel(ctx, modelInfo, &buf); err != nil {
		t.Fatalf("ExportModel failed: %v", err)
	}

	// Set up a completely new, empty database and import into it
	_, s2 := setupTestDB(t)
	if err := s2.ImportModel(ctx, "copied", bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("ImportModel failed: %v", err)
	}

	imported, err := s2.GetModelInfo(ctx, "copied")
	if err != nil {
		t.Fatalf("could not find imported model: %v", err)
	}
	if imported.StateSize != 2 || !imported.Retain {
		t.Errorf("unexpected imported model info: %+v", imported)
	}

	m, err := s2.Load(ctx, "copied")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sentence, _, err := m.MakeSentence(fixedRand(1))
	if err != nil {
		t.Fatalf("MakeSentence failed: %v", err)
	}
	if sentence != "one fish two fish" && sentence != "red fish blue fish" {
		t.Errorf("unexpected sentence from imported model: %q", sentence)
	}

	// Importing again merges by adding weights.
	if err = s2.ImportModel(ctx, "copied", bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("second ImportModel failed: %v", err)
	}
	table, _ := s2.LoadTable(ctx, imported)
	for _, tr := range table.Transitions([]string{Begin, Begin}) {
		if tr.Weight != 2 {
			t.Errorf("expected merged weight 2 for %q, got %v", tr.Token, tr.Weight)
		}
	}
}

func TestImportModelErrors(t *testing.T) {
	ctx, s, _ := setupTestDBWithTraining(t)

	err := s.ImportModel(ctx, "broken", strings.NewReader(`{"state_size": 2, "chain": 5}`))
	if !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat for a bad chain, got %v", err)
	}

	oneState := `{"state_size": 1, "chain": [[["___BEGIN__"], {"a": [1, 1]}]]}`
	err = s.ImportModel(ctx, "test_model", strings.NewReader(oneState))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation when importing state size 1 into a state size 2 model, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	ctx, s, modelInfo := setupTestDBWithTraining(t)

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if len(stats.Models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(stats.Models))
	}
	// Begin, End, one, fish, two, red, blue
	if stats.VocabSize != 7 {
		t.Errorf("expected vocab size 7, got %d", stats.VocabSize)
	}
	if stats.StateSize != 9 {
		t.Errorf("expected 9 states, got %d", stats.StateSize)
	}
	ms := stats.Stats[modelInfo.Id]
	if ms.TotalTransitions != 10 {
		t.Errorf("expected 10 transitions, got %d", ms.TotalTransitions)
	}
	if ms.TotalWeight != 10 {
		t.Errorf("expected total weight 10, got %v", ms.TotalWeight)
	}
	if ms.StartingTokens != 2 {
		t.Errorf("expected 2 starting tokens, got %d", ms.StartingTokens)
	}
}
