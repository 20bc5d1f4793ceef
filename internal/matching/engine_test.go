package matching

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/oaguiar/incmatch/internal/budget"
	"github.com/oaguiar/incmatch/internal/judge"
	"github.com/oaguiar/incmatch/internal/repository"
)

type fakeIncentives struct {
	items map[string]repository.Incentive
}

func (f *fakeIncentives) GetByID(_ context.Context, id string) (*repository.Incentive, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &item, nil
}

func (f *fakeIncentives) List(_ context.Context, _, _ int) ([]*repository.Incentive, int, error) {
	out := make([]*repository.Incentive, 0, len(f.items))
	for id := range f.items {
		item := f.items[id]
		out = append(out, &item)
	}
	return out, len(out), nil
}

type fakeCompanies struct {
	snapshot *repository.Snapshot
}

func (f *fakeCompanies) GetByID(_ context.Context, id string) (*repository.Company, error) {
	for i := range f.snapshot.Companies {
		if f.snapshot.Companies[i].ID == id {
			return &f.snapshot.Companies[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeCompanies) List(_ context.Context, _, _ int) ([]*repository.Company, int, error) {
	out := make([]*repository.Company, len(f.snapshot.Companies))
	for i := range f.snapshot.Companies {
		out[i] = &f.snapshot.Companies[i]
	}
	return out, len(out), nil
}

func (f *fakeCompanies) Snapshot(_ context.Context) (*repository.Snapshot, error) {
	return f.snapshot, nil
}

// fakeJudge scores from a fixed map; companies absent from the map are
// treated as failed assessments.
type fakeJudge struct {
	scores map[string]float64
	notes  map[string][]string
	calls  int
}

func (f *fakeJudge) Assess(_ context.Context, _ repository.Incentive, companies []repository.Company, _ budget.Guard) map[string]judge.Assessment {
	f.calls++
	out := make(map[string]judge.Assessment)
	for _, c := range companies {
		score, ok := f.scores[c.ID]
		if !ok {
			continue
		}
		out[c.ID] = judge.Assessment{Score: score, Justification: f.notes[c.ID]}
	}
	return out
}

const testCacheTTL = time.Minute

// embedOf builds a trivially separable embedding.
func embedOf(x, y float32) []float32 { return []float32{x, y} }

func testEngine(incentive repository.Incentive, companies []repository.Company, opts ...Option) *Engine {
	incentives := &fakeIncentives{items: map[string]repository.Incentive{incentive.ID: incentive}}
	pop := &fakeCompanies{snapshot: repository.NewSnapshot(companies)}
	return NewEngine(incentives, pop, opts...)
}

func baseIncentive() repository.Incentive {
	return repository.Incentive{
		ID:          "inc-1",
		Title:       "Apoio à inovação têxtil",
		Description: "apoio a projetos de inovação na indústria têxtil",
		Criteria: repository.Criteria{
			SizeClasses: []repository.SizeClass{repository.SizePME},
			CAECodes:    []string{"1234"},
		},
		Embedding: embedOf(1, 0),
	}
}

func TestRank_UnknownIncentive(t *testing.T) {
	e := testEngine(baseIncentive(), []repository.Company{{ID: "c1"}})

	_, err := e.Rank(context.Background(), "missing", Params{})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRank_EmptyPopulation(t *testing.T) {
	e := testEngine(baseIncentive(), nil)

	_, err := e.Rank(context.Background(), "inc-1", Params{})
	if !errors.Is(err, ErrEmptyPopulation) {
		t.Errorf("expected ErrEmptyPopulation, got %v", err)
	}
}

func TestRank_PenaltyScenario(t *testing.T) {
	// Candidate A: matching size and sector, high similarity. Candidate B:
	// equal similarity but size and sector both mismatch.
	companies := []repository.Company{
		{
			ID: "a", Name: "Têxtil A", Size: repository.SizePME, CAECodes: []string{"1234"},
			Description: "inovação têxtil", Embedding: embedOf(1, 0.05),
		},
		{
			ID: "b", Name: "Metal B", Size: repository.SizeGrande, CAECodes: []string{"9999"},
			Embedding: embedOf(1, 0.05),
		},
	}
	e := testEngine(baseIncentive(), companies)

	matches, err := e.Rank(context.Background(), "inc-1", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}

	if matches[0].CompanyID != "a" {
		t.Errorf("expected candidate a first, got %s", matches[0].CompanyID)
	}
	if matches[0].Penalty != 1.0 {
		t.Errorf("expected penalty 1.0 for a, got %f", matches[0].Penalty)
	}

	b := matches[1]
	if b.Penalty != 0.3 {
		t.Errorf("expected composed penalty 0.30 for b, got %f", b.Penalty)
	}
	base := fuse(b.Components, DefaultWeights(), 1.0)
	if b.Score > 0.3*base+1e-9 {
		t.Errorf("expected b's score <= 0.3×base (%f), got %f", 0.3*base, b.Score)
	}
	if len(b.FiredRules) != 2 {
		t.Errorf("expected 2 fired rules for b, got %v", b.FiredRules)
	}
}

func TestRank_Determinism(t *testing.T) {
	companies := []repository.Company{
		{ID: "c1", Name: "Alfa", Description: "inovação têxtil", Embedding: embedOf(1, 0)},
		{ID: "c2", Name: "Beta", Description: "inovação têxtil", Embedding: embedOf(1, 0)},
		{ID: "c3", Name: "Gama", Description: "metalurgia", Embedding: embedOf(0, 1)},
	}
	e := testEngine(baseIncentive(), companies)

	first, err := e.Rank(context.Background(), "inc-1", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Rank(context.Background(), "inc-1", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-running rank on unchanged snapshot produced a different result:\n%v\n%v", first, second)
	}
}

func TestRank_NoJudgeStillFillsTopK(t *testing.T) {
	companies := make([]repository.Company, 0, 8)
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8"} {
		companies = append(companies, repository.Company{
			ID: id, Name: id, Description: "inovação têxtil", Embedding: embedOf(1, 0),
		})
	}
	e := testEngine(baseIncentive(), companies)

	matches, err := e.Rank(context.Background(), "inc-1", Params{TopK: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 5 {
		t.Fatalf("expected exactly 5 matches without a judge, got %d", len(matches))
	}
	for _, m := range matches {
		if m.Components.Semantic != nil {
			t.Errorf("expected null semantic component for %s", m.CompanyID)
		}
	}
	for i, m := range matches {
		if m.Rank != i+1 {
			t.Errorf("expected rank %d, got %d", i+1, m.Rank)
		}
	}
}

func TestRank_PartialJudgeFailureKeepsCandidates(t *testing.T) {
	companies := []repository.Company{
		{ID: "ok", Name: "Ok", Description: "inovação têxtil", Embedding: embedOf(1, 0)},
		{ID: "failed", Name: "Failed", Description: "inovação têxtil", Embedding: embedOf(1, 0.1)},
	}
	j := &fakeJudge{scores: map[string]float64{"ok": 0.9}, notes: map[string][]string{"ok": {"clear fit"}}}
	e := testEngine(baseIncentive(), companies, WithJudge(j))

	matches, err := e.Rank(context.Background(), "inc-1", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected both candidates ranked, got %d", len(matches))
	}

	byID := map[string]Match{}
	for _, m := range matches {
		byID[m.CompanyID] = m
	}
	if byID["ok"].Components.Semantic == nil || *byID["ok"].Components.Semantic != 0.9 {
		t.Errorf("expected semantic 0.9 for ok, got %v", byID["ok"].Components.Semantic)
	}
	if byID["failed"].Components.Semantic != nil {
		t.Errorf("expected null semantic for failed candidate, got %v", byID["failed"].Components.Semantic)
	}
	if got := byID["ok"].Explanations; len(got) == 0 || got[0] != "clear fit" {
		t.Errorf("expected judge bullet in explanations, got %v", got)
	}
}

func TestRank_ZeroSignalCandidateStillAppears(t *testing.T) {
	// One company matches nothing lexically and sits orthogonal in vector
	// space. With penalty 1.0 it must still appear, at the bottom.
	companies := []repository.Company{
		{ID: "hit", Name: "Têxtil", Description: "inovação têxtil", Embedding: embedOf(1, 0)},
		{ID: "cold", Name: "Zzz", Description: "qqqq wwww", Embedding: embedOf(0, 1)},
	}
	incentive := baseIncentive()
	incentive.Criteria = repository.Criteria{} // no rules: penalty 1.0 for all
	e := testEngine(incentive, companies)

	matches, err := e.Rank(context.Background(), "inc-1", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}

	last := matches[len(matches)-1]
	if last.CompanyID != "cold" {
		t.Errorf("expected cold candidate ranked last, got %s", last.CompanyID)
	}
	if last.Components.Lexical == nil || *last.Components.Lexical != 0 {
		t.Errorf("expected lexical exactly 0 (not null), got %v", last.Components.Lexical)
	}
	if last.Components.Vector == nil {
		t.Error("expected vector component present (orthogonal maps to 0.5), got null")
	}
}

func TestRank_MissingEmbeddingMeansNullVector(t *testing.T) {
	companies := []repository.Company{
		{ID: "embedded", Name: "Têxtil", Description: "inovação têxtil", Embedding: embedOf(1, 0)},
		{ID: "bare", Name: "Inovação Têxtil Lda", Description: "inovação têxtil"},
	}
	e := testEngine(baseIncentive(), companies)

	matches, err := e.Rank(context.Background(), "inc-1", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, m := range matches {
		if m.CompanyID == "bare" && m.Components.Vector != nil {
			t.Errorf("expected null vector for company without embedding, got %v", m.Components.Vector)
		}
		if m.CompanyID == "embedded" && m.Components.Vector == nil {
			t.Error("expected vector component for embedded company")
		}
	}
}

func TestRank_RerankPoolBoundsJudge(t *testing.T) {
	companies := make([]repository.Company, 0, 6)
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6"} {
		companies = append(companies, repository.Company{
			ID: id, Name: id, Description: "inovação têxtil", Embedding: embedOf(1, 0),
		})
	}
	scores := map[string]float64{}
	for _, c := range companies {
		scores[c.ID] = 0.5
	}
	j := &fakeJudge{scores: scores}
	e := testEngine(baseIncentive(), companies, WithJudge(j))

	matches, err := e.Rank(context.Background(), "inc-1", Params{TopK: 6, RerankPoolSize: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assessed := 0
	for _, m := range matches {
		if m.Components.Semantic != nil {
			assessed++
		}
	}
	if assessed != 3 {
		t.Errorf("expected exactly 3 semantically assessed candidates, got %d", assessed)
	}
}

func TestRank_ResultCache(t *testing.T) {
	companies := []repository.Company{
		{ID: "c1", Name: "Têxtil", Description: "inovação têxtil", Embedding: embedOf(1, 0)},
	}
	j := &fakeJudge{scores: map[string]float64{"c1": 0.8}}
	e := testEngine(baseIncentive(), companies, WithJudge(j), WithResultCache(testCacheTTL))

	first, err := e.Rank(context.Background(), "inc-1", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Rank(context.Background(), "inc-1", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.calls != 1 {
		t.Errorf("expected 1 judge invocation with warm cache, got %d", j.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached result differs from original")
	}

	// Different params miss the cache.
	if _, err := e.Rank(context.Background(), "inc-1", Params{TopK: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.calls != 2 {
		t.Errorf("expected cache miss on changed params, got %d judge calls", j.calls)
	}
}

func TestRank_EngineDefaultWeights(t *testing.T) {
	companies := []repository.Company{
		{ID: "lex", Name: "Inovação Têxtil Apoio", Description: "apoio projetos inovação indústria têxtil", Embedding: embedOf(0, 1)},
		{ID: "vec", Name: "Qqq", Description: "wwww", Embedding: embedOf(1, 0)},
	}
	incentive := baseIncentive()
	incentive.Criteria = repository.Criteria{}

	e := testEngine(incentive, companies, WithDefaults(Defaults{
		Weights: Weights{Vector: 0.05, Lexical: 0.9, Semantic: 0.05},
	}))
	matches, err := e.Rank(context.Background(), "inc-1", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches[0].CompanyID != "lex" {
		t.Errorf("expected engine-level lexical-heavy weights to apply, got %s first", matches[0].CompanyID)
	}

	// A request carrying its own weights overrides the engine defaults.
	vecHeavy := Weights{Vector: 0.9, Lexical: 0.05, Semantic: 0.05}
	matches, err = e.Rank(context.Background(), "inc-1", Params{Weights: &vecHeavy})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches[0].CompanyID != "vec" {
		t.Errorf("expected request weights to override engine defaults, got %s first", matches[0].CompanyID)
	}
}

func TestRank_UseSemanticFalseSkipsJudge(t *testing.T) {
	companies := []repository.Company{
		{ID: "c1", Name: "Têxtil", Description: "inovação têxtil", Embedding: embedOf(1, 0)},
	}
	j := &fakeJudge{scores: map[string]float64{"c1": 0.9}}
	e := testEngine(baseIncentive(), companies, WithJudge(j))

	off := false
	matches, err := e.Rank(context.Background(), "inc-1", Params{UseSemantic: &off})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.calls != 0 {
		t.Errorf("expected no judge invocations with semantic stage disabled, got %d", j.calls)
	}
	for _, m := range matches {
		if m.Components.Semantic != nil {
			t.Errorf("expected null semantic component for %s", m.CompanyID)
		}
	}
}

func TestRank_UseSemanticToggleMissesCache(t *testing.T) {
	companies := []repository.Company{
		{ID: "c1", Name: "Têxtil", Description: "inovação têxtil", Embedding: embedOf(1, 0)},
	}
	j := &fakeJudge{scores: map[string]float64{"c1": 0.8}}
	e := testEngine(baseIncentive(), companies, WithJudge(j), WithResultCache(testCacheTTL))

	if _, err := e.Rank(context.Background(), "inc-1", Params{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	off := false
	matches, err := e.Rank(context.Background(), "inc-1", Params{UseSemantic: &off})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches[0].Components.Semantic != nil {
		t.Error("semantic-disabled request must not be served the semantic-enabled cache entry")
	}
}

func TestRank_CustomWeights(t *testing.T) {
	companies := []repository.Company{
		{ID: "lex", Name: "Inovação Têxtil Apoio", Description: "apoio projetos inovação indústria têxtil", Embedding: embedOf(0, 1)},
		{ID: "vec", Name: "Qqq", Description: "wwww", Embedding: embedOf(1, 0)},
	}
	incentive := baseIncentive()
	incentive.Criteria = repository.Criteria{}
	e := testEngine(incentive, companies)

	lexHeavy := Weights{Vector: 0.05, Lexical: 0.9, Semantic: 0.05}
	matches, err := e.Rank(context.Background(), "inc-1", Params{Weights: &lexHeavy})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches[0].CompanyID != "lex" {
		t.Errorf("expected lexical-dominant candidate first under lexical-heavy weights, got %s", matches[0].CompanyID)
	}

	vecHeavy := Weights{Vector: 0.9, Lexical: 0.05, Semantic: 0.05}
	matches, err = e.Rank(context.Background(), "inc-1", Params{Weights: &vecHeavy})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches[0].CompanyID != "vec" {
		t.Errorf("expected vector-dominant candidate first under vector-heavy weights, got %s", matches[0].CompanyID)
	}
}
