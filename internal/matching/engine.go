package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oaguiar/incmatch/internal/budget"
	"github.com/oaguiar/incmatch/internal/eligibility"
	"github.com/oaguiar/incmatch/internal/embedder"
	"github.com/oaguiar/incmatch/internal/judge"
	"github.com/oaguiar/incmatch/internal/lexical"
	"github.com/oaguiar/incmatch/internal/repository"
	"github.com/oaguiar/incmatch/internal/vectorstore"
)

// Engine ranks the company population against an incentive. It is a pure
// function of its inputs plus external call outcomes: nothing it does
// mutates incentives or companies.
type Engine struct {
	incentives repository.IncentiveRepository
	companies  repository.CompanyRepository

	embed     embedder.Embedder     // optional: backfills missing query embeddings
	judge     judge.Judge           // optional: semantic stage disabled when nil
	retriever vectorstore.Retriever // optional: snapshot-local cosine when nil

	cache  *resultCache
	logger *slog.Logger

	defaults      Defaults
	vectorTopM    int
	vectorMinSim  float64
	defaultBudget float64
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithEmbedder enables query embedding backfill for incentives stored
// without a vector.
func WithEmbedder(e embedder.Embedder) Option {
	return func(eng *Engine) {
		eng.embed = e
	}
}

// WithJudge enables the semantic assessment stage.
func WithJudge(j judge.Judge) Option {
	return func(eng *Engine) {
		eng.judge = j
	}
}

// WithRetriever replaces snapshot-local cosine retrieval with an external
// vector store.
func WithRetriever(r vectorstore.Retriever) Option {
	return func(eng *Engine) {
		eng.retriever = r
	}
}

// WithResultCache memoizes ranked results for the given TTL.
func WithResultCache(ttl time.Duration) Option {
	return func(eng *Engine) {
		eng.cache = newResultCache(ttl)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = logger
	}
}

// WithDefaults replaces the engine-level fallbacks for fusion weights and
// shortlist bounds. Per-request Params still override them.
func WithDefaults(d Defaults) Option {
	return func(eng *Engine) {
		eng.defaults = d.normalized()
	}
}

// WithVectorRetrieval tunes the retrieval cut: top-M size and minimum
// normalized similarity.
func WithVectorRetrieval(topM int, minSim float64) Option {
	return func(eng *Engine) {
		eng.vectorTopM = topM
		eng.vectorMinSim = minSim
	}
}

// WithDefaultBudget sets the per-request LLM spend ceiling, in EUR, used
// when a request does not carry its own limit. Zero means unlimited.
func WithDefaultBudget(limit float64) Option {
	return func(eng *Engine) {
		eng.defaultBudget = limit
	}
}

// NewEngine creates a matching engine over the given repositories.
func NewEngine(incentives repository.IncentiveRepository, companies repository.CompanyRepository, opts ...Option) *Engine {
	eng := &Engine{
		incentives:   incentives,
		companies:    companies,
		logger:       slog.Default(),
		defaults:     EngineDefaults(),
		vectorTopM:   DefaultVectorTopM,
		vectorMinSim: DefaultVectorMinSim,
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// Rank produces the top-K matches for an incentive. The only fatal
// conditions are an unknown incentive ID and an empty company population;
// every signal-level failure degrades to a null component instead.
func (e *Engine) Rank(ctx context.Context, incentiveID string, params Params) ([]Match, error) {
	params = params.withDefaults(e.defaults)

	stored, err := e.incentives.GetByID(ctx, incentiveID)
	if err != nil {
		return nil, fmt.Errorf("resolving incentive %q: %w", incentiveID, err)
	}
	incentive := *stored

	snapshot, err := e.companies.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading company snapshot: %w", err)
	}
	if len(snapshot.Companies) == 0 {
		return nil, ErrEmptyPopulation
	}

	var key string
	if e.cache != nil {
		key = cacheKey(incentive.ID, snapshot.ID, params)
		if cached, ok := e.cache.get(key); ok {
			e.logger.Debug("rank served from cache", "incentive_id", incentive.ID, "snapshot_id", snapshot.ID)
			return cached, nil
		}
	}

	queryVector := e.queryVector(ctx, incentive)

	// Vector retrieval and lexical scoring are pure reads over the snapshot
	// and run in parallel.
	var hits []vectorstore.Hit
	var lexScores map[string]float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if queryVector == nil {
			return nil
		}
		retriever := e.retriever
		if retriever == nil {
			retriever = vectorstore.NewMemoryRetriever(snapshot)
		}
		var retrieveErr error
		hits, retrieveErr = retriever.Retrieve(gctx, queryVector, e.vectorTopM, e.vectorMinSim)
		if retrieveErr != nil {
			// Degrade to lexical-only rather than failing the request.
			e.logger.Warn("vector retrieval failed, continuing without vector signal",
				"incentive_id", incentive.ID, "error", retrieveErr)
			hits = nil
		}
		return nil
	})
	g.Go(func() error {
		index := lexical.BuildIndex(snapshot.Companies)
		lexScores = index.Score(lexical.QueryText(incentive))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	penalties := eligibility.DefaultPenalties()
	if params.PenaltyOverrides != nil {
		penalties = *params.PenaltyOverrides
	}

	candidates := e.buildShortlist(incentive, snapshot, queryVector, hits, lexScores, penalties, params)

	e.assessSemantic(ctx, incentive, snapshot, candidates, params)

	matches := e.finalize(incentive, candidates, params)

	if e.cache != nil {
		e.cache.put(key, matches)
	}
	return matches, nil
}

// queryVector resolves the incentive's embedding, backfilling through the
// embedder when the stored vector is absent. A nil return disables the
// vector signal for this request.
func (e *Engine) queryVector(ctx context.Context, incentive repository.Incentive) []float32 {
	if len(incentive.Embedding) > 0 {
		return incentive.Embedding
	}
	if e.embed == nil {
		return nil
	}

	vector, err := e.embed.Embed(ctx, lexical.QueryText(incentive))
	if err != nil {
		e.logger.Warn("query embedding failed, continuing without vector signal",
			"incentive_id", incentive.ID, "error", err)
		return nil
	}
	return vector
}

// candidate carries one shortlisted company through the pipeline.
type candidate struct {
	company     repository.Company
	components  Components
	eligibility eligibility.Result
	prelim      float64
	judgeNotes  []string
}

// buildShortlist unions vector hits with lexically matching companies,
// attaches per-candidate components and eligibility, and cuts to the
// shortlist bound ordered by preliminary (non-semantic) score. If the union
// underfills the requested top-K, it pads with remaining companies so a
// sparse-signal population still yields a full result.
func (e *Engine) buildShortlist(
	incentive repository.Incentive,
	snapshot *repository.Snapshot,
	queryVector []float32,
	hits []vectorstore.Hit,
	lexScores map[string]float64,
	penalties eligibility.Penalties,
	params Params,
) []*candidate {
	hitSims := make(map[string]float64, len(hits))
	for _, hit := range hits {
		hitSims[hit.CompanyID] = hit.Similarity
	}

	selected := make(map[string]struct{}, len(hits))
	for id := range hitSims {
		selected[id] = struct{}{}
	}
	for id, score := range lexScores {
		if score > 0 {
			selected[id] = struct{}{}
		}
	}

	// Pad with remaining companies in ID order when the union cannot fill
	// the requested top-K on its own.
	if len(selected) < params.TopK {
		for _, company := range snapshot.Companies {
			if len(selected) >= params.TopK {
				break
			}
			selected[company.ID] = struct{}{}
		}
	}

	candidates := make([]*candidate, 0, len(selected))
	for _, company := range snapshot.Companies {
		if _, ok := selected[company.ID]; !ok {
			continue
		}

		c := &candidate{company: company}

		if sim, ok := hitSims[company.ID]; ok {
			c.components.Vector = ptr(sim)
		} else if queryVector != nil && len(company.Embedding) == len(queryVector) && len(company.Embedding) > 0 {
			// Lexically shortlisted but below the retrieval cut; the exact
			// similarity is still well-defined and cheap here.
			c.components.Vector = ptr(vectorstore.NormalizeCosine(vectorstore.Cosine(queryVector, company.Embedding)))
		}

		if score, ok := lexScores[company.ID]; ok {
			c.components.Lexical = ptr(score)
		}

		c.eligibility = eligibility.Evaluate(incentive.Criteria, company, penalties)
		c.prelim = fuse(c.components, *params.Weights, c.eligibility.Factor)

		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].prelim != candidates[j].prelim {
			return candidates[i].prelim > candidates[j].prelim
		}
		return candidates[i].company.ID < candidates[j].company.ID
	})

	if len(candidates) > params.ShortlistSize {
		candidates = candidates[:params.ShortlistSize]
	}
	return candidates
}

// assessSemantic runs the judge on the top of the shortlist. Every failure
// mode leaves the semantic component nil for the affected candidates only.
func (e *Engine) assessSemantic(ctx context.Context, incentive repository.Incentive, snapshot *repository.Snapshot, candidates []*candidate, params Params) {
	if e.judge == nil || !params.semanticEnabled() || len(candidates) == 0 {
		return
	}

	pool := candidates
	if len(pool) > params.RerankPoolSize {
		pool = pool[:params.RerankPoolSize]
	}

	companies := make([]repository.Company, 0, len(pool))
	for _, c := range pool {
		companies = append(companies, c.company)
	}

	guard := e.budgetGuard(params)
	assessments := e.judge.Assess(ctx, incentive, companies, guard)

	for _, c := range pool {
		assessment, ok := assessments[c.company.ID]
		if !ok {
			continue
		}
		c.components.Semantic = ptr(assessment.Score)
		c.judgeNotes = assessment.Justification
	}

	e.logger.Info("semantic stage complete",
		"incentive_id", incentive.ID,
		"snapshot_id", snapshot.ID,
		"assessed", len(assessments),
		"pool", len(pool),
		"spent_eur", guard.Spent())
}

func (e *Engine) budgetGuard(params Params) budget.Guard {
	limit := params.BudgetLimit
	if limit <= 0 {
		limit = e.defaultBudget
	}
	if limit <= 0 {
		return &budget.Unlimited{}
	}
	return budget.NewLimitGuard(limit)
}

// finalize fuses, sorts, cuts to top-K, and assembles explanations.
func (e *Engine) finalize(incentive repository.Incentive, candidates []*candidate, params Params) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		m := Match{
			IncentiveID: incentive.ID,
			CompanyID:   c.company.ID,
			CompanyName: c.company.Name,
			Components:  c.components,
			Penalty:     c.eligibility.Factor,
			FiredRules:  c.eligibility.Fired,
			Score:       fuse(c.components, *params.Weights, c.eligibility.Factor),
		}
		m.Explanations = explain(m, *params.Weights, c.judgeNotes)
		matches = append(matches, m)
	}

	sortMatches(matches)

	if len(matches) > params.TopK {
		matches = matches[:params.TopK]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	return matches
}
