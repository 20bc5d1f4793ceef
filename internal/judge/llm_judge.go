package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"

	"github.com/oaguiar/incmatch/internal/budget"
	"github.com/oaguiar/incmatch/internal/llm"
	"github.com/oaguiar/incmatch/internal/repository"
)

const (
	// DefaultConcurrency is the default number of parallel judge calls.
	DefaultConcurrency = 4

	// DefaultCallTimeout bounds a single judge call.
	DefaultCallTimeout = 20 * time.Second

	// maxJustifications caps how many reasons one assessment carries.
	maxJustifications = 3
)

// LLMJudge implements Judge with one LLM call per candidate.
type LLMJudge struct {
	client      llm.LLM
	model       string
	pricing     budget.Pricing
	cache       *Cache
	pool        *ants.Pool
	callTimeout time.Duration
	logger      *slog.Logger
}

// LLMJudgeOption is a functional option for configuring LLMJudge.
type LLMJudgeOption func(*LLMJudge)

// WithModel sets the model used for assessment.
func WithModel(model string) LLMJudgeOption {
	return func(j *LLMJudge) {
		j.model = model
	}
}

// WithPricing sets the pricing used for budget estimates.
func WithPricing(p budget.Pricing) LLMJudgeOption {
	return func(j *LLMJudge) {
		j.pricing = p
	}
}

// WithCache sets the assessment cache.
func WithCache(c *Cache) LLMJudgeOption {
	return func(j *LLMJudge) {
		j.cache = c
	}
}

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) LLMJudgeOption {
	return func(j *LLMJudge) {
		j.callTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LLMJudgeOption {
	return func(j *LLMJudge) {
		j.logger = logger
	}
}

// NewLLMJudge creates an LLM judge with a worker pool of the given size.
func NewLLMJudge(client llm.LLM, concurrency int, opts ...LLMJudgeOption) (*LLMJudge, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	j := &LLMJudge{
		client:      client,
		model:       llm.DefaultOpenAIModel,
		pricing:     budget.DefaultPricing,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("creating judge worker pool: %w", err)
	}
	j.pool = pool
	return j, nil
}

// Close releases the worker pool.
func (j *LLMJudge) Close() {
	j.pool.Release()
}

// Assess runs one judge call per company through the worker pool. Failed or
// refused candidates are absent from the result.
func (j *LLMJudge) Assess(ctx context.Context, incentive repository.Incentive, companies []repository.Company, guard budget.Guard) map[string]Assessment {
	results := make(map[string]Assessment, len(companies))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, company := range companies {
		wg.Add(1)
		task := func() {
			defer wg.Done()

			assessment, err := j.assessOne(ctx, incentive, company, guard)
			if err != nil {
				j.logger.Warn("judge assessment failed",
					"incentive_id", incentive.ID,
					"company_id", company.ID,
					"error", err)
				return
			}

			mu.Lock()
			results[company.ID] = assessment
			mu.Unlock()
		}
		if err := j.pool.Submit(task); err != nil {
			wg.Done()
			j.logger.Warn("judge pool refused task", "company_id", company.ID, "error", err)
		}
	}

	wg.Wait()
	return results
}

func (j *LLMJudge) assessOne(ctx context.Context, incentive repository.Incentive, company repository.Company, guard budget.Guard) (Assessment, error) {
	cacheKey := ""
	if j.cache != nil {
		cacheKey = Key(j.model, incentive, company)
		if cached, ok := j.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	prompt := buildPrompt(incentive, company)

	estimate := j.pricing.Cost(llm.Usage{
		PromptTokens:     budget.EstimateTokens(prompt),
		CompletionTokens: 256,
	})
	if !guard.Allow(estimate) {
		return Assessment{}, fmt.Errorf("budget exhausted (spent %.4f EUR)", guard.Spent())
	}

	assessment, usage, err := j.call(ctx, prompt)
	guard.Record(estimate, j.pricing.Cost(usage))
	if err != nil {
		return Assessment{}, err
	}

	if j.cache != nil {
		j.cache.Put(cacheKey, assessment)
	}
	return assessment, nil
}

// call runs one generation with a retry on transient failure. Context
// cancellation is not retried.
func (j *LLMJudge) call(ctx context.Context, prompt string) (Assessment, llm.Usage, error) {
	var totalUsage llm.Usage
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, j.callTimeout)
		response, usage, err := j.client.Generate(callCtx, prompt, llm.GenerateOptions{
			Model:       j.model,
			Temperature: 0,
			MaxTokens:   512,
			JSONMode:    true,
		})
		cancel()

		totalUsage.PromptTokens += usage.PromptTokens
		totalUsage.CompletionTokens += usage.CompletionTokens

		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		assessment, parseErr := parseAssessment(response)
		if parseErr != nil {
			lastErr = fmt.Errorf("parsing judge response: %w", parseErr)
			continue
		}
		return assessment, totalUsage, nil
	}

	return Assessment{}, totalUsage, lastErr
}

func buildPrompt(incentive repository.Incentive, company repository.Company) string {
	var sb strings.Builder

	sb.WriteString("You evaluate how well a Portuguese company fits a public funding incentive.\n\n")

	sb.WriteString("Incentive:\n")
	fmt.Fprintf(&sb, "Title: %s\n", incentive.Title)
	if incentive.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", truncate(incentive.Description, 1500))
	}
	if len(incentive.Criteria.CAECodes) > 0 {
		fmt.Fprintf(&sb, "Target CAE codes: %s\n", strings.Join(incentive.Criteria.CAECodes, ", "))
	}
	if incentive.Criteria.GeoScope != "" {
		fmt.Fprintf(&sb, "Geographic scope: %s\n", incentive.Criteria.GeoScope)
	}

	sb.WriteString("\nCompany:\n")
	fmt.Fprintf(&sb, "Name: %s\n", company.Name)
	if company.Size != "" && company.Size != repository.SizeUnknown {
		fmt.Fprintf(&sb, "Size: %s\n", company.Size)
	}
	if len(company.CAECodes) > 0 {
		fmt.Fprintf(&sb, "CAE codes: %s\n", strings.Join(company.CAECodes, ", "))
	}
	if company.District != "" {
		fmt.Fprintf(&sb, "District: %s\n", company.District)
	}
	if company.Description != "" {
		fmt.Fprintf(&sb, "Activity: %s\n", truncate(company.Description, 1000))
	}

	sb.WriteString(`
Score the fit from 0.0 (no fit) to 1.0 (excellent fit), considering the
company's activity against the incentive's purpose. Be strict: a generic
thematic overlap alone is not a good fit.

Respond with ONLY a JSON object in this exact format:
{"score": 0.75, "reasons": ["short reason", "short reason"]}`)

	return sb.String()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

type judgeResponse struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// parseAssessment extracts the verdict from the raw model output, tolerating
// markdown fences around the JSON.
func parseAssessment(response string) (Assessment, error) {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimPrefix(response, "```")
		if end := strings.LastIndex(response, "```"); end != -1 {
			response = response[:end]
		}
		response = strings.TrimSpace(response)
	}

	var parsed judgeResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return Assessment{}, err
	}
	if parsed.Score != parsed.Score { // NaN
		return Assessment{}, errors.New("score is not a number")
	}

	score := parsed.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	reasons := parsed.Reasons
	if len(reasons) > maxJustifications {
		reasons = reasons[:maxJustifications]
	}

	return Assessment{Score: score, Justification: reasons}, nil
}

// Ensure LLMJudge implements Judge interface.
var _ Judge = (*LLMJudge)(nil)
