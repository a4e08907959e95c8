package services

import (
	"context"
	"time"

	apperrors "questionbank_go_backend/internal/errors"
	"questionbank_go_backend/internal/metrics"
	"questionbank_go_backend/internal/models"
	"questionbank_go_backend/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type TokenUsage struct {
	Input     int  `json:"input"`
	Output    int  `json:"output"`
	Thinking  int  `json:"thinking"`
	Estimated bool `json:"estimated"`
}

// AnalysisResult is returned to the client. Cost is what the wallet was
// charged for this request.
type AnalysisResult struct {
	Analysis string              `json:"analysis"`
	Source   models.ResultSource `json:"source"`
	Cost     float64             `json:"cost"`
	Tokens   TokenUsage          `json:"tokens"`
	Balance  float64             `json:"balance"`
	RealCost float64             `json:"-"`
}

type AnalysisDeps struct {
	Profiles     ProfileStore
	Entitlements EntitlementResolver
	Usage        UsageLogDB
	Cache        AnalysisCacheDB
	Generator    Generator
	Locker       GenerationLocker
	Ledger       Ledger
	Calculator   *pricing.Calculator
	Metrics      *metrics.Metrics
	LockTTL      time.Duration
	LockWait     time.Duration
	PollInterval time.Duration
}

type AnalysisService struct {
	profiles     ProfileStore
	entitlements EntitlementResolver
	usage        UsageLogDB
	cache        AnalysisCacheDB
	generator    Generator
	locker       GenerationLocker
	ledger       Ledger
	calc         *pricing.Calculator
	metrics      *metrics.Metrics
	lockTTL      time.Duration
	lockWait     time.Duration
	pollInterval time.Duration
}

func NewAnalysisService(deps AnalysisDeps) *AnalysisService {
	s := &AnalysisService{
		profiles:     deps.Profiles,
		entitlements: deps.Entitlements,
		usage:        deps.Usage,
		cache:        deps.Cache,
		generator:    deps.Generator,
		locker:       deps.Locker,
		ledger:       deps.Ledger,
		calc:         deps.Calculator,
		metrics:      deps.Metrics,
		lockTTL:      deps.LockTTL,
		lockWait:     deps.LockWait,
		pollInterval: deps.PollInterval,
	}
	if s.locker == nil {
		s.locker = NoopLocker{}
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 2 * time.Minute
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 500 * time.Millisecond
	}
	return s
}

// analysisContent is the text and token usage of an analysis, wherever it
// came from.
type analysisContent struct {
	text      string
	tokens    TokenUsage
	fromCache bool
}

// Analyze serves one analysis request and bills it.
func (s *AnalysisService) Analyze(ctx context.Context, userID uuid.UUID, req AnalysisRequest) (result *AnalysisResult, err error) {
	log := zerolog.Ctx(ctx).With().
		Str("question_id", req.QuestionID).
		Str("model_id", req.ModelID).
		Logger()
	ctx = log.WithContext(ctx)

	defer func() {
		if err != nil {
			s.metrics.RecordFailure(errorType(err))
			return
		}
		s.metrics.RecordAnalysis(string(result.Source))
	}()

	if err := req.Validate(); err != nil {
		return nil, apperrors.New400Error(err.Error())
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	ent, err := s.entitlements.Resolve(ctx, userID, req.QuestionID, req.ModelID)
	if err != nil {
		return nil, apperrors.New500Error(err)
	}

	if ent.Granted {
		return s.serveEntitled(ctx, profile, req)
	}

	usageCount, err := s.usage.CountUsage(ctx, userID)
	if err != nil {
		return nil, apperrors.New500Error(err)
	}
	freeTrial := s.calc.FreeTrialApplies(*profile, usageCount)

	if profile.IsStandard() && !freeTrial && profile.CreditBalance <= 0 {
		if profile.OnTrial() {
			return nil, apperrors.NewTrialLimitReached(s.calc.Config().TrialAllowance)
		}
		return nil, apperrors.NewInsufficientFunds(0, profile.CreditBalance)
	}

	// From here the request is billable and runs to completion even if the
	// caller goes away. The generator keeps its own timeout.
	billCtx := context.WithoutCancel(ctx)

	content, err := s.lookupCache(billCtx, req)
	if err != nil {
		return nil, err
	}
	if content == nil {
		if content, err = s.generate(billCtx, req); err != nil {
			return nil, err
		}
	}

	realCost, deduction := s.calc.Quote(req.ModelID, content.tokens.Input, content.tokens.Output, profile.SubscriptionTier, freeTrial, false)
	source := billedSource(*profile, freeTrial, content.fromCache)

	settlement, err := s.ledger.Settle(billCtx, SettlementRequest{
		UserID:          userID,
		Tier:            profile.SubscriptionTier,
		QuestionID:      req.QuestionID,
		ModelID:         req.ModelID,
		Source:          source,
		InputTokens:     content.tokens.Input,
		OutputTokens:    content.tokens.Output,
		ThinkingTokens:  content.tokens.Thinking,
		TokensEstimated: content.tokens.Estimated,
		RealCost:        realCost,
		Deduction:       deduction,
	})
	if err != nil {
		return nil, err
	}

	result = &AnalysisResult{
		Analysis: content.text,
		Source:   source,
		Cost:     settlement.Charged,
		Tokens:   content.tokens,
		Balance:  settlement.Balance,
		RealCost: realCost,
	}
	if settlement.AlreadyEntitled {
		result.Source = models.SourcePurchasedCache
		result.Cost = 0
		result.Balance = profile.CreditBalance
	}

	log.Info().
		Str("source", string(result.Source)).
		Float64("real_cost", realCost).
		Float64("cost", result.Cost).
		Msg("analysis served")
	return result, nil
}

// serveEntitled answers a user who already holds the entitlement. Nothing is
// billed and no usage row is written.
func (s *AnalysisService) serveEntitled(ctx context.Context, profile *models.Profile, req AnalysisRequest) (*AnalysisResult, error) {
	entry, err := s.cache.GetCacheEntry(ctx, req.QuestionID, req.ModelID)
	if err != nil {
		return nil, apperrors.New500Error(err)
	}

	if entry != nil {
		tokens := TokenUsage{
			Input:     entry.InputTokens,
			Output:    entry.OutputTokens,
			Thinking:  entry.ThinkingTokens,
			Estimated: entry.TokensEstimated,
		}
		if !entry.HasTokenCounts() {
			tokens = estimatedUsage(req, entry.AnalysisText)
		}
		return &AnalysisResult{
			Analysis: entry.AnalysisText,
			Source:   models.SourcePurchasedCache,
			Tokens:   tokens,
			Balance:  profile.CreditBalance,
			RealCost: s.calc.RealCost(req.ModelID, tokens.Input, tokens.Output),
		}, nil
	}

	// Paid before but the cache row is gone.
	content, err := s.generate(context.WithoutCancel(ctx), req)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Msg("regenerated analysis for entitled user")
	return &AnalysisResult{
		Analysis: content.text,
		Source:   models.SourcePurchasedRegenerated,
		Tokens:   content.tokens,
		Balance:  profile.CreditBalance,
		RealCost: s.calc.RealCost(req.ModelID, content.tokens.Input, content.tokens.Output),
	}, nil
}

// lookupCache returns nil, nil on a miss. Rows without token counts get
// estimates written back.
func (s *AnalysisService) lookupCache(ctx context.Context, req AnalysisRequest) (*analysisContent, error) {
	entry, err := s.cache.GetCacheEntry(ctx, req.QuestionID, req.ModelID)
	if err != nil {
		return nil, apperrors.New500Error(err)
	}
	if entry == nil {
		return nil, nil
	}
	return s.contentFromEntry(ctx, req, entry), nil
}

func (s *AnalysisService) contentFromEntry(ctx context.Context, req AnalysisRequest, entry *models.AnalysisCache) *analysisContent {
	content := &analysisContent{
		text:      entry.AnalysisText,
		fromCache: true,
		tokens: TokenUsage{
			Input:     entry.InputTokens,
			Output:    entry.OutputTokens,
			Thinking:  entry.ThinkingTokens,
			Estimated: entry.TokensEstimated,
		},
	}
	if entry.HasTokenCounts() {
		return content
	}

	content.tokens = estimatedUsage(req, entry.AnalysisText)
	if err := s.cache.BackfillTokens(ctx, entry.ID, content.tokens.Input, content.tokens.Output); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Uint("cache_id", entry.ID).Msg("failed to backfill token counts")
	}
	return content
}

// generate calls the backend under the generation lock and stores the result
// in the shared cache. A request that finds the lock taken waits for the
// holder's cache row, then generates itself if none shows up in time.
func (s *AnalysisService) generate(ctx context.Context, req AnalysisRequest) (*analysisContent, error) {
	log := zerolog.Ctx(ctx)
	key := generationLockKey(req.QuestionID, req.ModelID)

	token, locked, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		log.Warn().Err(err).Msg("generation lock unavailable, generating without it")
	}
	if locked {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.locker.Release(releaseCtx, key, token); err != nil {
				log.Warn().Err(err).Msg("failed to release generation lock")
			}
		}()
	} else if err == nil {
		content, err := s.waitForCache(ctx, req)
		if err != nil {
			return nil, err
		}
		if content != nil {
			return content, nil
		}
		log.Info().Dur("waited", s.lockWait).Msg("generation lock wait timed out")
	}

	gen, err := s.generator.Generate(ctx, BuildAnalysisPrompt(req), req.ModelID)
	if err != nil {
		return nil, apperrors.NewGenerationError(err)
	}

	entry := &models.AnalysisCache{
		QuestionID:     req.QuestionID,
		ModelID:        req.ModelID,
		AnalysisText:   gen.Text,
		InputTokens:    gen.InputTokens,
		OutputTokens:   gen.OutputTokens,
		ThinkingTokens: gen.ThinkingTokens,
	}
	tokens := TokenUsage{Input: gen.InputTokens, Output: gen.OutputTokens, Thinking: gen.ThinkingTokens}
	if gen.InputTokens == 0 && gen.OutputTokens == 0 {
		tokens = estimatedUsage(req, gen.Text)
		entry.InputTokens = tokens.Input
		entry.OutputTokens = tokens.Output
		entry.TokensEstimated = true
	}
	if err := s.cache.UpsertCacheEntry(ctx, entry); err != nil {
		log.Error().Err(err).Msg("failed to store generated analysis")
	}

	return &analysisContent{text: gen.Text, tokens: tokens}, nil
}

func (s *AnalysisService) waitForCache(ctx context.Context, req AnalysisRequest) (*analysisContent, error) {
	if s.lockWait <= 0 {
		return nil, nil
	}
	deadline := time.NewTimer(s.lockWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, apperrors.New500Error(ctx.Err())
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
			content, err := s.lookupCache(ctx, req)
			if err != nil || content != nil {
				return content, err
			}
		}
	}
}

func estimatedUsage(req AnalysisRequest, analysisText string) TokenUsage {
	return TokenUsage{
		Input:     EstimateTokens(BuildAnalysisPrompt(req)),
		Output:    EstimateTokens(analysisText),
		Estimated: true,
	}
}

func billedSource(profile models.Profile, freeTrial, fromCache bool) models.ResultSource {
	switch {
	case freeTrial:
		return models.SourceTrialFree
	case !fromCache:
		return models.SourceAPI
	case profile.SubscriptionTier == models.TierLegacy:
		return models.SourceCache
	default:
		return models.SourceGlobalCacheBilled
	}
}

func errorType(err error) string {
	for _, t := range []apperrors.ErrorType{
		apperrors.ErrorTypeBadRequest,
		apperrors.ErrorTypeProfileNotFound,
		apperrors.ErrorTypeTrialLimitReached,
		apperrors.ErrorTypeInsufficientFunds,
		apperrors.ErrorTypeGenerationFailed,
	} {
		if apperrors.Is(err, t) {
			return string(t)
		}
	}
	return string(apperrors.ErrorTypeInternalServerError)
}
