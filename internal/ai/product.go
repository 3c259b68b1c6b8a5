package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/cache"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
)

// maxFeatures caps the feature list the analysis may carry.
const maxFeatures = 5

// AnalyzeProduct turns product-page text into a structured analysis with a
// single combined completion. Results are cached by content hash.
func (s *Service) AnalyzeProduct(ctx context.Context, text string) (ProductResult, error) {
	start := time.Now()

	if !s.cfg.ProductAnalysisEnabled() {
		err := errkind.New(errkind.Config, "ai", "analyze_product", errors.New("product analysis is disabled"))
		s.productStats.record(start, false, true)
		return productFailure(err), err
	}
	if strings.TrimSpace(text) == "" {
		err := errkind.New(errkind.Permanent, "ai", "analyze_product", errors.New("no product text"))
		s.productStats.record(start, false, true)
		return productFailure(err), err
	}

	key := cache.Key("product", text)
	value, cached, err := s.cache.GetOrCompute(ctx, key, productCacheTTL, func(ctx context.Context) ([]byte, error) {
		var a domain.ProductAnalysis
		if err := s.completeJSON(ctx, "analyze_product", productSystemPrompt, productUserPrompt(text), &a); err != nil {
			return nil, err
		}
		if len(a.Features) > maxFeatures {
			a.Features = a.Features[:maxFeatures]
		}
		return json.Marshal(&a)
	})
	if err != nil {
		s.productStats.record(start, false, true)
		return productFailure(err), err
	}

	var a domain.ProductAnalysis
	if err := json.Unmarshal(value, &a); err != nil {
		s.cache.Delete(key)
		err = errkind.New(errkind.Parse, "ai", "analyze_product", fmt.Errorf("corrupt cache entry: %w", err))
		s.productStats.record(start, cached, true)
		return productFailure(err), err
	}

	s.productStats.record(start, cached, false)
	return ProductResult{Success: true, Analysis: &a, ConfidenceScore: productConfidence(&a), Cached: cached}, nil
}

// productConfidence scores field completeness.
func productConfidence(a *domain.ProductAnalysis) float64 {
	score := 0.0
	if a.Name != "" {
		score += 0.25
	}
	if a.Category != "" {
		score += 0.15
	}
	if a.Description != "" {
		score += 0.2
	}
	if len(a.Features) > 0 {
		score += 0.15
	}
	if a.Pricing.Model != "" {
		score += 0.1
	}
	if a.Market.TargetMarket != "" {
		score += 0.1
	}
	if a.Business != (domain.BusinessMetrics{}) {
		score += 0.05
	}
	return score
}
