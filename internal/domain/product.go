package domain

// PricingInfo describes how a product charges.
type PricingInfo struct {
	Model string   `json:"model,omitempty"`
	Tiers []string `json:"tiers,omitempty"`
}

// MarketAnalysis places a product in its competitive context.
type MarketAnalysis struct {
	TargetMarket string   `json:"target_market,omitempty"`
	Competitors  []string `json:"competitors,omitempty"`
}

// BusinessMetrics holds whatever company facts the analysis could surface.
// TeamSize stays a string because sources report ranges like "10-50".
type BusinessMetrics struct {
	FundingStage string `json:"funding_stage,omitempty"`
	TeamSize     string `json:"team_size,omitempty"`
	FoundedYear  int    `json:"founded_year,omitempty"`
}

// ProductAnalysis is the structured result of analyzing a product page.
type ProductAnalysis struct {
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	Features    []string        `json:"features,omitempty"`
	Pricing     PricingInfo     `json:"pricing"`
	Market      MarketAnalysis  `json:"market_analysis"`
	Business    BusinessMetrics `json:"business_metrics"`
}
