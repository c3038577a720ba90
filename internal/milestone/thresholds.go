package milestone

import "github.com/okian/tally/internal/domain/model"

// DefaultThresholds is the stock milestone table.
func DefaultThresholds() []model.MilestoneThreshold {
	return []model.MilestoneThreshold{
		{Kind: model.KindPlays, Threshold: 10_000, Description: "10K plays"},
		{Kind: model.KindPlays, Threshold: 50_000, Description: "50K plays"},
		{Kind: model.KindPlays, Threshold: 100_000, Description: "100K plays"},
		{Kind: model.KindPlays, Threshold: 1_000_000, Description: "1M plays"},
		{Kind: model.KindFollowers, Threshold: 1_000, Description: "1K followers"},
		{Kind: model.KindFollowers, Threshold: 5_000, Description: "5K followers"},
		{Kind: model.KindFollowers, Threshold: 10_000, Description: "10K followers"},
		{Kind: model.KindFollowers, Threshold: 100_000, Description: "100K followers"},
		{Kind: model.KindRevenue, Threshold: 100, Description: "$100 monthly revenue"},
		{Kind: model.KindRevenue, Threshold: 1_000, Description: "$1K monthly revenue"},
		{Kind: model.KindRevenue, Threshold: 10_000, Description: "$10K monthly revenue"},
	}
}
