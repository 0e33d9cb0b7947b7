package usage

import (
	"sort"
	"time"

	"github.com/theirongolddev/chatstate/internal/model"
)

// Totals holds aggregate usage and cost across exchanges.
type Totals struct {
	Exchanges int
	Chats     int
	Unpriced  int
	Usage     model.Usage

	InputCost  float64
	OutputCost float64
	CacheCost  float64
	TotalCost  float64

	Duration time.Duration
}

// ModelCost holds usage and cost for one model.
type ModelCost struct {
	Model     string
	Exchanges int
	Usage     model.Usage

	InputCost  float64
	OutputCost float64
	CacheCost  float64
	TotalCost  float64
}

func addUsage(dst *model.Usage, u model.Usage) {
	dst.InputTokens += u.InputTokens
	dst.OutputTokens += u.OutputTokens
	dst.CacheCreation5mTokens += u.CacheCreation5mTokens
	dst.CacheCreation1hTokens += u.CacheCreation1hTokens
	dst.CacheReadTokens += u.CacheReadTokens
}

// FilterByTime returns exchanges that started within [since, until).
// A zero bound is open.
func FilterByTime(exs []model.Exchange, since, until time.Time) []model.Exchange {
	var out []model.Exchange
	for _, ex := range exs {
		if !since.IsZero() && ex.Start.Before(since) {
			continue
		}
		if !until.IsZero() && !ex.Start.Before(until) {
			continue
		}
		out = append(out, ex)
	}
	return out
}

// Aggregate computes totals and a per-model breakdown sorted by cost, highest first.
func Aggregate(exs []model.Exchange) (Totals, []ModelCost) {
	var totals Totals
	byModel := make(map[string]*ModelCost)
	chats := make(map[string]struct{})

	for _, ex := range exs {
		c := ex.Cost
		totals.Exchanges++
		chats[ex.ChatID] = struct{}{}
		if !c.Priced {
			totals.Unpriced++
		}
		addUsage(&totals.Usage, c.Usage)
		totals.InputCost += c.InputCost
		totals.OutputCost += c.OutputCost
		totals.CacheCost += c.CacheCost
		totals.TotalCost += c.EstimatedCost
		totals.Duration += ex.Duration()

		row, ok := byModel[ex.Model]
		if !ok {
			row = &ModelCost{Model: ex.Model}
			byModel[ex.Model] = row
		}
		row.Exchanges++
		addUsage(&row.Usage, c.Usage)
		row.InputCost += c.InputCost
		row.OutputCost += c.OutputCost
		row.CacheCost += c.CacheCost
		row.TotalCost += c.EstimatedCost
	}
	totals.Chats = len(chats)

	models := make([]ModelCost, 0, len(byModel))
	for _, row := range byModel {
		models = append(models, *row)
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].TotalCost == models[j].TotalCost {
			return models[i].Model < models[j].Model
		}
		return models[i].TotalCost > models[j].TotalCost
	})
	return totals, models
}
