// Package usage enriches completed results with cost and records them to
// the ledger. It is observability only: nothing here blocks, rejects, or
// alters a request based on spend.
package usage

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/cheval"
	"github.com/hounfour/cheval/internal/ledger"
	"github.com/hounfour/cheval/internal/pricing"
)

// UsageSource distinguishes provider-reported token counts from local
// estimates (streaming without a usage frame).
const (
	SourceActual    = "actual"
	SourceEstimated = "estimated"
)

type Calculator struct {
	LedgerPath string
	Overrides  map[string]pricing.Entry
	Remainders *pricing.RemainderAccumulator
	Logger     *zap.Logger
	Agent      string

	now func() time.Time
}

func NewCalculator(ledgerPath string, overrides map[string]pricing.Entry, log *zap.Logger) *Calculator {
	return &Calculator{
		LedgerPath: ledgerPath,
		Overrides:  overrides,
		Remainders: pricing.NewRemainderAccumulator(),
		Logger:     log,
		Agent:      "cheval",
		now:        time.Now,
	}
}

// EnrichWithCost returns a copy of the result with usage.cost populated
// when pricing resolves. The input is never mutated; with no pricing the
// copy comes back without a cost field. Overflow is treated as unknown
// pricing rather than an error.
func (c *Calculator) EnrichWithCost(res *cheval.Result, provider, model string) (*cheval.Result, pricing.Source) {
	enriched := *res

	entry, source := pricing.Find(provider, model, c.Overrides)
	if source == pricing.SourceUnknown {
		return &enriched, source
	}

	breakdown, err := pricing.TotalCost(
		res.Usage.PromptTokens, res.Usage.CompletionTokens, res.Usage.ReasoningTokens, entry)
	if err != nil {
		c.Logger.Warn("cost computation failed, recording without cost",
			zap.String("model", model), zap.Error(err))
		return &enriched, pricing.SourceUnknown
	}

	enriched.Usage.Cost = &cheval.Cost{
		InputCostMicro:     strconv.FormatInt(breakdown.InputCostMicro, 10),
		OutputCostMicro:    strconv.FormatInt(breakdown.OutputCostMicro, 10),
		ReasoningCostMicro: strconv.FormatInt(breakdown.ReasoningCostMicro, 10),
		TotalCostMicro:     strconv.FormatInt(breakdown.TotalCostMicro, 10),
	}
	return &enriched, source
}

// RecordUsage appends a ledger entry and updates the daily-spend counter.
// It never propagates failure to the caller: any error, including a panic
// from a misbehaving filesystem, is logged and swallowed.
func (c *Calculator) RecordUsage(res *cheval.Result, provider, model string, source pricing.Source, usageSource string) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("usage recording panicked", zap.Any("panic", r))
		}
	}()

	if c.LedgerPath == "" {
		return
	}

	now := c.now().UTC()
	costMicro := int64(0)
	if res.Usage.Cost != nil {
		costMicro, _ = strconv.ParseInt(res.Usage.Cost.TotalCostMicro, 10, 64)
	}

	// Fold the day's sub-micro residue in so long sessions bill fractions
	// eventually.
	entry, findSource := pricing.Find(provider, model, c.Overrides)
	if findSource != pricing.SourceUnknown {
		if breakdown, err := pricing.TotalCost(
			res.Usage.PromptTokens, res.Usage.CompletionTokens, res.Usage.ReasoningTokens, entry); err == nil {
			day := now.Format("2006-01-02")
			costMicro += c.Remainders.Add(day, breakdown.RemainderMicro)
		}
	}

	record := ledger.Entry{
		TraceID:         res.Metadata.TraceID,
		Agent:           c.Agent,
		Provider:        provider,
		Model:           model,
		InputTokens:     res.Usage.PromptTokens,
		OutputTokens:    res.Usage.CompletionTokens,
		ReasoningTokens: res.Usage.ReasoningTokens,
		CostMicroUSD:    costMicro,
		PricingSource:   string(source),
		LatencyMS:       int64(res.Metadata.LatencyMS),
		UsageSource:     usageSource,
		TS:              now.Format(time.RFC3339Nano),
	}

	if err := ledger.Append(record, c.LedgerPath); err != nil {
		c.Logger.Warn("ledger append failed, dropping entry",
			zap.String("trace_id", record.TraceID), zap.Error(err))
		return
	}

	if costMicro > 0 {
		if _, err := ledger.UpdateDailySpend(costMicro, ledger.DailySpendPath(c.LedgerPath)); err != nil {
			c.Logger.Warn("daily-spend update failed",
				zap.String("trace_id", record.TraceID), zap.Error(err))
		}
	}
}
