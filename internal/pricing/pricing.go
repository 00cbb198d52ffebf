package pricing

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// All cost arithmetic is integer micro-USD. Rates are micro-USD per million
// tokens; division truncates toward zero and remainders are surfaced so the
// caller can route them through a RemainderAccumulator.

const microPerUnit = 1_000_000

// ErrBudgetOverflow reports a token*rate product outside the int64 range.
var ErrBudgetOverflow = errors.New("BUDGET_OVERFLOW: cost product exceeds integer range")

// Source identifies where a pricing entry came from.
type Source string

const (
	SourceConfig  Source = "config"
	SourceDefault Source = "default"
	SourceUnknown Source = "unknown"
)

// Entry holds integer micro-USD rates per million tokens.
type Entry struct {
	InputMicroPerMillion     int64 `json:"input_micro_per_million"`
	OutputMicroPerMillion    int64 `json:"output_micro_per_million"`
	ReasoningMicroPerMillion int64 `json:"reasoning_micro_per_million"`
}

// Breakdown is the per-component cost of one completion.
type Breakdown struct {
	InputCostMicro     int64
	OutputCostMicro    int64
	ReasoningCostMicro int64
	TotalCostMicro     int64
	RemainderMicro     int64
}

// defaultTable maps model identifiers to built-in rates. Lookup is by exact
// model name, then by longest prefix so dated snapshots resolve.
var defaultTable = map[string]Entry{
	"gpt-4o":          {InputMicroPerMillion: 2_500_000, OutputMicroPerMillion: 10_000_000},
	"gpt-4o-mini":     {InputMicroPerMillion: 150_000, OutputMicroPerMillion: 600_000},
	"gpt-4.1":         {InputMicroPerMillion: 2_000_000, OutputMicroPerMillion: 8_000_000},
	"gpt-4.1-mini":    {InputMicroPerMillion: 400_000, OutputMicroPerMillion: 1_600_000},
	"o3":              {InputMicroPerMillion: 2_000_000, OutputMicroPerMillion: 8_000_000, ReasoningMicroPerMillion: 8_000_000},
	"o4-mini":         {InputMicroPerMillion: 1_100_000, OutputMicroPerMillion: 4_400_000, ReasoningMicroPerMillion: 4_400_000},
	"kimi-k2":         {InputMicroPerMillion: 600_000, OutputMicroPerMillion: 2_500_000},
	"moonshot-v1-8k":  {InputMicroPerMillion: 200_000, OutputMicroPerMillion: 2_000_000},
	"moonshot-v1-32k": {InputMicroPerMillion: 1_000_000, OutputMicroPerMillion: 3_000_000},
}

// ComputeCost returns the integer micro-USD cost of tokens at a per-million
// rate, plus the sub-micro remainder of the division.
func ComputeCost(tokens, priceMicroPerMillion int64) (cost, remainder int64, err error) {
	if tokens < 0 || priceMicroPerMillion < 0 {
		return 0, 0, fmt.Errorf("negative input: tokens=%d price=%d", tokens, priceMicroPerMillion)
	}
	hi, lo := bits.Mul64(uint64(tokens), uint64(priceMicroPerMillion))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, 0, ErrBudgetOverflow
	}
	product := int64(lo)
	return product / microPerUnit, product % microPerUnit, nil
}

// TotalCost combines input, output and reasoning components. A zero
// reasoning rate yields a zero reasoning cost.
func TotalCost(inputTokens, outputTokens, reasoningTokens int64, entry Entry) (Breakdown, error) {
	inCost, inRem, err := ComputeCost(inputTokens, entry.InputMicroPerMillion)
	if err != nil {
		return Breakdown{}, err
	}
	outCost, outRem, err := ComputeCost(outputTokens, entry.OutputMicroPerMillion)
	if err != nil {
		return Breakdown{}, err
	}
	reasonCost, reasonRem, err := ComputeCost(reasoningTokens, entry.ReasoningMicroPerMillion)
	if err != nil {
		return Breakdown{}, err
	}

	remainder := inRem + outRem + reasonRem
	total := inCost + outCost + reasonCost + remainder/microPerUnit

	return Breakdown{
		InputCostMicro:     inCost,
		OutputCostMicro:    outCost,
		ReasoningCostMicro: reasonCost,
		TotalCostMicro:     total,
		RemainderMicro:     remainder % microPerUnit,
	}, nil
}

// Find resolves pricing for a provider/model pair. Overrides are keyed
// "provider:model" or bare "model" and win over the default table.
func Find(provider, model string, overrides map[string]Entry) (Entry, Source) {
	if overrides != nil {
		if entry, ok := overrides[provider+":"+model]; ok {
			return entry, SourceConfig
		}
		if entry, ok := overrides[model]; ok {
			return entry, SourceConfig
		}
	}

	if entry, ok := defaultTable[model]; ok {
		return entry, SourceDefault
	}

	best := ""
	for name := range defaultTable {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return defaultTable[best], SourceDefault
	}

	return Entry{}, SourceUnknown
}
