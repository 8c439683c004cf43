package billing

// Tariff is a model's price in minor currency units per million tokens.
type Tariff struct {
	PromptPerMillion     int
	CompletionPerMillion int
}

// defaultTariffModel is the fallback for model names missing from the table,
// so a tariff lookup is total and never errors.
const defaultTariffModel = "gpt-4o-mini"

var tariffs = map[string]Tariff{
	"gpt-4o":        {PromptPerMillion: 250, CompletionPerMillion: 1000},
	"gpt-4o-mini":   {PromptPerMillion: 15, CompletionPerMillion: 60},
	"gpt-4-turbo":   {PromptPerMillion: 1000, CompletionPerMillion: 3000},
	"gpt-3.5-turbo": {PromptPerMillion: 50, CompletionPerMillion: 150},
}

// TariffFor returns the tariff for a model, falling back to the default
// model's tariff for unknown names.
func TariffFor(model string) Tariff {
	if t, ok := tariffs[model]; ok {
		return t
	}
	return tariffs[defaultTariffModel]
}

// CostFor computes the charge for a completed call, rounded up to the next
// whole minor unit. Ceiling, never floor: rounding must not under-bill.
func CostFor(model string, promptTokens, completionTokens int) int {
	t := TariffFor(model)
	total := promptTokens*t.PromptPerMillion + completionTokens*t.CompletionPerMillion
	if total <= 0 {
		return 0
	}
	return (total + 999999) / 1000000
}

// estimateTokens approximates a token count from character length when the
// provider omits usage metadata.
func estimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}
