package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenPrice is the per-1k-token price of a chat or embedding model.
type TokenPrice struct {
	InputUSD  float64
	OutputUSD float64
}

// tokenPrices holds per-1k-token prices for the models the pipeline calls.
var tokenPrices = map[string]TokenPrice{
	"gpt-4o":                 {InputUSD: 0.0025, OutputUSD: 0.01},
	"gpt-4o-mini":            {InputUSD: 0.00015, OutputUSD: 0.0006},
	"text-embedding-3-large": {InputUSD: 0.00013},
}

// imagePrices maps model -> size -> quality -> flat per-image price.
var imagePrices = map[string]map[string]map[string]float64{
	"gpt-image-1": {
		"1024x1024": {"low": 0.02, "medium": 0.08, "high": 0.32},
		"1024x1536": {"low": 0.03, "medium": 0.12, "high": 0.48},
		"1536x1024": {"low": 0.03, "medium": 0.12, "high": 0.48},
	},
	"dall-e-3": {
		"1024x1024": {"standard": 0.04, "hd": 0.08},
		"1024x1792": {"standard": 0.08, "hd": 0.12},
		"1792x1024": {"standard": 0.08, "hd": 0.12},
	},
}

// EditImageCost is the flat estimate for one image edit call.
const EditImageCost = 0.04

// TokenCost returns the cost of a chat/embedding call. Unknown models cost
// zero rather than failing the call.
func TokenCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := tokenPrices[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*p.InputUSD + float64(outputTokens)/1000*p.OutputUSD
}

// ImageCost returns the flat cost of one image generation. Unknown sizes
// fall back to 1024x1024, unknown qualities to "medium".
func ImageCost(model, size, quality string) float64 {
	sizes, ok := imagePrices[model]
	if !ok {
		return 0
	}
	qualities, ok := sizes[size]
	if !ok {
		qualities = sizes["1024x1024"]
	}
	if cost, ok := qualities[quality]; ok {
		return cost
	}
	if cost, ok := qualities["medium"]; ok {
		return cost
	}
	return 0
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens with the cl100k_base encoding, falling back
// to len/4 when the encoding cannot be loaded (offline environments).
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
