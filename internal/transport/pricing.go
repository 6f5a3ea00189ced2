package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// modelListEnvelope is the gateway's /models response shape.
type modelListEnvelope struct {
	Data []modelListEntry `json:"data"`
}

type modelListEntry struct {
	ID      string `json:"id"`
	Pricing struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
	ContextLength int `json:"context_length"`
}

// creditsEnvelope is the gateway's /credits response shape.
type creditsEnvelope struct {
	Data struct {
		Limit float64 `json:"limit"`
		Usage float64 `json:"usage"`
	} `json:"data"`
}

func (t *Transport) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(t.baseURL, "/")+path, nil)
	if err != nil {
		return orkit.Wrap(orkit.CodeInternalError, err, "failed to build request")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return orkit.Wrap(orkit.CodeNetworkError, err, fmt.Sprintf("request to %s failed", path))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return orkit.New(orkit.CodeAPIError, fmt.Sprintf("%s returned status %d", path, resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return orkit.Wrap(orkit.CodeAPIError, err, fmt.Sprintf("failed to decode %s response", path))
	}
	return nil
}

// FetchModelPrices satisfies internal/pricing.Fetcher by reading the
// gateway's model catalog. Prices come back as per-token strings and are
// converted to per-million-token floats.
func (t *Transport) FetchModelPrices(ctx context.Context) ([]orkit.ModelPrice, error) {
	var envelope modelListEnvelope
	if err := t.get(ctx, "/models", &envelope); err != nil {
		return nil, err
	}
	prices := make([]orkit.ModelPrice, 0, len(envelope.Data))
	for _, m := range envelope.Data {
		prices = append(prices, orkit.ModelPrice{
			ModelID:                        m.ID,
			PromptCostPerMillionTokens:     parsePerTokenToPerMillion(m.Pricing.Prompt),
			CompletionCostPerMillionTokens: parsePerTokenToPerMillion(m.Pricing.Completion),
			ContextLength:                  m.ContextLength,
		})
	}
	return prices, nil
}

// FetchCreditBalance satisfies internal/pricing.CreditBalanceFetcher.
func (t *Transport) FetchCreditBalance(ctx context.Context) (orkit.CreditBalance, error) {
	var envelope creditsEnvelope
	if err := t.get(ctx, "/credits", &envelope); err != nil {
		return orkit.CreditBalance{}, err
	}
	return orkit.CreditBalance{Limit: envelope.Data.Limit, Usage: envelope.Data.Usage}, nil
}

func parsePerTokenToPerMillion(s string) float64 {
	if s == "" {
		return 0
	}
	var perToken float64
	if _, err := fmt.Sscanf(s, "%g", &perToken); err != nil {
		return 0
	}
	return perToken * 1e6
}
