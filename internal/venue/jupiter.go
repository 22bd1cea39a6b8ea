package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// smallestUnitDivisor assumes 9-decimal tokens (SOL and most SPL
// tokens minted with the default decimals), matching the teacher's
// simplifying assumption in jupiter_client.go.
var smallestUnitDivisor = decimal.NewFromInt(1_000_000_000)

// JupiterAdapter calls the Jupiter aggregator's quote and swap HTTP API.
type JupiterAdapter struct {
	baseURL    string
	httpClient *http.Client
}

// NewJupiterAdapter creates a Jupiter venue adapter.
func NewJupiterAdapter(baseURL string) *JupiterAdapter {
	return &JupiterAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (j *JupiterAdapter) Tag() Tag { return Jupiter }

type jupiterQuoteRequest struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	Amount      string `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
}

type jupiterQuoteResponse struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	PlatformFee    *struct {
		FeeBps int `json:"feeBps"`
	} `json:"platformFee,omitempty"`
	ContextSlot int64 `json:"contextSlot"`
}

func (j *JupiterAdapter) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount decimal.Decimal) (Quote, error) {
	raw := amount.Mul(smallestUnitDivisor).String()

	req := jupiterQuoteRequest{
		InputMint:  inputMint.String(),
		OutputMint: outputMint.String(),
		Amount:     raw,
		// no slippage applied at the quote stage; the executor computes
		// minAmountOut from the caller's tolerance
		SlippageBps: 0,
	}

	var resp jupiterQuoteResponse
	if err := j.post(ctx, "/quote", req, &resp); err != nil {
		return Quote{}, fmt.Errorf("jupiter quote: %w", err)
	}

	inAmount, err := decimal.NewFromString(resp.InAmount)
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter quote: invalid inAmount: %w", err)
	}
	outAmount, err := decimal.NewFromString(resp.OutAmount)
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter quote: invalid outAmount: %w", err)
	}

	inAmount = inAmount.Div(smallestUnitDivisor)
	outAmount = outAmount.Div(smallestUnitDivisor)

	fee := decimal.Zero
	if resp.PlatformFee != nil {
		fee = decimal.NewFromInt(int64(resp.PlatformFee.FeeBps)).Div(decimal.NewFromInt(10000))
	}

	rawPrice := decimal.Zero
	if !inAmount.IsZero() {
		rawPrice = outAmount.Div(inAmount)
	}
	effectivePrice := rawPrice.Mul(decimal.NewFromInt(1).Sub(fee))

	return Quote{
		Venue:           Jupiter,
		RawPrice:        rawPrice,
		Fee:             fee,
		EffectivePrice:  effectivePrice,
		EstimatedOutput: outAmount,
		PoolID:          fmt.Sprintf("jupiter-slot-%d", resp.ContextSlot),
		RetrievedAt:     time.Now().UTC(),
	}, nil
}

func (j *JupiterAdapter) Swap(ctx context.Context, params SwapParams) (SwapResult, error) {
	quote, err := j.Quote(ctx, params.InputMint, params.OutputMint, params.InputAmount)
	if err != nil {
		return SwapResult{}, fmt.Errorf("jupiter swap: %w", err)
	}

	if quote.EstimatedOutput.LessThan(params.MinAmountOut) {
		return SwapResult{}, fmt.Errorf("jupiter swap: %w: estimated %s below minimum %s",
			ErrSlippageExceeded, quote.EstimatedOutput.String(), params.MinAmountOut.String())
	}

	// In a production adapter this would submit the signed transaction
	// returned by the /swap endpoint to the network and await
	// confirmation; signing and submission are out of scope here, so a
	// freshly generated (random UUID) transaction id stands in for the
	// confirmation.
	return SwapResult{
		TransactionID: "jup-" + uuid.NewString(),
		ExecutedPrice: quote.EffectivePrice,
		InputAmount:   params.InputAmount,
		OutputAmount:  quote.EstimatedOutput,
		FeeAmount:     params.InputAmount.Mul(quote.Fee),
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (j *JupiterAdapter) post(ctx context.Context, path string, body, out interface{}) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := j.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("jupiter API error (%d): %s", resp.StatusCode, string(errBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
