package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hounfour/cheval/internal/breaker"
	"github.com/hounfour/cheval/internal/cheval"
	"github.com/hounfour/cheval/internal/config"
	"github.com/hounfour/cheval/internal/hmacauth"
	"github.com/hounfour/cheval/internal/logger"
	"github.com/hounfour/cheval/internal/pool"
	"github.com/hounfour/cheval/internal/pricing"
	"github.com/hounfour/cheval/internal/registry"
	"github.com/hounfour/cheval/internal/usage"
)

var (
	invokeRequestPath string
	invokeSkipVerify  bool
)

// invokeCmd is the single-threaded one-shot mode: read a signed request
// file, run the same pipeline the sidecar runs, print the canonical result,
// and exit with the taxonomy code.
var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Invoke a provider once from a signed request file",
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(runInvoke())
	},
}

func init() {
	invokeCmd.Flags().StringVar(&invokeRequestPath, "request", "", "path to the signed request JSON file")
	invokeCmd.Flags().BoolVar(&invokeSkipVerify, "skip-verify", false, "skip HMAC verification (local testing only)")
	_ = invokeCmd.MarkFlagRequired("request")
}

func runInvoke() int {
	cfg, err := config.Load()
	if err != nil {
		return failWith(&cheval.Error{Code: cheval.CodeInternal, Message: err.Error()})
	}
	log, err := logger.Initialize(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return failWith(&cheval.Error{Code: cheval.CodeInternal, Message: err.Error()})
	}
	defer logger.Sync()

	raw, err := os.ReadFile(invokeRequestPath)
	if err != nil {
		return failWith(&cheval.Error{Code: cheval.CodeInvalidRequest, Message: "cannot read request file: " + err.Error()})
	}

	var req cheval.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return failWith(&cheval.Error{Code: cheval.CodeInvalidRequest, Message: "request file is not valid JSON"})
	}

	if !invokeSkipVerify {
		if cfg.HMACSecret == "" {
			return failWith(&cheval.Error{Code: cheval.CodeInternal, Message: "CHEVAL_HMAC_SECRET is not configured"})
		}
		if req.HMAC == nil {
			return failWith(&cheval.Error{Code: cheval.CodeHMACInvalid, Message: "request file carries no hmac record"})
		}
		verifier := &hmacauth.Verifier{
			Secret:     cfg.HMACSecret,
			PrevSecret: cfg.HMACSecretPrev,
			Skew:       time.Duration(cfg.HMACSkewSeconds * float64(time.Second)),
		}
		rec := hmacauth.Record{
			Signature: req.HMAC.Signature,
			Nonce:     req.HMAC.Nonce,
			IssuedAt:  req.HMAC.IssuedAt,
		}
		if err := verifier.VerifyOneShot(raw, rec, req.Metadata.TraceID); err != nil {
			return failWith(&cheval.Error{Code: cheval.CodeHMACInvalid, Message: "HMAC verification failed: " + err.Error()})
		}
	}

	if problems := req.Validate(); len(problems) > 0 {
		return failWith(&cheval.Error{Code: cheval.CodeInvalidRequest, Message: problems[0]})
	}

	if err := req.ResolveProviderSecrets(config.ResolveOptions{}); err != nil {
		return failWith(&cheval.Error{Code: cheval.CodeInvalidRequest, Message: err.Error()})
	}

	overrides, err := pricing.LoadOverrides(cfg.PricingPath)
	if err != nil {
		return failWith(&cheval.Error{Code: cheval.CodeInternal, Message: err.Error()})
	}

	brk := breaker.New(cfg.RunDir, breaker.DefaultConfig(), log)
	provider := req.Provider.Name
	switch brk.Check(provider) {
	case breaker.Open:
		return failWith(&cheval.Error{
			Code:         cheval.CodeProviderError,
			Message:      "circuit breaker is open for provider " + provider,
			ProviderCode: "circuit_open",
			Retryable:    true,
		})
	case breaker.HalfOpen:
		brk.StartProbe(provider)
	}

	body, err := cheval.BuildProviderBody(&req, false)
	if err != nil {
		return failWith(&cheval.Error{Code: cheval.CodeInternal, Message: "failed to build provider request"})
	}

	pools := pool.NewManager()
	defer pools.CloseAll()
	client := pools.GetOrCreate(req.Provider)
	endpoint := registry.ChatURL(req.Provider.Type, req.Provider.BaseURL)
	headers := registry.AuthHeaders(req.Provider.Type, req.Provider.APIKey)

	start := time.Now()
	rawResp, invokeErr := cheval.Invoke(context.Background(), client, endpoint, headers, body, req.Retry, nil, log)
	latencyMS := float64(time.Since(start).Microseconds()) / 1000

	if invokeErr != nil {
		brk.RecordFailure(provider)
		if chErr, ok := invokeErr.(*cheval.Error); ok {
			return failWith(chErr)
		}
		return failWith(&cheval.Error{Code: cheval.CodeInternal, Message: "provider invocation failed"})
	}
	brk.RecordSuccess(provider)

	result, err := cheval.Normalize(rawResp, req.Provider.Type, req.Metadata.TraceID, latencyMS, log)
	if err != nil {
		return failWith(&cheval.Error{Code: cheval.CodeProviderError, Message: "provider returned an unparseable response"})
	}

	calc := usage.NewCalculator(cfg.LedgerPath, overrides, log)
	enriched, source := calc.EnrichWithCost(result, provider, req.Model)
	calc.RecordUsage(enriched, provider, req.Model, source, usage.SourceActual)

	out, err := json.MarshalIndent(enriched, "", "  ")
	if err != nil {
		return failWith(&cheval.Error{Code: cheval.CodeInternal, Message: "failed to encode result"})
	}
	fmt.Println(string(out))
	return 0
}

// failWith prints the structured envelope to stdout and returns the exit
// code so the caller remains the single os.Exit site.
func failWith(err *cheval.Error) int {
	if encoded, marshalErr := json.Marshal(err); marshalErr == nil {
		fmt.Println(string(encoded))
	} else {
		fmt.Fprintln(os.Stderr, err.Error())
	}
	return err.ExitCode()
}
