package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hounfour/cheval/internal/cheval"
	"github.com/hounfour/cheval/internal/config"
	"github.com/hounfour/cheval/internal/hmacauth"
)

var signRequestPath string

// signCmd embeds a fresh hmac record into a request file and prints the
// signed document, ready for the one-shot invoker.
var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a request file for one-shot invocation",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.HMACSecret == "" {
			return fmt.Errorf("CHEVAL_HMAC_SECRET is not configured")
		}

		raw, err := os.ReadFile(signRequestPath)
		if err != nil {
			return fmt.Errorf("read request file: %w", err)
		}

		var req cheval.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("request file is not valid JSON: %w", err)
		}
		if req.Metadata.TraceID == "" {
			return fmt.Errorf("request file needs metadata.trace_id")
		}

		nonce := uuid.NewString()
		issuedAt := time.Now().UTC().Format(hmacauth.IssuedAtLayout)

		signingBody, err := hmacauth.SigningBody(raw)
		if err != nil {
			return fmt.Errorf("canonicalize request: %w", err)
		}
		signature := hmacauth.SignOneShot(cfg.HMACSecret, signingBody, issuedAt, nonce, req.Metadata.TraceID)

		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		doc["hmac"] = map[string]string{
			"signature": signature,
			"nonce":     nonce,
			"issued_at": issuedAt,
		}

		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&signRequestPath, "request", "", "path to the unsigned request JSON file")
	_ = signCmd.MarkFlagRequired("request")
}
