package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/polai-go/internal/embedder"
	"github.com/54b3r/polai-go/internal/loader"
	"github.com/54b3r/polai-go/internal/logging"
	"github.com/54b3r/polai-go/internal/provider"
	"github.com/54b3r/polai-go/internal/tracing"
)

// doctorProbeTimeout bounds each network probe so one wedged backend cannot
// hang the whole diagnosis.
const doctorProbeTimeout = 5 * time.Second

// NewDoctorCmd constructs the `polai doctor` command, which checks the local
// environment end to end and reports what is broken or missing.
func NewDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the local polai environment",
		Long: `Check everything a working polai setup needs:

  - pdftotext on PATH (PDF extraction)
  - the configured policy document extracts cleanly
  - the persisted index artifact
  - embedding provider configuration
  - model provider reachability

Each check prints ok or FAIL with the reason. The command exits non-zero when
any check fails, so it can gate scripts and container health.

Examples:
  polai doctor
  MODEL_PROVIDER=openai polai doctor`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			failed := 0
			ok := func(name, detail string) {
				fmt.Printf("  ok    %-10s %s\n", name, detail)
			}
			note := func(name, detail string) {
				fmt.Printf("  --    %-10s %s\n", name, detail)
			}
			fail := func(name string, err error) {
				failed++
				fmt.Printf("  FAIL  %-10s %v\n", name, err)
			}

			// pdftotext. Optional for plain-text documents, so a miss is a
			// note unless the configured document is a PDF.
			var runner loader.Runner
			if r, err := loader.NewExecRunner(); err != nil {
				note("pdftotext", err.Error())
			} else {
				runner = r
				ok("pdftotext", "found on PATH")
			}

			// Document: stat first for a clean missing-file message, then a
			// real extraction, which is the only honest readability check.
			docPath := getEnvOrDefault("POLICY_DOCUMENT", defaultDocumentPath)
			if _, err := os.Stat(docPath); err != nil {
				fail("document", fmt.Errorf("%s not found (set POLICY_DOCUMENT to your policy file)", docPath))
			} else if text, err := loader.ExtractText(ctx, runner, docPath); err != nil {
				fail("document", err)
			} else {
				ok("document", fmt.Sprintf("%s (%d characters extracted)", docPath, len([]rune(text))))
			}

			// Index artifact. Absence is normal before the first build, so
			// it is a note, not a failure.
			if artifacts, qdrantStore, err := newArtifactStore(); err != nil {
				fail("index", err)
			} else {
				probeCtx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
				exists, err := artifacts.Exists(probeCtx)
				cancel()
				switch {
				case err != nil:
					fail("index", err)
				case exists:
					ok("index", artifacts.Location())
				default:
					note("index", fmt.Sprintf("not built yet at %s (run `polai build`)", artifacts.Location()))
				}
				if qdrantStore != nil {
					_ = qdrantStore.Close()
				}
			}

			// Embedding configuration. Validate catches missing keys and
			// backend/dimension mismatches without spending any quota.
			if err := embedder.Validate(log); err != nil {
				fail("embedding", err)
			} else {
				ok("embedding", embedder.ResolveBackend())
			}

			// Model provider. Backends with a token-free endpoint get a live
			// probe; the rest are config-checked only.
			providerCfg := provider.ConfigFromEnv()
			if err := providerCfg.Validate(); err != nil {
				fail("model", err)
			} else if hc := provider.NewHealthCheck(providerCfg); hc != nil {
				probeCtx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
				err := hc.HealthCheck(probeCtx)
				cancel()
				if err != nil {
					fail("model", err)
				} else {
					ok("model", fmt.Sprintf("%s reachable", providerCfg.Backend))
				}
			} else {
				note("model", fmt.Sprintf("%s configured; no token-free probe available, reachability unchecked", providerCfg.Backend))
			}

			// Tracing is informational only.
			if tracing.Configured() {
				ok("tracing", "langfuse keys present")
			} else {
				note("tracing", "langfuse disabled (LANGFUSE_PUBLIC_KEY not set)")
			}

			if failed > 0 {
				return fmt.Errorf("doctor: %d check(s) failed", failed)
			}
			fmt.Println("All checks passed.")
			return nil
		},
	}
}
