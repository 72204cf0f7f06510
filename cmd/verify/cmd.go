package verify

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"extpack.software/extpack/archive"
	"extpack.software/extpack/bundle"
	"extpack.software/extpack/internal/flags/enum"
	"extpack.software/extpack/internal/flags/file"
	"extpack.software/extpack/internal/flags/log"
	"extpack.software/extpack/internal/render"
	"extpack.software/extpack/signing"
)

const (
	FlagPublicKey        = "public-key"
	FlagDigest           = "digest"
	FlagConcurrencyLimit = "concurrency-limit"
	FlagOutput           = "output"
)

// New constructs the command to verify packaged artifacts.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:        "verify {artifact...}",
		SuggestFor: []string{"check", "validate"},
		Short:      "Verify the signatures of packaged artifacts",
		Args:       cobra.MinimumNArgs(1),
		Long: `Verify the signatures of packaged artifacts.

For every artifact the embedded manifest is rebuilt into the placeholder form
that was hashed at packaging time, the content digest is recomputed over the
artifact tree, and the embedded Ed25519 signature is checked against it.

Behavior:

* By default the signature is checked against the public key embedded in the
  artifact itself. This proves the content is intact, not who signed it.
* With --public-key the signature is checked against the given trusted key
  file instead, additionally rejecting artifacts signed by anyone else.
* With --digest the recomputed content digest must also match the pinned
  value.
* Every artifact is reported individually; the command fails if any artifact
  does not verify.

Zip, tar, tgz, and extracted directory artifacts are all supported.`,
		Example: strings.TrimSpace(`
# Verify an artifact against its embedded public key
extpack verify demo-1.0.0.zip

# Verify against a trusted public key
extpack verify demo-1.0.0.zip --public-key ./extension.pub

# Pin the expected content digest
extpack verify demo-1.0.0.zip --digest sha256:7c38...

# Verify several artifacts and emit a JSON report
extpack verify ./out/demo-1.0.0.zip ./out/other-2.1.0.tgz --output json
`),
		RunE:              VerifyArtifacts,
		DisableAutoGenTag: true,
	}

	file.VarP(cmd.Flags(), FlagPublicKey, "p", "",
		"trusted public key file to verify against instead of the embedded key")
	cmd.Flags().String(FlagDigest, "", "expected content digest, e.g. sha256:...")
	cmd.Flags().Int(FlagConcurrencyLimit, 4, "maximum number of artifacts verified in parallel")
	enum.Var(cmd.Flags(), FlagOutput, []string{"table", "json"}, "output format of the verification report")

	return cmd
}

type report struct {
	Artifact string `json:"artifact"`
	*bundle.Outcome
}

// VerifyArtifacts verifies every artifact given as positional argument.
func VerifyArtifacts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("getting base logger failed: %w", err)
	}

	publicKeyFlag, err := file.Get(cmd.Flags(), FlagPublicKey)
	if err != nil {
		return fmt.Errorf("getting public-key flag failed: %w", err)
	}
	var trustedKey ed25519.PublicKey
	if path := publicKeyFlag.String(); path != "" {
		if trustedKey, err = signing.LoadPublicKey(path); err != nil {
			return err
		}
	}

	rawDigest, err := cmd.Flags().GetString(FlagDigest)
	if err != nil {
		return fmt.Errorf("getting digest flag failed: %w", err)
	}
	var expected digest.Digest
	if rawDigest != "" {
		if expected, err = digest.Parse(rawDigest); err != nil {
			return fmt.Errorf("parsing expected digest failed: %w", err)
		}
	}

	concurrencyLimit, err := cmd.Flags().GetInt(FlagConcurrencyLimit)
	if err != nil {
		return fmt.Errorf("getting concurrency-limit flag failed: %w", err)
	}

	reports := make([]report, len(args))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrencyLimit)
	for i, path := range args {
		eg.Go(func() error {
			start := time.Now()
			logger.InfoContext(egctx, "verifying artifact", slog.String("artifact", path))
			defer func() {
				logger.InfoContext(egctx, "artifact verification finished",
					slog.String("artifact", path), slog.String("duration", time.Since(start).String()))
			}()

			outcome, err := verifyOne(egctx, path, bundle.VerifyOptions{
				PublicKey:      trustedKey,
				ExpectedDigest: expected,
			})
			if err != nil {
				return fmt.Errorf("verifying %q failed: %w", path, err)
			}
			reports[i] = report{Artifact: path, Outcome: outcome}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("SIGNATURE VERIFICATION FAILED: %w", err)
	}

	if err := renderReports(cmd, reports); err != nil {
		return err
	}

	invalid := 0
	for _, r := range reports {
		if !r.OK {
			invalid++
		}
	}
	if invalid > 0 {
		return fmt.Errorf("SIGNATURE VERIFICATION FAILED: %d of %d artifacts did not verify", invalid, len(reports))
	}
	logger.InfoContext(ctx, "SIGNATURE VERIFICATION SUCCESSFUL", slog.Int("artifacts", len(reports)))
	return nil
}

func verifyOne(ctx context.Context, path string, opts bundle.VerifyOptions) (_ *bundle.Outcome, err error) {
	artifact, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, artifact.Close())
	}()
	return bundle.VerifyArtifact(ctx, artifact.FS(), opts)
}

func renderReports(cmd *cobra.Command, reports []report) error {
	output, err := enum.Get(cmd.Flags(), FlagOutput)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}
	switch output {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(reports)
	case "table":
		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Artifact", "Result", "Digest", "Reason"})
		for _, r := range reports {
			t.AppendRow(table.Row{r.Artifact, string(r.Code), r.Digest, r.Reason})
		}
		t.SetStyle(render.TableStyle(cmd.OutOrStdout()))
		t.Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
