package inspect

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"extpack.software/extpack/archive"
	"extpack.software/extpack/bundle"
	"extpack.software/extpack/internal/flags/enum"
	"extpack.software/extpack/internal/render"
	"extpack.software/extpack/manifest"
)

const FlagOutput = "output"

// New constructs the command to inspect a packaged artifact.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inspect {artifact}",
		Aliases: []string{"describe", "show"},
		Short:   "Show the manifest, content digest, and contents of an artifact",
		Args:    cobra.ExactArgs(1),
		Long: `Show the manifest, content digest, and contents of an artifact.

The artifact is opened read only. Its embedded manifest is rendered together
with the recomputed content digest, the verification status against the
embedded public key, and the complete file listing. Inspection never fails an
artifact for an invalid signature; the status column reports it instead.`,
		Example: strings.TrimSpace(`
# Inspect an artifact
extpack inspect demo-1.0.0.zip

# Emit the inspection report as JSON
extpack inspect demo-1.0.0.zip --output json
`),
		RunE:              InspectArtifact,
		DisableAutoGenTag: true,
	}

	enum.Var(cmd.Flags(), FlagOutput, []string{"table", "json"}, "output format of the inspection report")

	return cmd
}

type artifactReport struct {
	Artifact  string             `json:"artifact"`
	Format    string             `json:"format"`
	Digest    digest.Digest      `json:"digest,omitempty"`
	Status    string             `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	PublicKey string             `json:"publicKey,omitempty"`
	Manifest  *manifest.Manifest `json:"manifest"`
	Files     []artifactFile     `json:"files"`
}

type artifactFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// InspectArtifact renders the inspection report of the artifact given as
// positional argument.
func InspectArtifact(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()

	artifact, err := archive.Open(args[0])
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, artifact.Close())
	}()
	fsys := artifact.FS()

	raw, err := fs.ReadFile(fsys, bundle.ManifestPath)
	if err != nil {
		return fmt.Errorf("%w: reading %s failed: %w", manifest.ErrManifestMissing, bundle.ManifestPath, err)
	}
	doc, err := manifest.Parse(raw)
	if err != nil {
		return err
	}

	report := artifactReport{
		Artifact:  args[0],
		Format:    artifact.Format().String(),
		PublicKey: doc.PublicKey(),
		Manifest:  doc,
	}

	// An unsigned or otherwise unverifiable artifact is still inspectable;
	// only the status reflects it.
	outcome, verifyErr := bundle.VerifyArtifact(ctx, fsys, bundle.VerifyOptions{})
	switch {
	case verifyErr != nil:
		report.Status = "not-verifiable"
		report.Reason = verifyErr.Error()
		if report.Digest, err = bundle.ArtifactDigest(ctx, fsys); err != nil {
			return err
		}
	default:
		report.Status = string(outcome.Code)
		report.Reason = outcome.Reason
		report.Digest = outcome.Digest
	}

	if report.Files, err = listFiles(fsys); err != nil {
		return err
	}

	return renderReport(cmd, report)
}

func listFiles(fsys fs.FS) ([]artifactFile, error) {
	var files []artifactFile
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("listing artifact entry %q failed: %w", path, err)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("reading artifact entry %q failed: %w", path, err)
		}
		files = append(files, artifactFile{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func renderReport(cmd *cobra.Command, report artifactReport) error {
	output, err := enum.Get(cmd.Flags(), FlagOutput)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}
	switch output {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case "table":
		renderTables(cmd, report)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func renderTables(cmd *cobra.Command, report artifactReport) {
	style := render.TableStyle(cmd.OutOrStdout())

	summary := table.NewWriter()
	summary.SetOutputMirror(cmd.OutOrStdout())
	summary.AppendRow(table.Row{"Name", report.Manifest.Name()})
	summary.AppendRow(table.Row{"Version", report.Manifest.Version()})
	summary.AppendRow(table.Row{"Artifact", report.Artifact})
	summary.AppendRow(table.Row{"Format", report.Format})
	summary.AppendRow(table.Row{"Status", report.Status})
	if report.Reason != "" {
		summary.AppendRow(table.Row{"Reason", report.Reason})
	}
	summary.AppendRow(table.Row{"Digest", report.Digest})
	summary.AppendRow(table.Row{"Public Key", report.PublicKey})
	if permissions := report.Manifest.Permissions(); len(permissions) > 0 {
		summary.AppendRow(table.Row{"Permissions", strings.Join(permissions, ", ")})
	}
	if dependencies, err := report.Manifest.Dependencies(); err == nil && len(dependencies) > 0 {
		names := make([]string, 0, len(dependencies))
		for _, dependency := range dependencies {
			names = append(names, dependency.Name)
		}
		summary.AppendRow(table.Row{"Dependencies", strings.Join(names, ", ")})
	}
	summary.SetStyle(style)
	summary.Render()

	contents := table.NewWriter()
	contents.SetOutputMirror(cmd.OutOrStdout())
	contents.AppendHeader(table.Row{"Path", "Size"})
	for _, file := range report.Files {
		contents.AppendRow(table.Row{file.Path, file.Size})
	}
	contents.SetStyle(style)
	contents.Render()
}
