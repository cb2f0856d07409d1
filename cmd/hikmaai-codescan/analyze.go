// ABOUTME: Analyze command running the orchestrator over local files or a GCS prefix
// ABOUTME: Prints per-file slot outcomes as text or the full batch as JSON

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-codescan/internal/gcs"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		malware         bool
		security        bool
		gen             bool
		promptInjection bool
		outputJSON      bool
		gcsBucket       string
		gcsPrefix       string
		history         []string
	)

	cmd := &cobra.Command{
		Use:   "analyze [paths...]",
		Short: "Analyze source files with the selected providers",
		Long: `Analyze source files with malware-scan providers and the generative backend.

Directories are walked recursively. Without any analysis flag every analysis runs.
Provider keys come from the config file or the environment
(VIRUSTOTAL_API_KEY, HYBRID_ANALYSIS_API_KEY, MALSHARE_API_KEY,
GEMINI_API_KEY or OPENAI_API_KEY).

Examples:
  hikmaai-codescan analyze main.py
  hikmaai-codescan analyze --malware --json ./src
  hikmaai-codescan analyze --security --prompt-injection agent.py tools.py
  hikmaai-codescan analyze --gcs-bucket hikma-sources --gcs-prefix repo/src/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts := types.AnalysisOptions{
				Malware:         malware,
				Security:        security,
				Generative:      gen,
				PromptInjection: promptInjection,
			}
			if opts.Empty() {
				opts = types.AllOptions()
			}

			if len(args) == 0 && gcsBucket == "" {
				return fmt.Errorf("no input; pass paths or --gcs-bucket")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			a, err := buildApp(ctx, cfg, opts, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			files, err := collectFiles(args, cfg.HTTP.MaxContentBytes)
			if err != nil {
				return err
			}

			if gcsBucket != "" {
				remote, err := loadGCSFiles(ctx, gcsBucket, gcsPrefix, cfg.GCS.CredentialsFile, cfg.GCS.Endpoint, int64(cfg.HTTP.MaxContentBytes), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				files = append(files, remote...)
			}

			if len(files) == 0 {
				return fmt.Errorf("no files to analyze")
			}

			var convo *types.ConversationContext
			if turns := types.TurnsFromLines(history); len(turns) > 0 {
				convo = &types.ConversationContext{History: turns}
			}

			batch := a.orch.AnalyzeBatch(ctx, files, opts, convo)

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(batch)
			}
			for _, r := range batch.Results {
				printResult(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&malware, "malware", false, "run the malware-scan providers")
	cmd.Flags().BoolVar(&security, "security", false, "run the generative security analysis")
	cmd.Flags().BoolVar(&gen, "generative", false, "run the generative code analysis")
	cmd.Flags().BoolVar(&promptInjection, "prompt-injection", false, "run the prompt-injection analysis")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the batch result as JSON")
	cmd.Flags().StringVar(&gcsBucket, "gcs-bucket", "", "also analyze objects from this GCS bucket")
	cmd.Flags().StringVar(&gcsPrefix, "gcs-prefix", "", "object prefix within --gcs-bucket")
	cmd.Flags().StringArrayVar(&history, "history", nil, "prior conversation line (repeatable)")

	return cmd
}

// collectFiles reads every regular file under paths in a stable order.
// Files larger than maxBytes are rejected.
func collectFiles(paths []string, maxBytes int) ([]types.FileInput, error) {
	var names []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("accessing %s: %w", p, err)
		}
		if !info.IsDir() {
			names = append(names, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				names = append(names, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}

	files := make([]types.FileInput, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		f := types.FileInput{Name: name, Content: string(data)}
		if err := f.Validate(maxBytes); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func loadGCSFiles(ctx context.Context, bucket, prefix, credentials, endpoint string, maxBytes int64, warn io.Writer) ([]types.FileInput, error) {
	loader, err := gcs.NewLoader(ctx, gcs.Config{
		Bucket:          bucket,
		Prefix:          prefix,
		CredentialsFile: credentials,
		Endpoint:        endpoint,
		MaxObjectBytes:  maxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gcs loader: %w", err)
	}
	defer loader.Close()

	files, skipped, err := loader.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		fmt.Fprintf(warn, "skipped gs://%s/%s: %s\n", bucket, s.Name, s.Reason)
	}
	return files, nil
}

func printResult(w io.Writer, r types.AggregatedResult) {
	fmt.Fprintf(w, "File:        %s\n", r.FileName)
	fmt.Fprintf(w, "Fingerprint: %s\n", r.Fingerprint)
	fmt.Fprintf(w, "Options:     %s\n", r.Options)

	roles := make([]string, 0, len(r.Providers))
	for role := range r.Providers {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	for _, role := range roles {
		slot := r.Providers[types.ProviderRole(role)]
		switch {
		case slot.Error != nil:
			fmt.Fprintf(w, "  %-16s failed (%s)\n", role, slot.Error)
		case slot.Report != nil:
			cached := ""
			if slot.Report.Cached {
				cached = " [cached]"
			}
			fmt.Fprintf(w, "  %-16s %s%s\n", role, slot.Report.Verdict(), cached)
		}
	}

	if g := r.Generative; g != nil {
		switch {
		case g.Error != nil:
			fmt.Fprintf(w, "  %-16s failed (%s)\n", "generative", g.Error)
		case g.Result != nil:
			fmt.Fprintf(w, "  %-16s risk %s, %d vulnerabilities\n", "generative", g.Result.OverallRiskLevel, len(g.Result.Vulnerabilities))
		}
	}

	if r.Summary != "" {
		fmt.Fprintf(w, "Summary:\n%s\n", r.Summary)
	}
	fmt.Fprintln(w)
}
