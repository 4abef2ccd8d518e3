package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codectx/codectx/internal/embed"
	"github.com/codectx/codectx/internal/output"
)

func newSetupCmd() *cobra.Command {
	var (
		check   bool
		auto    bool
		offline bool
		verbose bool
		model   string
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Set up Codectx embedding backend",
		Long: `Set up Codectx by downloading and verifying the embedding model.

This command will:
1. Check whether the ONNX embedding model is already cached locally
2. Download it from Hugging Face if missing
3. Validate the embedder loads correctly

Use --offline to configure for BM25-only search (no embeddings).`,
		Example: `  # Download and verify the embedding model
  codectx setup

  # Check status only
  codectx setup --check

  # Configure for offline mode
  codectx setup --offline`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSetup(ctx, cmd, check, auto, offline, verbose, model)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Only check status, don't download")
	cmd.Flags().BoolVar(&auto, "auto", false, "Non-interactive mode (for scripts/Homebrew)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Configure for offline mode (BM25-only)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")
	cmd.Flags().StringVar(&model, "model", "", "Embedding model to download (default: jina-code)")

	return cmd
}

func runSetup(ctx context.Context, cmd *cobra.Command, checkOnly, auto, offline, verbose bool, model string) error {
	out := output.New(cmd.OutOrStdout())
	_ = auto // download is always non-interactive; flag kept for script compatibility

	out.Status("🔧", "Codectx Setup")
	out.Newline()

	if offline {
		out.Status("📴", "Configuring offline mode (BM25-only search)")
		out.Newline()
		out.Status("ℹ️ ", "Offline mode uses keyword-based search only")
		out.Status("ℹ️ ", "Semantic search requires the ONNX embedding model")
		out.Newline()
		out.Success("Offline mode configured. Run 'codectx init --offline' to index.")
		return nil
	}

	modelType := embed.DefaultModelType
	if model != "" {
		if mt, ok := embed.ParseModelType(model); ok {
			modelType = mt
		}
	}

	home, _ := os.UserHomeDir()
	modelsDir := os.Getenv("CODECTX_MODEL_CACHE_DIR")
	if modelsDir == "" {
		modelsDir = home + "/.cache/codectx/models"
	}

	manager := embed.NewModelManager(modelsDir, modelType)

	out.Status("🔍", "Checking embedding model status...")
	out.Newline()

	out.Status("📊", "Embedder Status:")
	out.Status("", fmt.Sprintf("  Model:   %s", modelType))
	out.Status("", fmt.Sprintf("  Cache:   %s", manager.ModelDir()))
	if manager.ModelExists() {
		out.Status("", "  Status:  ✅ Downloaded")
	} else {
		out.Status("", "  Status:  ❌ Not downloaded")
	}
	out.Newline()

	if checkOnly {
		if manager.ModelExists() {
			out.Success("Embedder is ready!")
		} else {
			out.Warning("Embedder not fully configured")
			out.Status("💡", "Run 'codectx setup' to download the model")
		}
		return nil
	}

	if !manager.ModelExists() {
		out.Statusf("📥", "Downloading %s...", modelType)
		out.Newline()

		if _, err := manager.EnsureModel(ctx, func(file string, downloaded, total int64) {
			if verbose && total > 0 {
				out.Status("", fmt.Sprintf("  %s: %d/%d bytes", file, downloaded, total))
			}
		}); err != nil {
			out.Warningf("Failed to download model: %v", err)
			out.Statusf("💡", "Try manually, or use --offline for BM25-only search")
			return err
		}

		out.Newline()
		out.Successf("Model %s downloaded", modelType)
		out.Newline()
	}

	out.Status("🔍", "Verifying setup...")

	embedder, err := embed.NewEmbedder(ctx, embed.ProviderOnnx, string(modelType))
	if err != nil {
		out.Warningf("Embedder verification failed: %v", err)
		return err
	}
	defer func() { _ = embedder.Close() }()

	info := embed.GetInfo(ctx, embedder)
	out.Newline()
	out.Success("Setup complete!")
	out.Newline()
	out.Status("📊", "Configuration:")
	out.Status("", fmt.Sprintf("  Provider:   %s", info.Provider))
	out.Status("", fmt.Sprintf("  Model:      %s", info.Model))
	out.Status("", fmt.Sprintf("  Dimensions: %d", info.Dimensions))
	out.Newline()
	out.Status("🚀", "Ready! Run 'codectx init' to index your project.")

	return nil
}
