package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bitswalk/ebf/src/ebf/internal/output"
	"github.com/bitswalk/ebf/src/ebf/storage"
)

var publishCmd = &cobra.Command{
	Use:   "publish <output-dir>",
	Short: "Publish a build output directory to the artifact store",
	Long: `Uploads every file in an output directory to the configured store,
local directory tree or S3-compatible bucket, keyed by directory name.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().String("prefix", "", "Key prefix override (default: directory name)")
}

func runPublish(cmd *cobra.Command, args []string) error {
	dir := args[0]
	prefix, _ := cmd.Flags().GetString("prefix")
	if prefix == "" {
		prefix = filepath.Base(filepath.Clean(dir))
	}

	backend, err := newStorageBackend(cmd.Context())
	if err != nil {
		return err
	}
	keys, err := publishDir(cmd.Context(), backend, dir, prefix)
	if err != nil {
		return err
	}

	if getOutputFormat() == "json" {
		return output.PrintJSON(map[string]interface{}{
			"store": backend.Location(),
			"keys":  keys,
		})
	}
	output.PrintMessage(fmt.Sprintf("Published %d artifacts to %s", len(keys), backend.Location()))
	for _, key := range keys {
		output.PrintMessage("  " + key)
	}
	return nil
}

// newStorageBackend opens the configured publish backend and checks it is
// reachable before any upload starts
func newStorageBackend(ctx context.Context) (storage.Backend, error) {
	backend, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if s3b, ok := backend.(*storage.S3Backend); ok {
		if err := s3b.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	if err := backend.Ping(ctx); err != nil {
		return nil, err
	}
	return backend, nil
}

// publishDir uploads a directory tree under the given key prefix
func publishDir(ctx context.Context, backend storage.Backend, dir, prefix string) ([]string, error) {
	return storage.PublishDir(ctx, backend, dir, prefix)
}
