package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/storyboard-go/internal/script"
)

var refsCmd = &cobra.Command{
	Use:   "refs <manifest.yaml>",
	Short: "Ingest reference images into visual memory",
	Long: `Index a prepared reference manifest into the visual-context table.

Each entry names an entity with its category, tags, confidence and image
paths. Indexed references anchor future renders of that entity.

Example:
  storyboard refs refs/manifest.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRefs,
}

func runRefs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close(ctx)

	_, embed, err := getLLM()
	if err != nil {
		return err
	}

	manifest, err := script.LoadRefManifest(args[0])
	if err != nil {
		return err
	}

	n, err := script.IndexRefs(ctx, st, embed, manifest)
	if err != nil {
		return fmt.Errorf("index references: %w", err)
	}

	fmt.Printf("Indexed %d reference images\n", n)
	return nil
}
