package commands

import (
	"fmt"

	"github.com/getcharzp/go-voiceconv/index"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect retrieval indexes",
}

var indexInfoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Show retrieval index parameters",
	Long: `读取检索索引并输出维度, 向量数与图参数.

Examples:
  vcinfer index info ./rvc_models/alto/alto.index`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := index.LoadFile(args[0])
		if err != nil {
			return err
		}
		cfg := idx.Config()
		if jsonOutput {
			return printJSON(map[string]any{
				"file":            args[0],
				"dim":             idx.Dim(),
				"vectors":         idx.Len(),
				"speaker_id":      idx.SpeakerID(),
				"m":               cfg.M,
				"ef_construction": cfg.EfConstruction,
				"ef_search":       cfg.EfSearch,
			})
		}
		w := newTabWriter()
		fmt.Fprintf(w, "FILE\t%s\n", args[0])
		fmt.Fprintf(w, "DIM\t%d\n", idx.Dim())
		fmt.Fprintf(w, "VECTORS\t%d\n", idx.Len())
		fmt.Fprintf(w, "SPEAKER\t%d\n", idx.SpeakerID())
		fmt.Fprintf(w, "M\t%d\n", cfg.M)
		fmt.Fprintf(w, "EF\tconstruction=%d search=%d\n", cfg.EfConstruction, cfg.EfSearch)
		return w.Flush()
	},
}

func init() {
	indexCmd.AddCommand(indexInfoCmd)
	rootCmd.AddCommand(indexCmd)
}
