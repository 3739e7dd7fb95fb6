package commands

import (
	"fmt"
	"time"

	"github.com/getcharzp/go-voiceconv/catalog"
	"github.com/getcharzp/go-voiceconv/rvc"
	"github.com/spf13/cobra"
)

type modelRow struct {
	rvc.ModelFiles
	Fingerprint string    `json:"fingerprint,omitempty"`
	Version     string    `json:"version,omitempty"`
	SampleRate  int       `json:"sample_rate,omitempty"`
	Speakers    int       `json:"speakers,omitempty"`
	Loads       int       `json:"loads"`
	LastLoaded  time.Time `json:"last_loaded,omitempty"`
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List voice models",
	Long: `列出模型根目录下符合约定的模型.

配置了 catalog_dir 时附带版本, 采样率与加载次数.

Examples:
  vcinfer models
  vcinfer models --config voiceconv.yaml --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		models, err := rvc.ListModels(cfg.ModelsDir)
		if err != nil {
			return err
		}

		var cat *catalog.Catalog
		if cfg.CatalogDir != "" {
			if cat, err = catalog.Open(catalog.Options{Dir: cfg.CatalogDir}); err != nil {
				return err
			}
			defer cat.Close()
		}

		rows := make([]modelRow, 0, len(models))
		for _, m := range models {
			row := modelRow{ModelFiles: m}
			if cat != nil {
				if fp, err := catalog.FingerprintFile(m.Weights); err == nil {
					row.Fingerprint = fp
					if e, err := cat.Get(fp); err == nil {
						row.Version = e.Version
						row.SampleRate = e.SampleRate
						row.Speakers = e.Speakers
						row.Loads = e.Loads
						row.LastLoaded = e.LastLoaded
					}
				}
			}
			rows = append(rows, row)
		}

		if jsonOutput {
			return printJSON(rows)
		}
		w := newTabWriter()
		fmt.Fprintln(w, "NAME\tVERSION\tSR\tINDEX\tLOADS\tWEIGHTS")
		for _, r := range rows {
			index := "-"
			if r.Index != "" {
				index = "yes"
			}
			version := r.Version
			if version == "" {
				version = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n", r.Name, version, r.SampleRate, index, r.Loads, r.Weights)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
