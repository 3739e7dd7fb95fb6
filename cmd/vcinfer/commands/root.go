package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/rvc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	debug      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "vcinfer",
	Short: "Voice conversion inference",
	Long: `vcinfer: 用训练好的声音模型转换音频.

模型目录约定:
  <models_dir>/<name>/<name>.ckpt    权重 (必需, 恰好一个)
  <models_dir>/<name>/<name>.index   检索索引 (可选, 至多一个)

Examples:
  vcinfer convert --model alto --input in.wav --pitch 12
  vcinfer probe
  vcinfer models --config voiceconv.yaml
  vcinfer index info ./rvc_models/alto/alto.index`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = voiceconv.Logger().Sync()
	},
}

// Execute 运行命令行
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML 配置文件, 为空时使用默认配置")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "输出调试日志")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "以 JSON 输出结果")
}

func setupLogger() error {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	voiceconv.SetLogger(logger)
	return nil
}

func loadConfig() (rvc.Config, error) {
	if configFile == "" {
		return rvc.DefaultConfig(), nil
	}
	return rvc.LoadConfig(configFile)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}
