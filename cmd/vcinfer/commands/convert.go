package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/pipeline"
	"github.com/getcharzp/go-voiceconv/rvc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var convertFlags struct {
	model       string
	inputs      []string
	pitch       float64
	octaves     float64
	method      string
	indexRate   float64
	filter      int
	rmsMix      float64
	protect     float64
	hop         int
	autotune    bool
	f0Min       float64
	f0Max       float64
	resample    int
	speaker     int64
	format      string
	metricsAddr string
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert audio with a voice model",
	Long: `用指定模型转换一个或多个 WAV 文件, 每个输入输出一个文件.

输出文件写入配置中的 output_dir, 路径逐行打印到标准输出.

Examples:
  vcinfer convert --model alto --input in.wav
  vcinfer convert --model alto --input a.wav --input b.wav --octaves 1 --method "hybrid[pm+yin]"
  vcinfer convert --model alto --input in.wav --format pcm --resample 44100`,
	RunE: runConvert,
}

func init() {
	d := pipeline.DefaultRequest()
	f := convertCmd.Flags()
	f.StringVarP(&convertFlags.model, "model", "m", "", "模型目录名 (必需)")
	f.StringSliceVarP(&convertFlags.inputs, "input", "i", nil, "输入 WAV 文件, 可重复 (必需)")
	f.Float64Var(&convertFlags.pitch, "pitch", 0, "移调半音数")
	f.Float64Var(&convertFlags.octaves, "octaves", 0, "移调八度数, 与 --pitch 相加")
	f.StringVar(&convertFlags.method, "method", d.Method, "音高算法: pm, yin, yin-smooth, hybrid[a+b]")
	f.Float64Var(&convertFlags.indexRate, "index-rate", d.IndexRatio, "检索混合比例 [0, 1]")
	f.IntVar(&convertFlags.filter, "filter-radius", d.FilterRadius, "音高中值滤波半径 [0, 7]")
	f.Float64Var(&convertFlags.rmsMix, "rms-mix", d.RMSMixRatio, "响度包络比例 [0, 1]")
	f.Float64Var(&convertFlags.protect, "protect", d.Protect, "清音保护 [0, 0.5]")
	f.IntVar(&convertFlags.hop, "hop", d.HopLength, "音高估计帧移")
	f.BoolVar(&convertFlags.autotune, "autotune", false, "音高吸附到半音")
	f.Float64Var(&convertFlags.f0Min, "f0-min", d.F0Min, "音高下限 (Hz)")
	f.Float64Var(&convertFlags.f0Max, "f0-max", d.F0Max, "音高上限 (Hz)")
	f.IntVar(&convertFlags.resample, "resample", 0, "输出重采样率, 0 保持模型采样率")
	f.Int64Var(&convertFlags.speaker, "speaker", 0, "说话人编号")
	f.StringVar(&convertFlags.format, "format", d.OutputFormat, "输出格式: wav, pcm")
	f.StringVar(&convertFlags.metricsAddr, "metrics-addr", "", "转换期间暴露 /metrics 的地址, 如 :9090")
	_ = convertCmd.MarkFlagRequired("model")
	_ = convertCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(convertCmd)
}

func convertRequest() pipeline.Request {
	req := pipeline.DefaultRequest()
	req.PitchShift = convertFlags.pitch + pipeline.OctavesToSemitones(convertFlags.octaves)
	req.Method = convertFlags.method
	req.IndexRatio = convertFlags.indexRate
	req.FilterRadius = convertFlags.filter
	req.RMSMixRatio = convertFlags.rmsMix
	req.Protect = convertFlags.protect
	req.HopLength = convertFlags.hop
	req.AutoTune = convertFlags.autotune
	req.F0Min = convertFlags.f0Min
	req.F0Max = convertFlags.f0Max
	req.ResampleRate = convertFlags.resample
	req.SpeakerID = convertFlags.speaker
	req.OutputFormat = convertFlags.format
	return req
}

func runConvert(cmd *cobra.Command, args []string) error {
	req := convertRequest()
	if _, err := req.Validate(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics, err := rvc.NewMetrics(reg)
	if err != nil {
		return err
	}
	if addr := convertFlags.metricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				voiceconv.Logger().Warn("metrics 服务退出", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	engine, err := rvc.NewEngine(cfg, rvc.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer engine.Destroy()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var outputs []string
	for _, input := range convertFlags.inputs {
		out, err := engine.RunFile(ctx, input, req, convertFlags.model)
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
		outputs = append(outputs, out)
		if !jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), out)
		}
	}
	if jsonOutput {
		return printJSON(outputs)
	}
	return nil
}
