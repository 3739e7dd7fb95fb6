// Package rvc 变声推理入口: 解析模型目录, 加载资源, 执行一次转换并写出结果
package rvc

import (
	"fmt"
	"os"

	"github.com/getcharzp/go-voiceconv"
	"gopkg.in/yaml.v3"
)

const (
	// channels 输出声道数
	channels = 1
	// bitsPerSample 输出采样位数
	bitsPerSample = 16
	// inputRate 读取音频时统一转换到的采样率
	inputRate = 16000
)

// Config 定义变声引擎的配置参数
type Config struct {
	// 必填参数
	OnnxRuntimeLibPath string `yaml:"onnxruntime_lib_path"` // onnxruntime.dll (或 .so, .dylib) 的路径
	ModelsDir          string `yaml:"models_dir"`           // 模型根目录, 每个模型一个子目录
	HubertModelPath    string `yaml:"hubert_model_path"`    // 内容编码器 ONNX 模型路径
	OutputDir          string `yaml:"output_dir"`           // 输出目录

	// 可选参数
	IsHalf            bool   `yaml:"is_half"`              // (可选) 优先使用半精度, 旧显卡会被强制改为单精度
	NumThreads        int    `yaml:"num_threads"`          // (可选) ONNX 线程数, 默认由CPU核心数决定
	EnableCpuMemArena bool   `yaml:"enable_cpu_mem_arena"` // (可选) 是否启用内存池
	NeighborK         int    `yaml:"neighbor_k"`           // (可选) 检索近邻数, 默认 8
	CatalogDir        string `yaml:"catalog_dir"`          // (可选) 模型元数据目录, 为空时不记录
	ConfigRoot        string `yaml:"config_root"`          // (可选) 硬件改写建议落盘的根目录, 为空时只记录日志
}

// DefaultConfig 返回一套默认的配置 (基于常见的目录结构)
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: voiceconv.DefaultLibraryPath(),
		ModelsDir:          "./rvc_models",
		HubertModelPath:    "./hubert_weights/hubert_base.onnx",
		OutputDir:          "./output",
		IsHalf:             true,
	}
}

// LoadConfig 读取 YAML 配置, 未出现的字段保持默认值
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, voiceconv.E(voiceconv.KindConfiguration, "解析配置文件", err)
	}
	return cfg, nil
}
