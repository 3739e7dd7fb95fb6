package rvc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/getcharzp/go-voiceconv"
	"github.com/getcharzp/go-voiceconv/pipeline"
	"github.com/google/uuid"
	"github.com/up-zero/gotool/fileutil"
	"github.com/up-zero/gotool/mediautil"
)

// ReadAudio 读取 WAV 文件并转换为 16kHz 单声道
func ReadAudio(path string) ([]float32, error) {
	wavBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, voiceconv.E(voiceconv.KindResourceNotFound, "读取音频", err)
	}
	return parseWavBytes(wavBytes)
}

func parseWavBytes(wavBytes []byte) ([]float32, error) {
	targetBytes, err := mediautil.ReformatWavBytes(wavBytes, inputRate, channels, bitsPerSample)
	if err != nil {
		return nil, voiceconv.E(voiceconv.KindValidation, "解析音频", err)
	}
	if len(targetBytes) < 44 {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "音频数据过短")
	}
	return mediautil.PcmBytesToFloat32(targetBytes[44:], bitsPerSample)
}

// encodeAudio 按输出格式编码, pcm 为不带文件头的 16bit 小端数据
func encodeAudio(pcm []float32, sampleRate int, format string) ([]byte, string, error) {
	wavBytes, err := mediautil.Float32ToWavBytes(pcm, sampleRate, channels, bitsPerSample)
	if err != nil {
		return nil, "", voiceconv.E(voiceconv.KindRuntimeInference, "编码音频", err)
	}
	if format == pipeline.FormatPCM {
		return wavBytes[44:], pipeline.FormatPCM, nil
	}
	return wavBytes, pipeline.FormatWAV, nil
}

// writeOutput 先写临时文件再改名, 失败时不留下半截结果
func writeOutput(dir, model string, data []byte, ext string) (string, error) {
	id := uuid.NewString()
	final := filepath.Join(dir, fmt.Sprintf("%s-%s.%s", model, id, ext))
	tmp := filepath.Join(dir, "."+id+".tmp")
	if err := fileutil.FileSave(tmp, data); err != nil {
		return "", fmt.Errorf("写出结果失败: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("写出结果失败: %w", err)
	}
	return final, nil
}
