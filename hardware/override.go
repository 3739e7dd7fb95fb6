package hardware

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/getcharzp/go-voiceconv"
	"github.com/up-zero/gotool/fileutil"
	"go.uber.org/zap"
)

// Override 建议的配置文件改写: 把 File 中的 Old 替换为 New
type Override struct {
	File string
	Old  string
	New  string
}

// precisionOverrides 采样率配置关闭 fp16, 训练预处理改用低精度兼容参数
func precisionOverrides() []Override {
	return []Override{
		{File: filepath.Join("configs", "32k.json"), Old: "true", New: "false"},
		{File: filepath.Join("configs", "40k.json"), Old: "true", New: "false"},
		{File: filepath.Join("configs", "48k.json"), Old: "true", New: "false"},
		{File: "trainset_preprocess_pipeline_print.py", Old: "3.7", New: "3.0"},
	}
}

// ApplyOverrides 将改写建议落盘, 不存在的文件跳过
//
// # Params:
//
//	root: 配置文件所在根目录
//	overrides: Resolve 返回的改写建议
func ApplyOverrides(root string, overrides []Override) error {
	logger := voiceconv.Component("hardware")
	for _, o := range overrides {
		path := filepath.Join(root, o.File)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("配置文件不存在, 跳过", zap.String("file", path))
			continue
		}
		if err != nil {
			return fmt.Errorf("读取配置文件失败: %w", err)
		}
		replaced := bytes.ReplaceAll(data, []byte(o.Old), []byte(o.New))
		if bytes.Equal(replaced, data) {
			continue
		}
		if err := fileutil.FileSave(path, replaced); err != nil {
			return fmt.Errorf("写入配置文件失败: %w", err)
		}
		logger.Info("已改写配置文件", zap.String("file", path), zap.String("old", o.Old), zap.String("new", o.New))
	}
	return nil
}
