package rvc

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/getcharzp/go-voiceconv"
)

const (
	weightsExt = ".ckpt"
	indexExt   = ".index"
)

// ModelFiles 模型目录中的文件
type ModelFiles struct {
	Name    string
	Dir     string
	Weights string
	Index   string // 可选
}

// ResolveModel 按约定解析模型目录: 恰好一个权重文件, 至多一个索引文件
func ResolveModel(modelsDir, name string) (ModelFiles, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return ModelFiles{}, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "模型名 %q 无效", name)
	}
	dir := filepath.Join(modelsDir, name)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return ModelFiles{}, voiceconv.Errorf(voiceconv.ErrModelNotFound, "模型目录 %s 不存在", dir)
	}
	if err != nil {
		return ModelFiles{}, voiceconv.E(voiceconv.KindResourceNotFound, "读取模型目录", err)
	}

	files := ModelFiles{Name: name, Dir: dir}
	var weights, indexes []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case weightsExt:
			weights = append(weights, filepath.Join(dir, e.Name()))
		case indexExt:
			indexes = append(indexes, filepath.Join(dir, e.Name()))
		}
	}
	switch len(weights) {
	case 0:
		return ModelFiles{}, voiceconv.Errorf(voiceconv.ErrModelNotFound, "%s 中没有 %s 权重文件", dir, weightsExt)
	case 1:
		files.Weights = weights[0]
	default:
		return ModelFiles{}, voiceconv.Errorf(voiceconv.ErrInvalidCheckpoint, "%s 中有多个权重文件: %v", dir, weights)
	}
	switch len(indexes) {
	case 0:
	case 1:
		files.Index = indexes[0]
	default:
		return ModelFiles{}, voiceconv.Errorf(voiceconv.ErrInvalidIndex, "%s 中有多个索引文件: %v", dir, indexes)
	}
	return files, nil
}

// ListModels 列出模型根目录下可用的模型, 不符合约定的目录跳过
func ListModels(modelsDir string) ([]ModelFiles, error) {
	entries, err := os.ReadDir(modelsDir)
	if err != nil {
		return nil, voiceconv.E(voiceconv.KindResourceNotFound, "读取模型根目录", err)
	}
	var out []ModelFiles
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if files, err := ResolveModel(modelsDir, e.Name()); err == nil {
			out = append(out, files)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
