package voiceconv

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind int

const (
	// KindUnknown 未分类错误
	KindUnknown Kind = iota
	// KindConfiguration 模型文件格式错误、维度不一致
	KindConfiguration
	// KindResourceNotFound 模型目录或权重文件缺失
	KindResourceNotFound
	// KindValidation 参数越界或不支持的选项
	KindValidation
	// KindRuntimeInference 张量计算过程中的错误 (例如显存耗尽)
	KindRuntimeInference
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResourceNotFound:
		return "resource_not_found"
	case KindValidation:
		return "validation"
	case KindRuntimeInference:
		return "runtime_inference"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidCheckpoint 模型文件缺少 weight 或 config
	ErrInvalidCheckpoint = errors.New("无效的模型文件")
	// ErrShapeMismatch 配置与权重形状不一致
	ErrShapeMismatch = errors.New("权重形状不匹配")
	// ErrIndexDimensionMismatch 特征维度与索引维度不一致
	ErrIndexDimensionMismatch = errors.New("索引维度不匹配")
	// ErrInvalidIndex 索引文件损坏或格式不支持
	ErrInvalidIndex = errors.New("索引文件无效")
	// ErrModelNotFound 模型目录中缺少权重文件
	ErrModelNotFound = errors.New("未找到模型")
	// ErrUnsupportedMethod 不支持的音高提取算法
	ErrUnsupportedMethod = errors.New("不支持的音高提取算法")
	// ErrInvalidParameter 参数越界
	ErrInvalidParameter = errors.New("参数无效")
	// ErrInference 推理失败
	ErrInference = errors.New("推理失败")
)

var sentinelKinds = map[error]Kind{
	ErrInvalidCheckpoint:      KindConfiguration,
	ErrShapeMismatch:          KindConfiguration,
	ErrIndexDimensionMismatch: KindConfiguration,
	ErrInvalidIndex:           KindConfiguration,
	ErrModelNotFound:          KindResourceNotFound,
	ErrUnsupportedMethod:      KindValidation,
	ErrInvalidParameter:       KindValidation,
	ErrInference:              KindRuntimeInference,
}

// Error 带分类的错误
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E 构造分类错误
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf 以 sentinel 为根构造错误, 分类由 sentinel 决定
//
// # Params:
//
//	sentinel: 根错误, 例如 ErrInvalidParameter
//	format: 附加说明
func Errorf(sentinel error, format string, args ...any) error {
	return &Error{
		Kind: sentinelKinds[sentinel],
		Err:  fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}

// KindOf 返回错误链上第一个可识别的分类
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}
