// vcinfer 命令行变声工具
//
// 用法:
//
//	vcinfer [flags] <command> [args]
//
// 命令:
//
//	convert  - 用指定模型转换音频
//	probe    - 探测推理设备并输出硬件配置
//	models   - 列出模型目录与加载记录
//	index    - 查看检索索引
package main

import (
	"fmt"
	"os"

	"github.com/getcharzp/go-voiceconv/cmd/vcinfer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
