// Package layout 汇总各游戏的目录布局（通道模板、子目录规则、非清单文件），并提供统一的注册入口。
//
// 新增游戏时：
//   1. 在 internal/layout/<game>/ 下声明 Profile；
//   2. 在 init() 中调用 MustRegister；
//   3. 在 internal/config/modules.go 中以空白导入引入该包。
package layout
