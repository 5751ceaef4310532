// Package index 维护每个版本（scope）的远端 URL → 摘要记录，并按归一化路径跨版本查找。
//
// 磁盘布局：
//
//	<dir>/<scope>.json   # 缩进两个空格的 JSON 对象，值为 MD5 或 "not_found"
//
// 每次 Set 后立即整体重写对应文件（临时文件 + rename），进程中途退出最多丢失最后一条。
package index
