// Package dsl 解析 YAML 流水线定义，
// 支持 ${variable} 插值以及按名称引用的本地转换函数与校验谓词，
// 输出可直接注册到 workflow.Engine 的 Pipeline。
package dsl
