// Package stability Stability AI 文生图 Provider，直接调用 REST 接口。
package stability
