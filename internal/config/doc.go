// Package config 负责加载并校验网关的 JSON 配置文件，为未填写的字段
// 提供合理的默认值。
package config
