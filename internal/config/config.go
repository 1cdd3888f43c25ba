// Package config 实现堆调优配置文件的读写
package config

import (
	"fmt"
	"os"

	"github.com/inhies/go-bytesize"
	"github.com/pelletier/go-toml/v2"
)

// 常量定义
const (
	ConfigFileName = "heap.toml" // 配置文件名

	wordBytes = 8
)

// Config 堆配置文件
type Config struct {
	Heap HeapSection `toml:"heap"`
}

// HeapSection 堆调优参数
type HeapSection struct {
	// YoungSize 幼年代单个半区的大小（人读格式，如 "64MB"）
	YoungSize string `toml:"young_size"`

	// StackSize 影子栈的初始大小（人读格式）
	StackSize string `toml:"stack_size"`

	// Debug 调试级别：0 静默，1 关闭时汇总，>=2 每次 GC 跟踪
	Debug int `toml:"debug"`

	// StatsPath 非空时，关闭堆会把统计快照以 JSON 写入该路径
	StatsPath string `toml:"stats_path"`
}

// Default 默认配置。
func Default() *Config {
	return &Config{
		Heap: HeapSection{
			YoungSize: "64MB",
			StackSize: "1MB",
			Debug:     0,
		},
	}
}

// Load 从文件加载配置。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save 保存配置到文件。
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate 检查参数范围。
func (c *Config) Validate() error {
	young, err := bytesize.Parse(c.Heap.YoungSize)
	if err != nil {
		return fmt.Errorf("invalid young_size %q: %w", c.Heap.YoungSize, err)
	}
	if young < 1024 {
		return fmt.Errorf("young_size %q too small: at least 1KB", c.Heap.YoungSize)
	}
	if _, err := bytesize.Parse(c.Heap.StackSize); err != nil {
		return fmt.Errorf("invalid stack_size %q: %w", c.Heap.StackSize, err)
	}
	if c.Heap.Debug < 0 {
		return fmt.Errorf("invalid debug level %d", c.Heap.Debug)
	}
	return nil
}

// YoungWords 幼年代半区大小换算为字数。
func (c *Config) YoungWords() (uint64, error) {
	size, err := bytesize.Parse(c.Heap.YoungSize)
	if err != nil {
		return 0, fmt.Errorf("invalid young_size %q: %w", c.Heap.YoungSize, err)
	}
	return uint64(size) / wordBytes, nil
}

// StackSlots 影子栈初始容量换算为槽数。
func (c *Config) StackSlots() (int, error) {
	size, err := bytesize.Parse(c.Heap.StackSize)
	if err != nil {
		return 0, fmt.Errorf("invalid stack_size %q: %w", c.Heap.StackSize, err)
	}
	return int(uint64(size) / wordBytes), nil
}
