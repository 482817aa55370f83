// Package config 提供求解器配置管理
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SolverConfig 求解器配置
// 所有阈值集中在此处，各阶段通过显式传入使用，不使用内联常量
type SolverConfig struct {
	// 网格参数
	GridCells  int `json:"grid_cells"`  // 卡牌槽位总数，默认 24
	PairTarget int `json:"pair_target"` // 目标配对数，默认 12

	// 网格检测 (GridDetector)
	DetectThreshold float64 `json:"detect_threshold"` // 卡背匹配阈值，默认 0.45
	NMSOverlap      float64 `json:"nms_overlap"`      // 非极大值抑制重叠率阈值，默认 0.25
	ScaleMin        float64 `json:"scale_min"`        // 模板最小缩放比例，默认 0.3
	ScaleMax        float64 `json:"scale_max"`        // 模板最大缩放比例，默认 1.5
	ScaleStep       float64 `json:"scale_step"`       // 缩放步长，默认 0.06
	MinTemplatePx   int     `json:"min_template_px"`  // 缩放后模板最小边长（像素），默认 10
	QuickScanStride int     `json:"quick_scan_stride"` // 快速扫描帧间隔，默认 5
	QuickScanCap    int     `json:"quick_scan_cap"`    // 快速扫描最大帧数，默认 20
	WideScanStride  int     `json:"wide_scan_stride"`  // 全量扫描帧间隔，默认 2

	// 基准帧同步 (BaselineSynchronizer)
	BackMatchThreshold float64 `json:"back_match_threshold"` // 单格卡背判定阈值，默认 0.6
	StableMinCells     int     `json:"stable_min_cells"`     // 稳定帧最少卡背格数，默认 22
	StableMinRun       int     `json:"stable_min_run"`       // 稳定帧最短连续长度，默认 3

	// 卡面提取 (FaceExtractor)
	MinDeviation  float64 `json:"min_deviation"`  // 最小像素差异阈值，默认 8
	MinBrightness float64 `json:"min_brightness"` // 卡面亮度下限（过暗视为遮挡），默认 10
	MaxBrightness float64 `json:"max_brightness"` // 卡面亮度上限（过亮视为闪光），默认 170

	// 配对 / 标注 (Matcher)
	PairSize       int     `json:"pair_size"`       // 配对预处理尺寸，默认 64
	PairThreshold  float64 `json:"pair_threshold"`  // 配对接受阈值，默认 0.4
	LabelSize      int     `json:"label_size"`      // 标注预处理尺寸，默认 128
	LabelThreshold float64 `json:"label_threshold"` // 标注接受阈值，默认 0.5

	// 帧源
	MaxSeconds float64 `json:"max_seconds"` // 最长解码时长（秒），默认 8
	MaxFrames  int     `json:"max_frames"`  // 帧缓冲上限，默认 600

	// 运行参数
	Workers  int    `json:"workers"`   // 并行 worker 数，0 表示使用 CPU 核数
	DebugDir string `json:"debug_dir"` // 调试图像输出目录，空则不输出
}

// DefaultSolverConfig 默认求解器配置
func DefaultSolverConfig() *SolverConfig {
	return &SolverConfig{
		GridCells:  24,
		PairTarget: 12,

		DetectThreshold: 0.45,
		NMSOverlap:      0.25,
		ScaleMin:        0.3,
		ScaleMax:        1.5,
		ScaleStep:       0.06,
		MinTemplatePx:   10,
		QuickScanStride: 5,
		QuickScanCap:    20,
		WideScanStride:  2,

		BackMatchThreshold: 0.6,
		StableMinCells:     22,
		StableMinRun:       3,

		MinDeviation:  8,
		MinBrightness: 10,
		MaxBrightness: 170,

		PairSize:       64,
		PairThreshold:  0.4,
		LabelSize:      128,
		LabelThreshold: 0.5,

		MaxSeconds: 8,
		MaxFrames:  600,

		Workers:  0,
		DebugDir: "",
	}
}

// Validate 校验配置合法性
func (c *SolverConfig) Validate() error {
	if c.GridCells <= 0 {
		return fmt.Errorf("grid_cells 必须为正数: %d", c.GridCells)
	}
	if c.PairTarget*2 > c.GridCells {
		return fmt.Errorf("pair_target(%d) 超出槽位数(%d)允许的配对数", c.PairTarget, c.GridCells)
	}
	if c.ScaleMin <= 0 || c.ScaleMax < c.ScaleMin {
		return fmt.Errorf("缩放范围非法: [%.2f, %.2f]", c.ScaleMin, c.ScaleMax)
	}
	if c.ScaleStep <= 0 {
		return fmt.Errorf("scale_step 必须为正数: %.3f", c.ScaleStep)
	}
	if c.StableMinRun < 1 {
		return fmt.Errorf("stable_min_run 必须不小于 1: %d", c.StableMinRun)
	}
	if c.MinBrightness >= c.MaxBrightness {
		return fmt.Errorf("亮度区间非法: [%.1f, %.1f]", c.MinBrightness, c.MaxBrightness)
	}
	if c.PairSize <= 0 || c.LabelSize <= 0 {
		return fmt.Errorf("预处理尺寸必须为正数: pair=%d label=%d", c.PairSize, c.LabelSize)
	}
	return nil
}

// Manager 配置管理器
type Manager struct {
	configDir  string
	configFile string
	mu         sync.RWMutex
}

// NewManager 创建配置管理器
func NewManager() *Manager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	configDir := filepath.Join(homeDir, ".cardsolver")
	return &Manager{
		configDir:  configDir,
		configFile: filepath.Join(configDir, "config.json"),
	}
}

// NewManagerWithDir 使用指定目录创建配置管理器
func NewManagerWithDir(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configFile: filepath.Join(configDir, "config.json"),
	}
}

// ensureDir 确保配置目录存在
func (m *Manager) ensureDir() error {
	return os.MkdirAll(m.configDir, 0755)
}

// Load 加载配置，文件不存在时返回默认配置
func (m *Manager) Load() (*SolverConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return DefaultSolverConfig(), nil
	}

	data, err := os.ReadFile(m.configFile)
	if err != nil {
		return DefaultSolverConfig(), fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := DefaultSolverConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return DefaultSolverConfig(), fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return DefaultSolverConfig(), fmt.Errorf("配置校验失败: %w", err)
	}

	return config, nil
}

// Save 保存配置
func (m *Manager) Save(config *SolverConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := config.Validate(); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	if err := m.ensureDir(); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(m.configFile, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// Clear 清除配置
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return nil
	}

	return os.Remove(m.configFile)
}

// GetConfigDir 获取配置目录
func (m *Manager) GetConfigDir() string {
	return m.configDir
}

// GetConfigFile 获取配置文件路径
func (m *Manager) GetConfigFile() string {
	return m.configFile
}

// Exists 检查配置文件是否存在
func (m *Manager) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := os.Stat(m.configFile)
	return err == nil
}

// 全局配置管理器
var defaultManager = NewManager()

// GetDefaultManager 获取默认配置管理器
func GetDefaultManager() *Manager {
	return defaultManager
}

// Load 使用默认管理器加载配置
func Load() (*SolverConfig, error) {
	return defaultManager.Load()
}

// Save 使用默认管理器保存配置
func Save(config *SolverConfig) error {
	return defaultManager.Save(config)
}

// Clear 使用默认管理器清除配置
func Clear() error {
	return defaultManager.Clear()
}
