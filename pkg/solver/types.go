// Package solver 实现翻牌小游戏的卡牌定位、提取与配对流水线
//
// 流水线顺序:
//  1. 网格检测: 多尺度模板匹配定位 24 个卡背框
//  2. 基准同步: 寻找稳定的全卡背帧作为基准
//  3. 卡面提取: 逐格跟踪相对基准的最大偏差帧
//  4. 配对/标注: 互相关打分 + 贪心选取
package solver

import (
	"image"

	"gocv.io/x/gocv"
)

// 流水线阶段名，用于进度回调与日志
const (
	StageDetect  = "detect"
	StageSync    = "sync"
	StageExtract = "extract"
	StageMatch   = "match"
)

// 求解状态
const (
	StatusSuccess = "success" // 全部配对/标注完成
	StatusPartial = "partial" // 部分结果（网格不全、卡面缺失或配对不足）
	StatusFailed  = "failed"  // 未检测到任何卡背
)

// Frame 单帧图像
// Mat 由 FrameBuffer 持有，帧序列释放后不可再访问
type Frame struct {
	Index     int     // 帧序号
	Timestamp float64 // 时间戳（秒）
	Mat       gocv.Mat
}

// GridCell 网格中的一个卡牌槽位
type GridCell struct {
	Index  int             `json:"index"`
	Bounds image.Rectangle `json:"bounds"`
}

// ExtractedFace 某一槽位提取到的卡面
type ExtractedFace struct {
	CellIndex   int      // 槽位序号
	Patch       gocv.Mat // 彩色卡面图像
	SourceFrame int      // 来源帧序号
	Deviation   float64  // 相对基准的平均像素差
}

// PairCandidate 一对槽位的配对候选
type PairCandidate struct {
	CellA int     `json:"cell_a"`
	CellB int     `json:"cell_b"`
	Score float64 `json:"score"`
}

// Pair 已接受的配对
type Pair struct {
	CellA int     `json:"cell_a"`
	CellB int     `json:"cell_b"`
	Score float64 `json:"score"`
}

// Label 槽位的卡牌类型标注
type Label struct {
	CellIndex int     `json:"cell_index"`
	Name      string  `json:"name"`  // 参考模板名，未标注时为空
	Score     float64 `json:"score"` // 最佳模板得分
}

// Timing 各阶段耗时（毫秒）
type Timing struct {
	DetectMs  float64 `json:"detect_ms"`
	SyncMs    float64 `json:"sync_ms"`
	ExtractMs float64 `json:"extract_ms"`
	MatchMs   float64 `json:"match_ms"`
	TotalMs   float64 `json:"total_ms"`
}

// SolveResult 求解结果
// Faces 中的 Mat 归结果持有，使用完毕后调用 Close 释放
type SolveResult struct {
	Pairs          []Pair             `json:"pairs"`
	Labels         []Label            `json:"labels,omitempty"`
	Cells          []GridCell         `json:"cells"`
	CardsDetected  int                `json:"cards_detected"`
	BaselineFrame  int                `json:"baseline_frame"`
	BaselineStable bool               `json:"baseline_stable"`
	Unresolved     []int              `json:"unresolved"` // 未提取到卡面的槽位
	Status         string             `json:"status"`
	Timing         Timing             `json:"timing"`
	Faces          map[int]gocv.Mat   `json:"-"`
}

// Close 释放结果持有的卡面图像
func (r *SolveResult) Close() {
	for _, face := range r.Faces {
		face.Close()
	}
	r.Faces = nil
}

// ProgressFunc 进度回调
// 回调在流水线 goroutine 内同步调用，应快速返回，不做阻塞操作
type ProgressFunc func(stage string, current, total int)

// nopProgress 空进度回调
func nopProgress(string, int, int) {}
