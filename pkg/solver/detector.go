package solver

import (
	"context"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"github.com/zoeyai/cardsolver/internal/logger"
	"github.com/zoeyai/cardsolver/pkg/config"
	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// GridDetector 卡背网格检测器
// 在帧序列中通过多尺度模板匹配定位全部卡牌槽位，
// 跨帧累积检测框并统一做 NMS，凑齐目标数量即提前结束
type GridDetector struct {
	cfg    *config.SolverConfig
	log    *logger.Logger
	search *cv.GridSearch
}

// NewGridDetector 创建网格检测器
// template 为卡背模板，内部持有灰度副本
func NewGridDetector(template gocv.Mat, cfg *config.SolverConfig, log *logger.Logger) *GridDetector {
	return &GridDetector{
		cfg: cfg,
		log: log,
		search: cv.NewGridSearch(template, cv.GridSearchParams{
			Threshold:     cfg.DetectThreshold,
			Overlap:       cfg.NMSOverlap,
			ScaleMin:      cfg.ScaleMin,
			ScaleMax:      cfg.ScaleMax,
			ScaleStep:     cfg.ScaleStep,
			MinTemplatePx: cfg.MinTemplatePx,
			Target:        cfg.GridCells,
			Workers:       cfg.Workers,
		}),
	}
}

// Close 释放检测器资源
func (d *GridDetector) Close() {
	d.search.Close()
}

// DetectCells 在帧序列中定位卡牌槽位
// 先按大间隔快速扫描有限帧数，凑不齐目标数量再以较小间隔扫描剩余帧。
// 返回按行优先顺序排列的槽位；数量不足目标时 exact 为 false，
// 由调用方决定是否以降级结果继续，检测数量不足不是错误
func (d *GridDetector) DetectCells(ctx context.Context, frames []Frame, progress ProgressFunc) (cells []GridCell, exact bool, err error) {
	if progress == nil {
		progress = nopProgress
	}

	quick := scanIndices(len(frames), d.cfg.QuickScanStride, d.cfg.QuickScanCap)
	wide := scanIndices(len(frames), d.cfg.WideScanStride, 0)

	var accumulated []cv.Detection
	var best []cv.Detection

	scanned := 0
	total := len(quick) + len(wide)

	scan := func(indices []int) (bool, error) {
		for _, idx := range indices {
			if err := ctx.Err(); err != nil {
				return false, err
			}

			gray := cv.ToGray(frames[idx].Mat)
			dets, hit := d.search.SearchFrame(ctx, gray)
			gray.Close()

			scanned++
			progress(StageDetect, scanned, total)

			if hit {
				// 单帧单尺度精确命中，卡牌位置只需找到一次
				best = dets
				return true, nil
			}

			if len(dets) > 0 {
				accumulated = append(accumulated, dets...)
				unique := cv.NonMaxSuppress(accumulated, d.cfg.NMSOverlap)
				if closerToTarget(unique, best, d.cfg.GridCells) {
					best = unique
				}
				if len(unique) == d.cfg.GridCells {
					d.log.Debug("跨帧累积凑齐 %d 个卡背 (帧 %d)", d.cfg.GridCells, frames[idx].Index)
					return true, nil
				}
			}
		}
		return false, nil
	}

	done, err := scan(quick)
	if err != nil {
		return nil, false, err
	}
	if !done {
		// 快速扫描未凑齐，放宽到剩余帧
		d.log.Debug("快速扫描仅找到 %d 个卡背，扩大扫描范围", len(best))
		if _, err := scan(wide); err != nil {
			return nil, false, err
		}
	}

	cells = toCells(best)
	return cells, len(cells) == d.cfg.GridCells, nil
}

// scanIndices 生成扫描帧序号: 每 stride 帧取一帧，cap 为最大帧数（0 不限）
func scanIndices(n, stride, cap int) []int {
	if stride < 1 {
		stride = 1
	}
	var out []int
	for i := 0; i < n; i += stride {
		out = append(out, i)
		if cap > 0 && len(out) >= cap {
			break
		}
	}
	return out
}

// closerToTarget 判断候选集是否比当前最优更接近目标数量
func closerToTarget(cand, best []cv.Detection, target int) bool {
	if len(cand) == 0 {
		return false
	}
	if len(best) == 0 {
		return true
	}
	candGap := len(cand) - target
	if candGap < 0 {
		candGap = -candGap
	}
	bestGap := len(best) - target
	if bestGap < 0 {
		bestGap = -bestGap
	}
	return candGap < bestGap
}

// toCells 将检测框转换为行优先排序的槽位
// 行高按平均框高的一半分桶，同桶内按 x 升序
func toCells(detections []cv.Detection) []GridCell {
	if len(detections) == 0 {
		return nil
	}

	sumH := 0
	for _, d := range detections {
		sumH += d.Bounds.Dy()
	}
	binSize := float64(sumH) / float64(len(detections)) * 0.5
	if binSize <= 0 {
		binSize = 1
	}

	sorted := make([]cv.Detection, len(detections))
	copy(sorted, detections)
	sort.Slice(sorted, func(i, j int) bool {
		ci, cj := sorted[i].Center(), sorted[j].Center()
		ri := int(math.Floor(float64(ci.Y) / binSize))
		rj := int(math.Floor(float64(cj.Y) / binSize))
		if ri != rj {
			return ri < rj
		}
		return ci.X < cj.X
	})

	cells := make([]GridCell, len(sorted))
	for i, d := range sorted {
		cells[i] = GridCell{Index: i, Bounds: d.Bounds}
	}
	return cells
}
