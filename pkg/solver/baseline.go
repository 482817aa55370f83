package solver

import (
	"context"

	"gocv.io/x/gocv"

	"github.com/zoeyai/cardsolver/internal/logger"
	"github.com/zoeyai/cardsolver/pkg/config"
	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// BaselineSynchronizer 基准帧同步器
// 在帧序列中寻找"全部卡牌面朝下"的稳定窗口，取窗口中点作为基准帧。
// 单帧可能是闪光或翻牌动画的瞬态，要求连续稳定才能作为基准；
// 取中点可避开窗口边缘的半翻转过渡帧
type BaselineSynchronizer struct {
	cfg      *config.SolverConfig
	log      *logger.Logger
	backGray gocv.Mat
}

// NewBaselineSynchronizer 创建基准帧同步器
func NewBaselineSynchronizer(template gocv.Mat, cfg *config.SolverConfig, log *logger.Logger) *BaselineSynchronizer {
	return &BaselineSynchronizer{
		cfg:      cfg,
		log:      log,
		backGray: cv.ToGray(template),
	}
}

// Close 释放模板资源
func (s *BaselineSynchronizer) Close() {
	s.backGray.Close()
}

// stableRun 一段连续稳定帧区间（帧数组下标）
type stableRun struct {
	start int
	end   int
}

// SelectBaseline 选择基准帧
// 返回基准帧下标、卡面扫描起始下标与是否找到稳定窗口。
// 未找到稳定窗口时回退到首帧，stable 为 false，由调用方降级上报
func (s *BaselineSynchronizer) SelectBaseline(ctx context.Context, frames []Frame, cells []GridCell, progress ProgressFunc) (baseline, scanStart int, stable bool, err error) {
	if progress == nil {
		progress = nopProgress
	}

	// 网格不全时按比例折算稳定判定所需的卡背格数
	required := s.cfg.StableMinCells
	if len(cells) < s.cfg.GridCells {
		required = len(cells) * s.cfg.StableMinCells / s.cfg.GridCells
		if required < 1 {
			required = 1
		}
	}

	var run *stableRun
	var found *stableRun

	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return 0, 0, false, err
		}

		backCount := s.countBackCells(frame.Mat, cells)
		progress(StageSync, i+1, len(frames))

		if backCount >= required {
			if run == nil {
				run = &stableRun{start: i}
			}
			run.end = i
			continue
		}

		// 稳定段结束，检查长度是否达标
		if run != nil && run.end-run.start+1 >= s.cfg.StableMinRun {
			found = run
			break
		}
		run = nil
	}

	if found == nil && run != nil && run.end-run.start+1 >= s.cfg.StableMinRun {
		// 稳定段延续到序列末尾
		found = run
	}

	if found == nil {
		s.log.Warn("未找到长度不小于 %d 的稳定卡背窗口，回退到首帧作为基准", s.cfg.StableMinRun)
		return 0, 0, false, nil
	}

	baseline = (found.start + found.end) / 2
	s.log.Info("稳定窗口 [%d, %d]，基准帧 %d", found.start, found.end, baseline)
	return baseline, found.end, true, nil
}

// countBackCells 统计一帧中呈卡背状态的槽位数
func (s *BaselineSynchronizer) countBackCells(frame gocv.Mat, cells []GridCell) int {
	gray := cv.ToGray(frame)
	defer gray.Close()

	count := 0
	for _, cell := range cells {
		crop := cv.CropImage(gray, cell.Bounds)
		if crop.Empty() {
			continue
		}
		score := cv.MatchScore(crop, s.backGray)
		crop.Close()
		if score > s.cfg.BackMatchThreshold {
			count++
		}
	}
	return count
}

// CellBaselines 从基准帧裁剪每个槽位的灰度基准图
// 返回切片与 cells 等长，调用方负责释放
func CellBaselines(frame Frame, cells []GridCell) []gocv.Mat {
	gray := cv.ToGray(frame.Mat)
	defer gray.Close()

	baselines := make([]gocv.Mat, len(cells))
	for i, cell := range cells {
		baselines[i] = cv.CropImage(gray, cell.Bounds)
	}
	return baselines
}

// closeMats 释放一组 Mat
func closeMats(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
