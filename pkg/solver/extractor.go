package solver

import (
	"context"
	"runtime"
	"sync"

	"gocv.io/x/gocv"

	"github.com/zoeyai/cardsolver/internal/logger"
	"github.com/zoeyai/cardsolver/pkg/config"
	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// FaceExtractor 卡面提取器
// 对每个槽位在基准帧之后的帧里跟踪相对基准的最大偏差，
// 取偏差最大且亮度合理的一帧作为该槽位的卡面。
// "保留最强偏差"而非"首个偏差"可以容忍翻牌动画与闪光瞬态
type FaceExtractor struct {
	cfg *config.SolverConfig
	log *logger.Logger
}

// NewFaceExtractor 创建卡面提取器
func NewFaceExtractor(cfg *config.SolverConfig, log *logger.Logger) *FaceExtractor {
	return &FaceExtractor{cfg: cfg, log: log}
}

// cellBest 单个槽位的最优候选累积器
// 仅由负责该槽位的 worker 访问，无需加锁
type cellBest struct {
	deviation   float64
	patch       gocv.Mat
	sourceFrame int
	found       bool
}

// ExtractFaces 提取各槽位卡面
// frames 应为基准帧之后（含扫描起点）的帧序列，baselines 与 cells 对应。
// 按槽位划分并行任务，每个槽位独立扫描全部帧，互不共享状态。
// 始终未超过偏差阈值的槽位在结果中缺失，属于预期内情况而非错误
func (e *FaceExtractor) ExtractFaces(ctx context.Context, frames []Frame, cells []GridCell, baselines []gocv.Mat, progress ProgressFunc) (map[int]ExtractedFace, error) {
	if progress == nil {
		progress = nopProgress
	}

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(cells) {
		workers = len(cells)
	}
	if workers < 1 {
		workers = 1
	}

	best := make([]cellBest, len(cells))

	var mu sync.Mutex
	done := 0

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ci := range jobs {
				e.scanCell(ctx, frames, cells[ci], baselines[ci], &best[ci])

				mu.Lock()
				done++
				progress(StageExtract, done, len(cells))
				mu.Unlock()
			}
		}()
	}

	for ci := range cells {
		jobs <- ci
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// 取消时释放已累积的卡面
		for i := range best {
			if best[i].found {
				best[i].patch.Close()
			}
		}
		return nil, err
	}

	faces := make(map[int]ExtractedFace)
	for i := range best {
		if !best[i].found {
			continue
		}
		faces[cells[i].Index] = ExtractedFace{
			CellIndex:   cells[i].Index,
			Patch:       best[i].patch,
			SourceFrame: best[i].sourceFrame,
			Deviation:   best[i].deviation,
		}
	}

	e.log.Debug("提取到 %d/%d 个卡面", len(faces), len(cells))
	return faces, nil
}

// scanCell 单个槽位的逐帧扫描
func (e *FaceExtractor) scanCell(ctx context.Context, frames []Frame, cell GridCell, baseline gocv.Mat, acc *cellBest) {
	if baseline.Empty() {
		return
	}

	for _, frame := range frames {
		if ctx.Err() != nil {
			return
		}

		gray := cv.ToGray(frame.Mat)
		crop := cv.CropImage(gray, cell.Bounds)
		gray.Close()
		if crop.Empty() {
			continue
		}

		ref := baseline
		resized := false
		if ref.Rows() != crop.Rows() || ref.Cols() != crop.Cols() {
			ref = cv.ResizeImage(baseline, crop.Cols(), crop.Rows())
			resized = true
		}

		deviation := cv.MeanAbsDiff(crop, ref)
		brightness := crop.Mean().Val1

		crop.Close()
		if resized {
			ref.Close()
		}

		// 亮度越界说明被遮挡或处于闪光帧，不作为卡面
		if brightness <= e.cfg.MinBrightness || brightness > e.cfg.MaxBrightness {
			continue
		}
		if deviation < e.cfg.MinDeviation || deviation <= acc.deviation {
			continue
		}

		patch := cv.CropImage(frame.Mat, cell.Bounds)
		if patch.Empty() {
			continue
		}

		if acc.found {
			acc.patch.Close()
		}
		acc.deviation = deviation
		acc.patch = patch
		acc.sourceFrame = frame.Index
		acc.found = true
	}
}
