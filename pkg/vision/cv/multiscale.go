package cv

import (
	"context"
	"image"
	"math"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// GridSearchParams 多尺度网格搜索参数
type GridSearchParams struct {
	Threshold     float64 // 检测得分阈值
	Overlap       float64 // NMS 重叠率阈值
	ScaleMin      float64 // 最小缩放比例
	ScaleMax      float64 // 最大缩放比例
	ScaleStep     float64 // 缩放步长
	MinTemplatePx int     // 缩放后模板最小边长，低于此值的尺度跳过
	Target        int     // 目标检测数量，命中则提前结束
	Workers       int     // 并行 worker 数，0 表示 CPU 核数
}

// GridSearch 多尺度模板搜索器
// 与单点匹配不同，它在每个尺度收集全部超过阈值的检测框并做 NMS，
// 用于一次性定位同一模板的多个实例（卡背网格）
type GridSearch struct {
	template gocv.Mat // 灰度模板
	params   GridSearchParams
}

// NewGridSearch 创建多尺度网格搜索器
// template 会在内部转换为灰度图并持有副本，调用方负责释放原图
func NewGridSearch(template gocv.Mat, params GridSearchParams) *GridSearch {
	return &GridSearch{
		template: ToGray(template),
		params:   params,
	}
}

// Close 释放模板资源
func (g *GridSearch) Close() {
	g.template.Close()
}

// scaleResult 单个尺度的搜索结果
type scaleResult struct {
	scale      float64
	detections []Detection
}

// scales 展开离散尺度序列
func (g *GridSearch) scales() []float64 {
	var out []float64
	for s := g.params.ScaleMin; s <= g.params.ScaleMax+1e-9; s += g.params.ScaleStep {
		out = append(out, s)
	}
	return out
}

// SearchFrame 在单帧灰度图中搜索全部卡背实例
// 返回 NMS 后的检测集与是否精确命中目标数量
// 各尺度独立搜索并行执行，结果按固定规则归并，与串行扫描结果一致
func (g *GridSearch) SearchFrame(ctx context.Context, frameGray gocv.Mat) ([]Detection, bool) {
	scales := g.scales()

	workers := g.params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(scales) {
		workers = len(scales)
	}
	if workers < 1 {
		workers = 1
	}

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan float64)
	results := make(chan scaleResult, len(scales))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for scale := range jobs {
				if searchCtx.Err() != nil {
					return
				}
				dets := g.searchScale(frameGray, scale)
				results <- scaleResult{scale: scale, detections: dets}
				// 精确命中时提前终止其余尺度
				if len(dets) == g.params.Target {
					cancel()
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, s := range scales {
			select {
			case jobs <- s:
			case <-searchCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// 命中后仍需清空 results 等全部 worker 退出，
	// 调用方在返回后可能立即释放 frameGray
	var exact []Detection
	exactScale := math.Inf(1)
	var best []Detection
	bestScale := math.Inf(1)
	for r := range results {
		if len(r.detections) == g.params.Target {
			if r.scale < exactScale {
				exact = r.detections
				exactScale = r.scale
			}
			cancel()
			continue
		}
		if betterCandidate(r.detections, r.scale, best, bestScale, g.params.Target) {
			best = r.detections
			bestScale = r.scale
		}
	}

	if exact != nil {
		return exact, true
	}
	return best, false
}

// betterCandidate 判断候选检测集是否优于当前最优
// 以与目标数量的差距为主序，同差距时取更小尺度，保证并行归并结果确定
func betterCandidate(cand []Detection, candScale float64, best []Detection, bestScale float64, target int) bool {
	if len(cand) == 0 {
		return false
	}
	if len(best) == 0 {
		return true
	}
	candGap := abs(len(cand) - target)
	bestGap := abs(len(best) - target)
	if candGap != bestGap {
		return candGap < bestGap
	}
	return candScale < bestScale
}

// searchScale 在单个尺度下搜索
func (g *GridSearch) searchScale(frameGray gocv.Mat, scale float64) []Detection {
	tw := int(math.Round(float64(g.template.Cols()) * scale))
	th := int(math.Round(float64(g.template.Rows()) * scale))

	// 过小的模板会退化为无意义匹配
	if tw < g.params.MinTemplatePx || th < g.params.MinTemplatePx {
		return nil
	}
	if tw > frameGray.Cols() || th > frameGray.Rows() {
		return nil
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(g.template, &scaled, image.Point{X: tw, Y: th}, 0, 0, gocv.InterpolationLinear)

	detections, err := FindMatches(frameGray, scaled, g.params.Threshold)
	if err != nil {
		return nil
	}

	return NonMaxSuppress(detections, g.params.Overlap)
}

// abs 返回绝对值
func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
