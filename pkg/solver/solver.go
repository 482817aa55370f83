package solver

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/zoeyai/cardsolver/internal/logger"
	"github.com/zoeyai/cardsolver/pkg/config"
	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// Solver 翻牌求解器，串联检测、同步、提取、配对四个阶段
type Solver struct {
	cfg      *config.SolverConfig
	log      *logger.Logger
	template gocv.Mat    // 卡背模板（彩色）
	refs     []Reference // 标注模式参考模板集，为空时走配对模式
	progress ProgressFunc
}

// Option 求解器可选配置
type Option func(*Solver)

// WithProgress 设置进度回调
func WithProgress(fn ProgressFunc) Option {
	return func(s *Solver) {
		s.progress = fn
	}
}

// WithReferences 设置参考模板集，启用标注模式
func WithReferences(refs []Reference) Option {
	return func(s *Solver) {
		s.refs = refs
	}
}

// WithLogger 设置日志记录器
func WithLogger(log *logger.Logger) Option {
	return func(s *Solver) {
		s.log = log
	}
}

// New 创建求解器
// templatePath 为卡背模板图像路径，读取失败返回 InputError
func New(templatePath string, cfg *config.SolverConfig, opts ...Option) (*Solver, error) {
	if cfg == nil {
		cfg = config.DefaultSolverConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, newInputError("配置非法", err)
	}

	template, err := cv.ReadImage(templatePath)
	if err != nil {
		return nil, newInputError("卡背模板不可用", err)
	}
	if template.Cols() < cfg.MinTemplatePx || template.Rows() < cfg.MinTemplatePx {
		template.Close()
		return nil, newInputError(fmt.Sprintf("卡背模板过小: %dx%d", template.Cols(), template.Rows()), nil)
	}

	return NewWithTemplate(template, cfg, opts...), nil
}

// NewWithTemplate 使用已加载的卡背模板创建求解器，模板所有权转移给求解器
func NewWithTemplate(template gocv.Mat, cfg *config.SolverConfig, opts ...Option) *Solver {
	if cfg == nil {
		cfg = config.DefaultSolverConfig()
	}

	s := &Solver{
		cfg:      cfg,
		log:      logger.Default(),
		template: template,
		progress: nopProgress,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close 释放求解器资源
func (s *Solver) Close() {
	s.template.Close()
	for _, ref := range s.refs {
		ref.Mat.Close()
	}
	s.refs = nil
}

// SolveVideo 解码视频并求解
func (s *Solver) SolveVideo(ctx context.Context, videoPath string) (*SolveResult, error) {
	buf, err := LoadVideo(videoPath, s.cfg)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	return s.Solve(ctx, buf)
}

// Solve 对帧序列求解
// 预期内的降级情形（网格不全、无稳定基准、卡面缺失、配对不足）
// 全部通过 SolveResult.Status 上报；仅输入不可用与取消返回 error
func (s *Solver) Solve(ctx context.Context, buf *FrameBuffer) (*SolveResult, error) {
	frames := buf.Frames()
	if len(frames) == 0 {
		return nil, newInputError("帧序列为空", nil)
	}

	result := &SolveResult{Status: StatusSuccess}
	start := time.Now()

	// 1. 网格检测
	detectStart := time.Now()
	detector := NewGridDetector(s.template, s.cfg, s.log)
	cells, exact, err := detector.DetectCells(ctx, frames, s.progress)
	detector.Close()
	if err != nil {
		return nil, err
	}
	result.Timing.DetectMs = msSince(detectStart)
	result.Cells = cells
	result.CardsDetected = len(cells)
	s.log.LogStage(StageDetect, exact, result.Timing.DetectMs,
		fmt.Sprintf("找到 %d/%d 个卡背", len(cells), s.cfg.GridCells))

	if len(cells) == 0 {
		// 一个卡背都没找到，后续阶段无事可做
		result.Status = StatusFailed
		result.Timing.TotalMs = msSince(start)
		return result, nil
	}
	if !exact {
		result.Status = StatusPartial
	}
	s.dumpGrid(frames[0].Mat, cells)

	// 2. 基准帧同步
	syncStart := time.Now()
	syncer := NewBaselineSynchronizer(s.template, s.cfg, s.log)
	baselineIdx, scanStart, stable, err := syncer.SelectBaseline(ctx, frames, cells, s.progress)
	syncer.Close()
	if err != nil {
		return nil, err
	}
	result.Timing.SyncMs = msSince(syncStart)
	result.BaselineFrame = frames[baselineIdx].Index
	result.BaselineStable = stable
	s.log.LogStage(StageSync, stable, result.Timing.SyncMs,
		fmt.Sprintf("基准帧 %d (稳定=%v)", frames[baselineIdx].Index, stable))
	if !stable {
		result.Status = StatusPartial
	}

	baselines := CellBaselines(frames[baselineIdx], cells)
	defer closeMats(baselines)
	s.dumpBaselines(baselines, cells)

	// 3. 卡面提取
	extractStart := time.Now()
	extractor := NewFaceExtractor(s.cfg, s.log)
	faces, err := extractor.ExtractFaces(ctx, frames[scanStart:], cells, baselines, s.progress)
	if err != nil {
		return nil, err
	}
	result.Timing.ExtractMs = msSince(extractStart)
	result.Faces = make(map[int]gocv.Mat, len(faces))
	for idx, face := range faces {
		result.Faces[idx] = face.Patch
	}
	for _, cell := range cells {
		if _, ok := faces[cell.Index]; !ok {
			result.Unresolved = append(result.Unresolved, cell.Index)
		}
	}
	s.log.LogStage(StageExtract, len(result.Unresolved) == 0, result.Timing.ExtractMs,
		fmt.Sprintf("提取 %d/%d 个卡面", len(faces), len(cells)))
	s.dumpFaces(faces)
	if len(result.Unresolved) > 0 {
		result.Status = StatusPartial
	}

	// 4. 配对 / 标注
	matchStart := time.Now()
	matcher := NewMatcher(s.cfg, s.log)
	if len(s.refs) > 0 {
		labels, err := matcher.LabelFaces(ctx, faces, s.refs, s.progress)
		if err != nil {
			result.Close()
			return nil, err
		}
		result.Labels = labels
		labeled := 0
		for _, l := range labels {
			if l.Name != "" {
				labeled++
			}
		}
		if labeled < len(cells) {
			result.Status = StatusPartial
		}
		result.Timing.MatchMs = msSince(matchStart)
		s.log.LogStage(StageMatch, labeled == len(cells), result.Timing.MatchMs,
			fmt.Sprintf("标注 %d/%d 个卡面", labeled, len(cells)))
	} else {
		pairs, _, err := matcher.FindPairs(ctx, faces, s.progress)
		if err != nil {
			result.Close()
			return nil, err
		}
		result.Pairs = pairs
		if len(pairs) < s.cfg.PairTarget {
			result.Status = StatusPartial
		}
		result.Timing.MatchMs = msSince(matchStart)
		s.log.LogStage(StageMatch, len(pairs) == s.cfg.PairTarget, result.Timing.MatchMs,
			fmt.Sprintf("配对 %d/%d 对", len(pairs), s.cfg.PairTarget))
	}

	result.Timing.TotalMs = msSince(start)
	s.log.Info("求解完成: status=%s cards=%d pairs=%d 耗时=%.1fms",
		result.Status, result.CardsDetected, len(result.Pairs), result.Timing.TotalMs)

	return result, nil
}

// msSince 计算起始时间到现在的毫秒数
func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
