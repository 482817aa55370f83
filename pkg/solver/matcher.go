package solver

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/zoeyai/cardsolver/internal/logger"
	"github.com/zoeyai/cardsolver/pkg/config"
	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// Matcher 卡面配对/标注器
// 两种模式共用同一原语: 对等尺寸、直方图均衡后的灰度块做归一化互相关。
// 配对模式在全部卡面两两组合中贪心选取；标注模式对照固定参考模板集打标签
type Matcher struct {
	cfg *config.SolverConfig
	log *logger.Logger
}

// NewMatcher 创建配对器
func NewMatcher(cfg *config.SolverConfig, log *logger.Logger) *Matcher {
	return &Matcher{cfg: cfg, log: log}
}

// normalizeFaces 预处理全部卡面到统一尺寸
func normalizeFaces(faces map[int]ExtractedFace, size int) (indices []int, normalized map[int]gocv.Mat) {
	indices = make([]int, 0, len(faces))
	for idx := range faces {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	normalized = make(map[int]gocv.Mat, len(faces))
	for _, idx := range indices {
		normalized[idx] = cv.Normalize(faces[idx].Patch, size)
	}
	return indices, normalized
}

// FindPairs 贪心配对
// 对全部无序槽位组合打分后按严格全序排序（得分降序，同分按槽位序号升序），
// 依次接受两端都未配对且得分超过阈值的候选，凑齐目标数或候选耗尽为止。
// 排序比较器是全序的，同一输入必然产生同一结果
func (m *Matcher) FindPairs(ctx context.Context, faces map[int]ExtractedFace, progress ProgressFunc) ([]Pair, []PairCandidate, error) {
	if progress == nil {
		progress = nopProgress
	}

	indices, normalized := normalizeFaces(faces, m.cfg.PairSize)
	defer func() {
		for _, mat := range normalized {
			mat.Close()
		}
	}()

	// 展开全部无序组合
	var combos [][2]int
	for i := 0; i < len(indices); i++ {
		for j := i + 1; j < len(indices); j++ {
			combos = append(combos, [2]int{indices[i], indices[j]})
		}
	}

	candidates := make([]PairCandidate, len(combos))
	if err := parallelFor(ctx, m.cfg.Workers, len(combos), func(k int) {
		a, b := combos[k][0], combos[k][1]
		candidates[k] = PairCandidate{
			CellA: a,
			CellB: b,
			Score: cv.MatchScore(normalized[a], normalized[b]),
		}
	}); err != nil {
		return nil, nil, err
	}
	progress(StageMatch, len(combos), len(combos))

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].CellA != candidates[j].CellA {
			return candidates[i].CellA < candidates[j].CellA
		}
		return candidates[i].CellB < candidates[j].CellB
	})

	matched := make(map[int]bool)
	var pairs []Pair
	for _, c := range candidates {
		if matched[c.CellA] || matched[c.CellB] {
			continue
		}
		if c.Score <= m.cfg.PairThreshold {
			// 候选按得分降序排列，后续不会再有合格者
			break
		}

		pairs = append(pairs, Pair{CellA: c.CellA, CellB: c.CellB, Score: c.Score})
		matched[c.CellA] = true
		matched[c.CellB] = true

		if len(pairs) == m.cfg.PairTarget {
			break
		}
	}

	if len(pairs) < m.cfg.PairTarget {
		m.log.Warn("仅配对 %d/%d 对", len(pairs), m.cfg.PairTarget)
	}

	return pairs, candidates, nil
}

// Reference 带名称的参考卡面模板
type Reference struct {
	Name string
	Mat  gocv.Mat
}

// LabelFaces 标注模式: 对每个卡面比对参考模板集，取最高得分的标签
// 最高得分不超过阈值时该槽位保持未标注（Name 为空）
func (m *Matcher) LabelFaces(ctx context.Context, faces map[int]ExtractedFace, refs []Reference, progress ProgressFunc) ([]Label, error) {
	if progress == nil {
		progress = nopProgress
	}

	indices, normalized := normalizeFaces(faces, m.cfg.LabelSize)
	defer func() {
		for _, mat := range normalized {
			mat.Close()
		}
	}()

	// 参考模板做同样的预处理
	normRefs := make([]gocv.Mat, len(refs))
	for i, ref := range refs {
		normRefs[i] = cv.Normalize(ref.Mat, m.cfg.LabelSize)
	}
	defer func() {
		for _, mat := range normRefs {
			mat.Close()
		}
	}()

	labels := make([]Label, len(indices))
	if err := parallelFor(ctx, m.cfg.Workers, len(indices), func(k int) {
		idx := indices[k]
		label := Label{CellIndex: idx}
		for i, ref := range refs {
			score := cv.MatchScore(normalized[idx], normRefs[i])
			if score > label.Score {
				label.Score = score
				if score > m.cfg.LabelThreshold {
					label.Name = ref.Name
				} else {
					label.Name = ""
				}
			}
		}
		labels[k] = label
	}); err != nil {
		return nil, err
	}
	progress(StageMatch, len(indices), len(indices))

	return labels, nil
}

// parallelFor 将 [0, n) 的独立任务分发给 worker 池执行
// fn 只写属于自己下标的结果槽位，无共享可变状态
func parallelFor(ctx context.Context, workers, n int, fn func(i int)) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				fn(i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	return ctx.Err()
}
