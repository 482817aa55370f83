package solver

import (
	"context"
	"image"
	"testing"

	"gocv.io/x/gocv"

	"github.com/zoeyai/cardsolver/internal/logger"
	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

func TestDetectCellsFullGrid(t *testing.T) {
	contents, back := allBackContents(t)
	defer back.Close()

	frame := composeFrame(t, contents)
	frames := makeFrames([]gocv.Mat{frame})
	defer closeFrames(frames)

	template := backTemplate(t)
	defer template.Close()

	detector := NewGridDetector(template, testConfig(), logger.Default())
	defer detector.Close()

	cells, exact, err := detector.DetectCells(context.Background(), frames, nil)
	if err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	if !exact {
		t.Errorf("全卡背帧应精确命中, 实际检出 %d 格", len(cells))
	}
	if len(cells) != gridCols*gridRows {
		t.Fatalf("应检出 %d 格, 实际 %d", gridCols*gridRows, len(cells))
	}

	// 行优先顺序: 第 i 格中心应落在第 i 个预期矩形附近
	const tol = 4
	expected := cellRects()
	for i, cell := range cells {
		if cell.Index != i {
			t.Errorf("第 %d 格序号应为 %d, 实际 %d", i, i, cell.Index)
		}
		wantCx := (expected[i].Min.X + expected[i].Max.X) / 2
		wantCy := (expected[i].Min.Y + expected[i].Max.Y) / 2
		gotCx := (cell.Bounds.Min.X + cell.Bounds.Max.X) / 2
		gotCy := (cell.Bounds.Min.Y + cell.Bounds.Max.Y) / 2
		if iabs(gotCx-wantCx) > tol || iabs(gotCy-wantCy) > tol {
			t.Errorf("第 %d 格中心偏移过大: 期望 (%d,%d) 实际 (%d,%d)",
				i, wantCx, wantCy, gotCx, gotCy)
		}
	}
}

func TestDetectCellsPartialGrid(t *testing.T) {
	// 仅铺 20 个卡背，其余格位留为背景
	contents, back := allBackContents(t)
	defer back.Close()
	for _, missing := range []int{3, 9, 16, 22} {
		delete(contents, missing)
	}

	frame := composeFrame(t, contents)
	frames := makeFrames([]gocv.Mat{frame})
	defer closeFrames(frames)

	template := backTemplate(t)
	defer template.Close()

	detector := NewGridDetector(template, testConfig(), logger.Default())
	defer detector.Close()

	cells, exact, err := detector.DetectCells(context.Background(), frames, nil)
	if err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	if exact {
		t.Error("缺格时不应声称精确命中")
	}
	if len(cells) != 20 {
		t.Errorf("应检出 20 格, 实际 %d", len(cells))
	}
	t.Logf("缺格网格检出 %d 格", len(cells))
}

func TestDetectCellsAccumulate(t *testing.T) {
	// 单帧均不完整，两帧并集覆盖全部格位，跨帧累积凑齐
	contentsA, back := allBackContents(t)
	defer back.Close()
	contentsB := make(map[int]gocv.Mat, len(contentsA))
	for k, v := range contentsA {
		contentsB[k] = v
	}
	for i := 0; i < 6; i++ {
		delete(contentsA, i) // 首帧缺第一行
	}
	for i := 18; i < 24; i++ {
		delete(contentsB, i) // 次帧缺最后一行
	}

	frameA := composeFrame(t, contentsA)
	frameB := composeFrame(t, contentsB)
	frames := makeFrames([]gocv.Mat{frameA, frameB})
	defer closeFrames(frames)

	template := backTemplate(t)
	defer template.Close()

	cfg := testConfig()
	cfg.QuickScanStride = 1
	detector := NewGridDetector(template, cfg, logger.Default())
	defer detector.Close()

	cells, exact, err := detector.DetectCells(context.Background(), frames, nil)
	if err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	if !exact {
		t.Errorf("跨帧累积应凑齐 %d 格, 实际 %d", cfg.GridCells, len(cells))
	}
}

func TestDetectCellsNoBacks(t *testing.T) {
	// 纯背景帧
	frame := composeFrame(t, nil)
	frames := makeFrames([]gocv.Mat{frame})
	defer closeFrames(frames)

	template := backTemplate(t)
	defer template.Close()

	detector := NewGridDetector(template, testConfig(), logger.Default())
	defer detector.Close()

	cells, exact, err := detector.DetectCells(context.Background(), frames, nil)
	if err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	if exact {
		t.Error("纯背景帧不应精确命中")
	}
	t.Logf("纯背景帧检出 %d 个候选", len(cells))
}

func TestScanIndices(t *testing.T) {
	cases := []struct {
		name   string
		n      int
		stride int
		cap    int
		want   []int
	}{
		{"间隔 5 上限 3", 20, 5, 3, []int{0, 5, 10}},
		{"无上限", 10, 3, 0, []int{0, 3, 6, 9}},
		{"间隔归一", 4, 0, 0, []int{0, 1, 2, 3}},
		{"空序列", 0, 2, 0, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := scanIndices(tc.n, tc.stride, tc.cap)
			if len(got) != len(tc.want) {
				t.Fatalf("应为 %v, 实际 %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("应为 %v, 实际 %v", tc.want, got)
					break
				}
			}
		})
	}
}

func TestToCellsRowMajor(t *testing.T) {
	// 带少量纵向抖动的 2x3 网格
	detections := []cv.Detection{
		{Bounds: rectOf(200, 12, 40, 56), Score: 0.9}, // 第 1 行第 3 个
		{Bounds: rectOf(10, 110, 40, 56), Score: 0.9}, // 第 2 行第 1 个
		{Bounds: rectOf(105, 8, 40, 56), Score: 0.9},  // 第 1 行第 2 个
		{Bounds: rectOf(10, 10, 40, 56), Score: 0.9},  // 第 1 行第 1 个
		{Bounds: rectOf(200, 114, 40, 56), Score: 0.9},
		{Bounds: rectOf(105, 112, 40, 56), Score: 0.9},
	}

	cells := toCells(detections)
	if len(cells) != 6 {
		t.Fatalf("应有 6 格, 实际 %d", len(cells))
	}

	wantX := []int{10, 105, 200, 10, 105, 200}
	for i, cell := range cells {
		if cell.Index != i {
			t.Errorf("第 %d 格序号错误: %d", i, cell.Index)
		}
		if cell.Bounds.Min.X != wantX[i] {
			t.Errorf("第 %d 格 X 应为 %d, 实际 %d", i, wantX[i], cell.Bounds.Min.X)
		}
	}
}

func rectOf(x, y, w, h int) image.Rectangle {
	return image.Rect(x, y, x+w, y+h)
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
