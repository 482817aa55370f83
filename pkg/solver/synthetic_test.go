package solver

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"gocv.io/x/gocv"

	"github.com/zoeyai/cardsolver/pkg/config"
	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// 合成帧几何参数
// 模板 40x56，以序列格点尺度 0.96 缩放后为 38x54，
// 6 列 4 行共 24 格排布在 640x480 的帧内
const (
	tmplW = 40
	tmplH = 56

	cellW = 38 // round(40 * 0.96)
	cellH = 54 // round(56 * 0.96)

	gridCols = 6
	gridRows = 4

	originX = 40
	originY = 40
	strideX = cellW + 30
	strideY = cellH + 30

	frameW = 640
	frameH = 480
)

// 固定 seed 约定: 7 卡背模板, 9 帧背景, 2000+k 第 k 种卡面图案
const (
	seedBack       = 7
	seedBackground = 9
	seedFaceBase   = 2000
)

// noiseImage 生成块状噪声图案，相同 seed 结果一致
func noiseImage(seed int64, w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	const block = 3
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			v := uint8(40)
			if rng.Intn(2) == 1 {
				v = 200
			}
			c := color.RGBA{R: v, G: v, B: v, A: 255}
			for y := by; y < by+block && y < h; y++ {
				for x := bx; x < bx+block && x < w; x++ {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
	return img
}

// noiseMat 生成块状噪声的 BGR Mat
func noiseMat(t testing.TB, seed int64, w, h int) gocv.Mat {
	t.Helper()
	mat, err := cv.ImageToMat(noiseImage(seed, w, h))
	if err != nil {
		t.Fatalf("生成测试图像失败: %v", err)
	}
	return mat
}

// solidMat 生成单一灰度值的 BGR Mat
func solidMat(v float64, w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), h, w, gocv.MatTypeCV8UC3)
}

// backTemplate 卡背模板（全尺寸）
func backTemplate(t testing.TB) gocv.Mat {
	return noiseMat(t, seedBack, tmplW, tmplH)
}

// scaledBack 缩放到格位尺寸的卡背图案
func scaledBack(t testing.TB) gocv.Mat {
	t.Helper()
	full := backTemplate(t)
	defer full.Close()

	dst := gocv.NewMat()
	gocv.Resize(full, &dst, image.Point{X: cellW, Y: cellH}, 0, 0, gocv.InterpolationLinear)
	return dst
}

// facePatch 第 symbol 种卡面图案（格位尺寸）
func facePatch(t testing.TB, symbol int) gocv.Mat {
	return noiseMat(t, seedFaceBase+int64(symbol), cellW, cellH)
}

// cellRects 行优先排列的 24 个格位矩形
func cellRects() []image.Rectangle {
	rects := make([]image.Rectangle, 0, gridCols*gridRows)
	for row := 0; row < gridRows; row++ {
		for col := 0; col < gridCols; col++ {
			x := originX + col*strideX
			y := originY + row*strideY
			rects = append(rects, image.Rect(x, y, x+cellW, y+cellH))
		}
	}
	return rects
}

// gridCells 将格位矩形转换为带序号的槽位
func gridCells() []GridCell {
	rects := cellRects()
	cells := make([]GridCell, len(rects))
	for i, r := range rects {
		cells[i] = GridCell{Index: i, Bounds: r}
	}
	return cells
}

// composeFrame 合成一帧: 背景噪声 + 指定格位内容
// contents 的 key 为格位序号，nil 值表示该格留为背景
func composeFrame(t testing.TB, contents map[int]gocv.Mat) gocv.Mat {
	t.Helper()
	frame := noiseMat(t, seedBackground, frameW, frameH)

	rects := cellRects()
	for idx, patch := range contents {
		if patch.Empty() {
			continue
		}
		region := frame.Region(rects[idx])
		patch.CopyTo(&region)
		region.Close()
	}
	return frame
}

// allBackContents 24 个格位全部为卡背的内容表
// 返回的 back Mat 由调用方释放
func allBackContents(t testing.TB) (map[int]gocv.Mat, gocv.Mat) {
	t.Helper()
	back := scaledBack(t)
	contents := make(map[int]gocv.Mat, gridCols*gridRows)
	for i := 0; i < gridCols*gridRows; i++ {
		contents[i] = back
	}
	return contents, back
}

// framesToBuffer 将帧序列装入 FrameBuffer，Mat 所有权转移
func framesToBuffer(frames []gocv.Mat) *FrameBuffer {
	buf := NewFrameBuffer(len(frames) + 1)
	for i, mat := range frames {
		buf.Add(float64(i)/30.0, mat)
	}
	return buf
}

// testConfig 测试用配置，限制 worker 数以减少调度噪声
func testConfig() *config.SolverConfig {
	cfg := config.DefaultSolverConfig()
	cfg.Workers = 2
	return cfg
}

// closeFrames 释放帧 Mat 序列
func closeFrames(frames []Frame) {
	for i := range frames {
		frames[i].Mat.Close()
	}
}

// makeFrames 将 Mat 序列包装为 Frame 序列（不经过 FrameBuffer）
func makeFrames(mats []gocv.Mat) []Frame {
	frames := make([]Frame, len(mats))
	for i, m := range mats {
		frames[i] = Frame{Index: i, Timestamp: float64(i) / 30.0, Mat: m}
	}
	return frames
}
