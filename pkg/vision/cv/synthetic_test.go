package cv

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"gocv.io/x/gocv"
)

// noiseImage 生成块状噪声图案（block 边长 3 像素，灰度值 40 或 200）
// 相同 seed 生成相同图案，不同 seed 的图案互相关接近 0
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
	mat, err := ImageToMat(noiseImage(seed, w, h))
	if err != nil {
		t.Fatalf("生成测试图像失败: %v", err)
	}
	return mat
}

// noiseMatGray 生成块状噪声的灰度 Mat
func noiseMatGray(t testing.TB, seed int64, w, h int) gocv.Mat {
	t.Helper()
	mat := noiseMat(t, seed, w, h)
	defer mat.Close()
	return ToGray(mat)
}

// pasteGray 将 patch 复制到 dst 的 (x, y) 处
func pasteGray(t testing.TB, dst gocv.Mat, patch gocv.Mat, x, y int) {
	t.Helper()
	rect := image.Rect(x, y, x+patch.Cols(), y+patch.Rows())
	region := dst.Region(rect)
	defer region.Close()
	patch.CopyTo(&region)
}
