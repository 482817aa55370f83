package solver

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"os"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"gocv.io/x/gocv"

	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// Visualize 在帧上绘制配对结果
// 每对卡牌用同色实心圆标记并标注序号，返回新图像，调用方负责释放
func Visualize(frame gocv.Mat, cells []GridCell, pairs []Pair) gocv.Mat {
	img := frame.Clone()

	byIndex := make(map[int]GridCell, len(cells))
	for _, cell := range cells {
		byIndex[cell.Index] = cell
	}

	// 固定种子保证同一结果出图一致
	rng := rand.New(rand.NewSource(42))
	colors := make([]color.RGBA, len(pairs))
	for i := range colors {
		colors[i] = color.RGBA{
			R: uint8(rng.Intn(256)),
			G: uint8(rng.Intn(256)),
			B: uint8(rng.Intn(256)),
			A: 255,
		}
	}

	for i, pair := range pairs {
		label := fmt.Sprintf("%d", i+1)
		for _, idx := range [2]int{pair.CellA, pair.CellB} {
			cell, ok := byIndex[idx]
			if !ok {
				continue
			}

			center := image.Point{
				X: (cell.Bounds.Min.X + cell.Bounds.Max.X) / 2,
				Y: (cell.Bounds.Min.Y + cell.Bounds.Max.Y) / 2,
			}
			radius := cell.Bounds.Dx() / 4
			if radius < 4 {
				radius = 4
			}

			gocv.Circle(&img, center, radius, colors[i], -1)

			fontScale := float64(radius) * 1.5 / 22.0
			thickness := int(fontScale * 3)
			if thickness < 1 {
				thickness = 1
			}
			size := gocv.GetTextSize(label, gocv.FontHersheySimplex, fontScale, thickness)
			org := image.Point{X: center.X - size.X/2, Y: center.Y + size.Y/2}
			gocv.PutText(&img, label, org, gocv.FontHersheySimplex, fontScale,
				color.RGBA{0, 0, 0, 255}, thickness+2)
			gocv.PutText(&img, label, org, gocv.FontHersheySimplex, fontScale,
				color.RGBA{255, 255, 255, 255}, thickness)
		}
	}

	// 左上角绘制中文结果摘要（gocv 不支持 CJK，通过 freetype 绘制）
	annotated := drawHeader(img, fmt.Sprintf("配对结果: %d 对", len(pairs)))
	if !annotated.Empty() {
		img.Close()
		return annotated
	}
	return img
}

// WriteSolution 绘制并保存配对结果图
func WriteSolution(frame gocv.Mat, cells []GridCell, pairs []Pair, path string) error {
	img := Visualize(frame, cells, pairs)
	defer img.Close()
	return cv.WriteImage(path, img)
}

// 全局中文字体，只加载一次
var (
	cjkFontOnce sync.Once
	cjkFont     *truetype.Font
)

// loadCJKFont 加载中文字体
func loadCJKFont() *truetype.Font {
	cjkFontOnce.Do(initCJKFont)
	return cjkFont
}

// initCJKFont 依次尝试各系统字体路径，全部失败时 cjkFont 保持 nil
func initCJKFont() {
	fontPaths := []string{
		// macOS
		"/System/Library/Fonts/STHeiti Medium.ttc",
		"/System/Library/Fonts/PingFang.ttc",
		"/Library/Fonts/Arial Unicode.ttf",
		// Windows
		"C:\\Windows\\Fonts\\msyh.ttc",
		"C:\\Windows\\Fonts\\simhei.ttf",
		// Linux
		"/usr/share/fonts/truetype/droid/DroidSansFallbackFull.ttf",
		"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	}

	for _, path := range fontPaths {
		fontBytes, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		f, err := truetype.Parse(fontBytes)
		if err != nil {
			continue
		}
		cjkFont = f
		return
	}
}

// drawHeader 在图像左上角绘制中文标题，字体不可用时返回空 Mat
func drawHeader(mat gocv.Mat, text string) gocv.Mat {
	f := loadCJKFont()
	if f == nil {
		return gocv.Mat{}
	}

	src, err := cv.MatToImage(mat)
	if err != nil {
		return gocv.Mat{}
	}

	bounds := src.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, src, bounds.Min, draw.Src)

	fontSize := float64(bounds.Dy()) / 24.0
	if fontSize < 14 {
		fontSize = 14
	}

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(fontSize)
	c.SetClip(rgba.Bounds())
	c.SetDst(rgba)
	c.SetSrc(image.NewUniform(color.RGBA{0, 255, 0, 255}))
	c.SetHinting(font.HintingFull)

	pt := freetype.Pt(10, 10+int(c.PointToFixed(fontSize)>>6))
	if _, err := c.DrawString(text, pt); err != nil {
		return gocv.Mat{}
	}

	out, err := cv.ImageToMat(rgba)
	if err != nil {
		return gocv.Mat{}
	}
	return out
}
