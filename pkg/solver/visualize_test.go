package solver

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestVisualize(t *testing.T) {
	contents, back := allBackContents(t)
	defer back.Close()
	frame := composeFrame(t, contents)
	defer frame.Close()

	pairs := []Pair{
		{CellA: 0, CellB: 5, Score: 0.95},
		{CellA: 1, CellB: 7, Score: 0.91},
	}

	img := Visualize(frame, gridCells(), pairs)
	defer img.Close()

	if img.Empty() {
		t.Fatal("可视化结果为空")
	}
	if img.Cols() != frame.Cols() || img.Rows() != frame.Rows() {
		t.Errorf("可视化图尺寸应与原帧一致: %dx%d vs %dx%d",
			img.Cols(), img.Rows(), frame.Cols(), frame.Rows())
	}
}

func TestVisualizeDeterministic(t *testing.T) {
	contents, back := allBackContents(t)
	defer back.Close()
	frame := composeFrame(t, contents)
	defer frame.Close()

	pairs := []Pair{{CellA: 2, CellB: 9, Score: 0.9}}

	a := Visualize(frame, gridCells(), pairs)
	defer a.Close()
	b := Visualize(frame, gridCells(), pairs)
	defer b.Close()

	// 固定随机种子，两次出图应完全一致
	diffA, _ := a.DataPtrUint8()
	diffB, _ := b.DataPtrUint8()
	if len(diffA) != len(diffB) {
		t.Fatal("两次出图大小不一致")
	}
	for i := range diffA {
		if diffA[i] != diffB[i] {
			t.Fatal("两次出图内容不一致")
		}
	}
}

func TestVisualizeConcurrent(t *testing.T) {
	contents, back := allBackContents(t)
	defer back.Close()
	frame := composeFrame(t, contents)
	defer frame.Close()

	pairs := []Pair{{CellA: 0, CellB: 5, Score: 0.95}}

	// 字体惰性加载在并发出图下必须安全（配合 -race 检查）
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			img := Visualize(frame, gridCells(), pairs)
			defer img.Close()
			if img.Empty() {
				t.Error("并发可视化结果为空")
			}
		}()
	}
	wg.Wait()
}

func TestWriteSolution(t *testing.T) {
	contents, back := allBackContents(t)
	defer back.Close()
	frame := composeFrame(t, contents)
	defer frame.Close()

	path := filepath.Join(t.TempDir(), "solution.png")
	pairs := []Pair{{CellA: 0, CellB: 1, Score: 0.88}}

	if err := WriteSolution(frame, gridCells(), pairs, path); err != nil {
		t.Fatalf("保存结果图失败: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("结果图未生成: %v", err)
	}
	if info.Size() == 0 {
		t.Error("结果图为空文件")
	}
	t.Logf("结果图 %d 字节", info.Size())
}
