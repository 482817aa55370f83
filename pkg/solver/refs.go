package solver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// LoadReferenceSet 从目录加载标注模式的参考模板集
// 目录下每个 png/jpg 文件是一种卡牌类型，文件名（去扩展名）作为标签名
func LoadReferenceSet(dir string) ([]Reference, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, newInputError(fmt.Sprintf("无法读取参考模板目录 %s", dir), err)
	}

	var refs []Reference
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			continue
		}

		mat, err := cv.ReadImage(filepath.Join(dir, entry.Name()))
		if err != nil {
			for _, r := range refs {
				r.Mat.Close()
			}
			return nil, newInputError(fmt.Sprintf("参考模板 %s 不可读", entry.Name()), err)
		}

		refs = append(refs, Reference{
			Name: strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Mat:  mat,
		})
	}

	if len(refs) == 0 {
		return nil, newInputError(fmt.Sprintf("参考模板目录 %s 为空", dir), nil)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// BuildReferenceSet 从配对结果生成参考模板集
// 取每对中的第一个槽位的卡面，缩放到 size×size 后写入 dir，
// 文件名为 card_<序号>.png，可直接用于后续的标注模式
func BuildReferenceSet(result *SolveResult, size int, dir string) error {
	if len(result.Pairs) == 0 {
		return fmt.Errorf("结果中没有配对，无法生成参考模板")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建参考模板目录失败: %w", err)
	}

	for i, pair := range result.Pairs {
		face, ok := result.Faces[pair.CellA]
		if !ok {
			continue
		}

		resized := cv.ResizeImage(face, size, size)
		path := filepath.Join(dir, fmt.Sprintf("card_%d.png", i+1))
		err := cv.WriteImage(path, resized)
		resized.Close()
		if err != nil {
			return fmt.Errorf("写入参考模板 %s 失败: %w", path, err)
		}
	}

	return nil
}
