package solver

import (
	"encoding/json"
	"fmt"
	"os"
)

// SaveResult 将求解结果序列化到 JSON 文件（不含卡面图像）
func SaveResult(result *SolveResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化求解结果失败: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入求解结果失败: %w", err)
	}
	return nil
}

// LoadResult 从 JSON 文件读取求解结果
func LoadResult(path string) (*SolveResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取求解结果失败: %w", err)
	}

	var result SolveResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析求解结果失败: %w", err)
	}
	return &result, nil
}
