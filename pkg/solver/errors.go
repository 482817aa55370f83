package solver

import "fmt"

// InputError 输入不可用错误（无帧、模板无法读取等），属于致命错误
// 部分检测、基准缺失、配对不足等预期内的降级结果通过 SolveResult
// 的 Status 字段上报，不会产生 error
type InputError struct {
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("输入错误: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("输入错误: %s", e.Reason)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// newInputError 创建输入错误
func newInputError(reason string, err error) *InputError {
	return &InputError{Reason: reason, Err: err}
}
