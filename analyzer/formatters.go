package analyzer

import (
	"fmt"
	"strconv"
	"time"
)

// FormatSeconds 将浮点秒数转换为人类可读的字符串。
// 注意：仅用于展示，CSV 中使用 FormatFloat 保留完整精度。
func FormatSeconds(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	if d >= time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d >= time.Millisecond {
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	}
	if d >= time.Microsecond {
		return fmt.Sprintf("%.2fus", float64(d)/float64(time.Microsecond))
	}
	return fmt.Sprintf("%dns", d.Nanoseconds())
}

// FormatFloat 用能精确解析回 v 的最少位数输出 v。
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
