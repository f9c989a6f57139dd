package analyzer

import (
	"fmt"
	"strings"
	"time"
)

// --- 分析器原始输出 ---

// FuncKey 按 cProfile 的方式标识一个函数: 定义文件、起始行号、函数名。
// 内置函数的 File 为 "~"，Line 为 0。
type FuncKey struct {
	File string
	Line int
	Name string
}

// String 按 cProfile 的打印方式输出: "file:line(name)"，内置函数为 "{name}"。
func (k FuncKey) String() string {
	if k.File == "~" && k.Line == 0 {
		if strings.HasPrefix(k.Name, "<") && strings.HasSuffix(k.Name, ">") {
			return "{" + k.Name[1:len(k.Name)-1] + "}"
		}
		return k.Name
	}
	return fmt.Sprintf("%s:%d(%s)", k.File, k.Line, k.Name)
}

// RawStat 是单个函数的原始统计数据 (秒为单位的浮点数，不做任何舍入)。
type RawStat struct {
	PrimitiveCalls int64   // 非递归引起的调用次数
	Calls          int64   // 全部调用次数
	TotTime        float64 // 函数自身耗时
	CumTime        float64 // 包含被调用函数的耗时
}

// RawReport 是 runner 交出的一次分析结果，按函数标识索引。
// Stats 的遍历顺序没有意义。
type RawReport struct {
	Stats       map[FuncKey]RawStat
	WallSeconds float64
}

// --- 展平后的记录 ---

// CallStatRecord 代表 CSV 中的一行。
type CallStatRecord struct {
	Function       string  `json:"function"`
	Calls          int64   `json:"ncalls"`
	TotTime        float64 `json:"tottime"`
	CumTime        float64 `json:"cumtime"`
	PerCall        float64 `json:"percall"` // 每次原始调用的累计时间
	PrimitiveCalls int64   `json:"primitiveCalls"`
	TotTimePerCall float64 `json:"tottimePercall"`
	File           string  `json:"filename"`
	Line           int     `json:"lineno"`
	Name           string  `json:"funcname"`
}

// Totals 对应 cProfile 在表格上方打印的
// "N function calls (M primitive calls) in S seconds" 一行。
type Totals struct {
	FunctionCalls  int64   `json:"functionCalls"`
	PrimitiveCalls int64   `json:"primitiveCalls"`
	Seconds        float64 `json:"seconds"`
	WallSeconds    float64 `json:"wallSeconds"`
}

// ProfileReport 是一个脚本的有序记录集。写出之前 CapturedAt 为零值。
type ProfileReport struct {
	Source     string           `json:"source"`
	Records    []CallStatRecord `json:"records"`
	Totals     Totals           `json:"totals"`
	CapturedAt time.Time        `json:"capturedAt"`
}

// --- JSON 输出结构体定义 ---

// ErrorResult 用于在 JSON 格式中返回错误信息
type ErrorResult struct {
	Error string `json:"error"`
	TopN  int    `json:"topN,omitempty"`
}

// FunctionSummary 代表摘要中的单个函数 (JSON)
type FunctionSummary struct {
	Function         string  `json:"function"`
	Calls            int64   `json:"ncalls"`
	TotTime          float64 `json:"tottime"`
	CumTime          float64 `json:"cumtime"`
	CumTimeFormatted string  `json:"cumtimeFormatted"`
	Percentage       float64 `json:"percentage"` // 占总自身耗时的百分比
}

// SummaryResult 代表一个 profile 报告的整体摘要 (JSON)
type SummaryResult struct {
	Source                string            `json:"source"`
	TotalFunctions        int               `json:"totalFunctions"`
	TotalCalls            int64             `json:"totalCalls"`
	TotalPrimitiveCalls   int64             `json:"totalPrimitiveCalls"`
	TotalSeconds          float64           `json:"totalSeconds"`
	TotalSecondsFormatted string            `json:"totalSecondsFormatted"`
	TopN                  int               `json:"topN"`
	Functions             []FunctionSummary `json:"functions"`
}
