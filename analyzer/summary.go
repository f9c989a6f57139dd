package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Summarize 渲染一个 profile 报告中按累计时间排序的前 N 个函数。
// format 为 text、markdown 或 json。
func Summarize(report *ProfileReport, topN int, format string) (string, error) {
	if report == nil {
		return "", fmt.Errorf("no profile report to summarize")
	}

	records := make([]CallStatRecord, len(report.Records))
	copy(records, report.Records)
	SortRecords(records)

	limit := topN
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}

	// 总自身时间用于计算百分比
	totalSeconds := report.Totals.Seconds
	if totalSeconds == 0 {
		for _, r := range records {
			totalSeconds += r.TotTime
		}
	}
	share := func(r CallStatRecord) float64 {
		if totalSeconds == 0 {
			return 0
		}
		return r.TotTime / totalSeconds * 100
	}

	switch format {
	case "text", "markdown":
		var b strings.Builder
		if format == "markdown" {
			b.WriteString("```text\n")
		}
		b.WriteString(fmt.Sprintf("cProfile Summary for %s (Top %d Functions by Cumulative Time)\n", report.Source, limit))
		b.WriteString(fmt.Sprintf("%d function calls (%d primitive calls) in %s\n",
			report.Totals.FunctionCalls, report.Totals.PrimitiveCalls, FormatSeconds(totalSeconds)))
		b.WriteString("--------------------------------------------------------------------------\n")
		b.WriteString(fmt.Sprintf("%-10s %-12s %-12s %-8s %s\n", "ncalls", "cumtime", "tottime", "%", "function"))
		b.WriteString("--------------------------------------------------------------------------\n")
		for _, r := range records[:limit] {
			b.WriteString(fmt.Sprintf("%-10d %-12s %-12s %-8.2f %s\n",
				r.Calls, FormatSeconds(r.CumTime), FormatSeconds(r.TotTime), share(r), r.Function))
		}
		if format == "markdown" {
			b.WriteString("```\n")
		}
		return b.String(), nil

	case "json":
		result := SummaryResult{
			Source:                report.Source,
			TotalFunctions:        len(records),
			TotalCalls:            report.Totals.FunctionCalls,
			TotalPrimitiveCalls:   report.Totals.PrimitiveCalls,
			TotalSeconds:          totalSeconds,
			TotalSecondsFormatted: FormatSeconds(totalSeconds),
			TopN:                  limit,
			Functions:             make([]FunctionSummary, 0, limit),
		}
		for _, r := range records[:limit] {
			result.Functions = append(result.Functions, FunctionSummary{
				Function:         r.Function,
				Calls:            r.Calls,
				TotTime:          r.TotTime,
				CumTime:          r.CumTime,
				CumTimeFormatted: FormatSeconds(r.CumTime),
				Percentage:       share(r),
			})
		}
		jsonBytes, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			errorResult := ErrorResult{Error: fmt.Sprintf("Failed to marshal summary to JSON: %v", err), TopN: topN}
			errJSONBytes, _ := json.Marshal(errorResult)
			return string(errJSONBytes), nil
		}
		return string(jsonBytes), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
