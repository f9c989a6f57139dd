package analyzer

import (
	"sort"
)

// Transform 把原始报告展开为每个函数一条记录，按累计时间降序排列，
// 累计时间相同时按标识符排序。nil 或空报告得到零条记录。
func Transform(source string, raw *RawReport) *ProfileReport {
	report := &ProfileReport{Source: source}
	if raw == nil {
		return report
	}
	report.Totals.WallSeconds = raw.WallSeconds

	report.Records = make([]CallStatRecord, 0, len(raw.Stats))
	for key, st := range raw.Stats {
		report.Records = append(report.Records, newRecord(key, st))
	}
	SortRecords(report.Records)
	// 排序后再累加，保证浮点总和与 map 遍历顺序无关
	for _, r := range report.Records {
		report.Totals.FunctionCalls += r.Calls
		report.Totals.PrimitiveCalls += r.PrimitiveCalls
		report.Totals.Seconds += r.TotTime
	}
	return report
}

// SortRecords 原地排序：累计时间降序，其次按标识符。
func SortRecords(records []CallStatRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CumTime != records[j].CumTime {
			return records[i].CumTime > records[j].CumTime
		}
		return records[i].Function < records[j].Function
	})
}

func newRecord(key FuncKey, st RawStat) CallStatRecord {
	return CallStatRecord{
		Function:       key.String(),
		Calls:          st.Calls,
		TotTime:        st.TotTime,
		CumTime:        st.CumTime,
		PerCall:        perCall(st.CumTime, st.PrimitiveCalls),
		PrimitiveCalls: st.PrimitiveCalls,
		TotTimePerCall: perCall(st.TotTime, st.Calls),
		File:           key.File,
		Line:           key.Line,
		Name:           key.Name,
	}
}

// perCall 与 cProfile 一致：tottime 除以全部调用次数，cumtime 除以原始调用次数。
// 除数为 0 时返回 0。
func perCall(seconds float64, calls int64) float64 {
	if calls == 0 {
		return 0
	}
	return seconds / float64(calls)
}
