package analyzer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// ParsePprof 读取 WritePprof 写出的 profile 并还原为报告。
func ParsePprof(r io.Reader) (*ProfileReport, error) {
	p, err := profile.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pprof profile: %w", err)
	}
	return FromPprof(p)
}

// FromPprof 把 ToPprof 生成的 profile 转换回报告。样本按栈顶函数聚合，
// 因此其他工具合并过的 profile 也能读取；缺少 calls 或 cumtime 样本类型时返回错误。
func FromPprof(p *profile.Profile) (*ProfileReport, error) {
	// --- 1. 按名称查找样本值的索引 ---
	index := map[string]int{}
	for i, st := range p.SampleType {
		index[st.Type] = i
	}
	for _, required := range []string{"calls", "cumtime"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("pprof profile has no %q sample type", required)
		}
	}
	value := func(s *profile.Sample, name string) int64 {
		i, ok := index[name]
		if !ok || i >= len(s.Value) {
			return 0
		}
		return s.Value[i]
	}

	// --- 2. 按栈顶函数聚合 ---
	stats := make(map[FuncKey]RawStat)
	for _, s := range p.Sample {
		if len(s.Location) == 0 {
			continue
		}
		var fn *profile.Function
		for _, line := range s.Location[0].Line {
			if line.Function != nil {
				fn = line.Function
				break
			}
		}
		if fn == nil {
			continue
		}

		key := pprofKey(fn)
		st := stats[key]
		st.Calls += value(s, "calls")
		if _, ok := index["primitive_calls"]; ok {
			st.PrimitiveCalls += value(s, "primitive_calls")
		} else {
			st.PrimitiveCalls += value(s, "calls")
		}
		st.TotTime += nanosToSeconds(value(s, "tottime"))
		st.CumTime += nanosToSeconds(value(s, "cumtime"))
		stats[key] = st
	}

	// --- 3. 还原来源和采集时间 ---
	source := ""
	for _, c := range p.Comments {
		if strings.HasPrefix(c, "source: ") {
			source = strings.TrimPrefix(c, "source: ")
			break
		}
	}
	report := Transform(source, &RawReport{
		Stats:       stats,
		WallSeconds: nanosToSeconds(p.DurationNanos),
	})
	if p.TimeNanos != 0 {
		report.CapturedAt = time.Unix(0, p.TimeNanos)
	}
	return report, nil
}

// pprofKey 使用 ToPprof 写入的 SystemName/Filename/StartLine；
// 其他来源的函数只有 Name 时按内置函数处理。
func pprofKey(fn *profile.Function) FuncKey {
	if fn.SystemName != "" && fn.Filename != "" && fn.Filename != "~" {
		return FuncKey{File: fn.Filename, Line: int(fn.StartLine), Name: fn.SystemName}
	}
	name := fn.SystemName
	if name == "" || fn.Filename != "~" {
		name = fn.Name
	}
	// "{name}" 是内置函数的显示形式
	if strings.HasPrefix(name, "{") && strings.HasSuffix(name, "}") {
		name = "<" + name[1:len(name)-1] + ">"
	}
	return FuncKey{File: "~", Line: 0, Name: name}
}

func nanosToSeconds(n int64) float64 {
	return float64(n) / float64(time.Second)
}
