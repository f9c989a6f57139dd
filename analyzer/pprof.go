package analyzer

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/pprof/profile"
)

// ToPprof 生成的 profile 中各样本值的下标。
const (
	CallsIndex = iota
	PrimitiveCallsIndex
	TotTimeIndex
	CumTimeIndex
)

// ToPprof 把报告转换为 pprof profile：每个函数一个单帧样本，
// 因此 `go tool pprof -top` 列出的行与 CSV 相同。
func ToPprof(report *ProfileReport) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "calls", Unit: "count"},
			{Type: "primitive_calls", Unit: "count"},
			{Type: "tottime", Unit: "nanoseconds"},
			{Type: "cumtime", Unit: "nanoseconds"},
		},
		DefaultSampleType: "cumtime",
		DurationNanos:     secondsToNanos(report.Totals.WallSeconds),
		Comments:          []string{"source: " + report.Source},
	}
	if !report.CapturedAt.IsZero() {
		p.TimeNanos = report.CapturedAt.UnixNano()
	}

	for i, r := range report.Records {
		id := uint64(i + 1)
		fn := &profile.Function{
			ID:         id,
			Name:       r.Function,
			SystemName: r.Name,
			Filename:   r.File,
			StartLine:  int64(r.Line),
		}
		loc := &profile.Location{
			ID:   id,
			Line: []profile.Line{{Function: fn, Line: int64(r.Line)}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value: []int64{
				r.Calls,
				r.PrimitiveCalls,
				secondsToNanos(r.TotTime),
				secondsToNanos(r.CumTime),
			},
		})
	}
	return p
}

// WritePprof 把报告序列化为 gzip 压缩的 profile.proto。
func WritePprof(w io.Writer, report *ProfileReport) error {
	p := ToPprof(report)
	if err := p.CheckValid(); err != nil {
		return fmt.Errorf("invalid pprof profile for %s: %w", report.Source, err)
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("failed to write pprof profile for %s: %w", report.Source, err)
	}
	return nil
}

func secondsToNanos(s float64) int64 {
	return int64(math.Round(s * float64(time.Second)))
}
