package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZephyrDeng/cprofcsv/analyzer"
)

func sampleRaw() *analyzer.RawReport {
	return &analyzer.RawReport{
		WallSeconds: 0.5,
		Stats: map[analyzer.FuncKey]analyzer.RawStat{
			{File: "a.py", Line: 1, Name: "<module>"}:                     {PrimitiveCalls: 1, Calls: 1, TotTime: 0.001, CumTime: 0.4},
			{File: "a.py", Line: 3, Name: "foo"}:                          {PrimitiveCalls: 3, Calls: 3, TotTime: 0.3, CumTime: 0.3},
			{File: "a.py", Line: 7, Name: "fact"}:                         {PrimitiveCalls: 1, Calls: 4, TotTime: 0.002, CumTime: 0.002},
			{File: "~", Line: 0, Name: "<built-in method builtins.exec>"}: {PrimitiveCalls: 1, Calls: 1, TotTime: 0.0000123456789, CumTime: 0.4},
		},
	}
}

func TestTransform_OneRowPerFunction(t *testing.T) {
	report := analyzer.Transform("a.py", sampleRaw())

	require.Len(t, report.Records, 4)
	assert.Equal(t, "a.py", report.Source)
	assert.Equal(t, int64(9), report.Totals.FunctionCalls)
	assert.Equal(t, int64(6), report.Totals.PrimitiveCalls)
	assert.InDelta(t, 0.3030123456789, report.Totals.Seconds, 1e-12)
	assert.Equal(t, 0.5, report.Totals.WallSeconds)
	assert.True(t, report.CapturedAt.IsZero())
}

func TestTransform_Ordering(t *testing.T) {
	report := analyzer.Transform("a.py", sampleRaw())

	var names []string
	for _, r := range report.Records {
		names = append(names, r.Function)
	}
	// 累计时间相同 (0.4) 时按标识符排序
	assert.Equal(t, []string{
		"a.py:1(<module>)",
		"{built-in method builtins.exec}",
		"a.py:3(foo)",
		"a.py:7(fact)",
	}, names)

	// 多次运行的结果与 map 遍历顺序无关
	for i := 0; i < 20; i++ {
		again := analyzer.Transform("a.py", sampleRaw())
		assert.Equal(t, report.Records, again.Records)
	}
}

func TestTransform_NoRounding(t *testing.T) {
	report := analyzer.Transform("a.py", sampleRaw())

	var exec analyzer.CallStatRecord
	for _, r := range report.Records {
		if r.Name == "<built-in method builtins.exec>" {
			exec = r
		}
	}
	assert.Equal(t, 0.0000123456789, exec.TotTime)
	assert.Equal(t, "~", exec.File)
	assert.Equal(t, 0, exec.Line)
}

func TestTransform_PerCall(t *testing.T) {
	report := analyzer.Transform("a.py", sampleRaw())

	for _, r := range report.Records {
		if r.Name != "fact" {
			continue
		}
		// 递归: 4 次调用，1 次原始调用
		assert.Equal(t, int64(4), r.Calls)
		assert.Equal(t, int64(1), r.PrimitiveCalls)
		assert.InDelta(t, 0.0005, r.TotTimePerCall, 1e-15)
		assert.InDelta(t, 0.002, r.PerCall, 1e-15)
	}

	zero := analyzer.Transform("z.py", &analyzer.RawReport{Stats: map[analyzer.FuncKey]analyzer.RawStat{
		{File: "z.py", Line: 1, Name: "never"}: {},
	}})
	require.Len(t, zero.Records, 1)
	assert.Zero(t, zero.Records[0].PerCall)
	assert.Zero(t, zero.Records[0].TotTimePerCall)
}

func TestTransform_Empty(t *testing.T) {
	t.Run("NilReport", func(t *testing.T) {
		report := analyzer.Transform("empty.py", nil)
		assert.Empty(t, report.Records)
		assert.Equal(t, "empty.py", report.Source)
	})
	t.Run("NoFunctions", func(t *testing.T) {
		report := analyzer.Transform("empty.py", &analyzer.RawReport{})
		assert.Empty(t, report.Records)
		assert.Zero(t, report.Totals.FunctionCalls)
	})
}

func TestFuncKeyString(t *testing.T) {
	tests := []struct {
		key  analyzer.FuncKey
		want string
	}{
		{analyzer.FuncKey{File: "/tmp/py/a.py", Line: 3, Name: "foo"}, "/tmp/py/a.py:3(foo)"},
		{analyzer.FuncKey{File: "~", Line: 0, Name: "<method 'disable' of '_lsprof.Profiler' objects>"}, "{method 'disable' of '_lsprof.Profiler' objects}"},
		{analyzer.FuncKey{File: "~", Line: 0, Name: "len"}, "len"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.key.String())
	}
}
