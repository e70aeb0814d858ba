package lineprotocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasicLine(t *testing.T) {
	rows, errs := Parse(`cpu,host=a,region=us usage=0.5,count=3i 1000000000`, 0, Nanosecond)
	require.Empty(t, errs)
	require.Len(t, rows, 1)

	row := rows[0]
	require.Equal(t, "cpu", row.Measurement)
	require.Equal(t, []KV{{Key: "host", Value: "a"}, {Key: "region", Value: "us"}}, row.Tags)
	require.Equal(t, []KV{{Key: "usage", Value: 0.5}, {Key: "count", Value: int64(3)}}, row.Fields)
	require.True(t, row.HasTime)
	require.EqualValues(t, 1_000_000_000, row.TimeNS)
}

func TestParseDefaultTimeAppliedWhenMissing(t *testing.T) {
	rows, errs := Parse(`cpu usage=1.0`, 42, Nanosecond)
	require.Empty(t, errs)
	require.Len(t, rows, 1)
	require.False(t, rows[0].HasTime)
	require.EqualValues(t, 42, rows[0].TimeNS)
}

func TestParseMillisecondPrecisionScalesTimestamp(t *testing.T) {
	rows, errs := Parse(`cpu usage=1.0 1000`, 0, Millisecond)
	require.Empty(t, errs)
	require.EqualValues(t, 1_000_000_000, rows[0].TimeNS)
}

func TestParseQuotedStringField(t *testing.T) {
	rows, errs := Parse(`log message="hello world, it works"`, 0, Nanosecond)
	require.Empty(t, errs)
	require.Equal(t, "hello world, it works", rows[0].Fields[0].Value)
}

func TestParseCollectsPerLineErrorsAndContinues(t *testing.T) {
	text := "cpu usage=1.0\nbad_line_no_fields\ncpu usage=2.0\n"
	rows, errs := Parse(text, 0, Nanosecond)
	require.Len(t, rows, 2)
	require.Len(t, errs, 1)
	require.Equal(t, 2, errs[0].Line)
}

func TestParseBooleanAndUintFields(t *testing.T) {
	rows, errs := Parse(`sensor active=true,reading=7u`, 0, Nanosecond)
	require.Empty(t, errs)
	require.Equal(t, true, rows[0].Fields[0].Value)
	require.Equal(t, uint64(7), rows[0].Fields[1].Value)
}
