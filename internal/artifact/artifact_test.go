package artifact

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() *profile.Profile {
	fn := &profile.Function{ID: 1, Name: "main.busy", SystemName: "main.busy", Filename: "main.go"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 42}}}
	return &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     10000000,
		Sample: []*profile.Sample{
			{Location: []*profile.Location{loc}, Value: []int64{3, 30000000}},
		},
		Location: []*profile.Location{loc},
		Function: []*profile.Function{fn},
	}
}

func TestPprofSerializer_Serialize(t *testing.T) {
	data, err := PprofSerializer{}.Serialize(testProfile())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	parsed, err := profile.ParseData(data)
	require.NoError(t, err)
	require.Len(t, parsed.Sample, 1)
	assert.Equal(t, []int64{3, 30000000}, parsed.Sample[0].Value)
	assert.Equal(t, "main.busy", parsed.Sample[0].Location[0].Line[0].Function.Name)
}

func TestPprofSerializer_NilReport(t *testing.T) {
	_, err := PprofSerializer{}.Serialize(nil)
	assert.ErrorIs(t, err, ErrNilReport)
}

func TestPprofSerializer_InvalidReport(t *testing.T) {
	p := testProfile()
	// Sample values must match the number of sample types.
	p.Sample[0].Value = []int64{1}

	_, err := PprofSerializer{}.Serialize(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid profile")
}

func TestGzipCompressor_Compress(t *testing.T) {
	input := bytes.Repeat([]byte("cloudprof"), 1000)

	out, err := GzipCompressor{}.Compress(input)
	require.NoError(t, err)
	assert.Less(t, len(out), len(input))

	zr, err := gzip.NewReader(bytes.NewReader(out))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, input, decoded)
}

func TestGzipCompressor_InvalidLevel(t *testing.T) {
	_, err := GzipCompressor{Level: 42}.Compress([]byte("x"))
	require.Error(t, err)
}

func TestGzipCompressor_EmptyInput(t *testing.T) {
	out, err := GzipCompressor{Level: gzip.BestSpeed}.Compress(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out, "an empty gzip stream still has a header")
}
