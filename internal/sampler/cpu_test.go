package sampler

import (
	"bytes"
	"errors"
	"io"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRuntime replaces the runtime/pprof hooks for the duration of a test.
func stubRuntime(t *testing.T, start func(io.Writer) error, stop func()) *[]int {
	t.Helper()

	var rates []int
	origStart, origStop, origRate := startCPUProfile, stopCPUProfile, setCPURate
	startCPUProfile = start
	stopCPUProfile = stop
	setCPURate = func(hz int) { rates = append(rates, hz) }
	t.Cleanup(func() {
		startCPUProfile, stopCPUProfile, setCPURate = origStart, origStop, origRate
	})
	return &rates
}

func encodedProfile(t *testing.T) []byte {
	t.Helper()

	fn := &profile.Function{ID: 1, Name: "main.work"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		Sample:     []*profile.Sample{{Location: []*profile.Location{loc}, Value: []int64{7}}},
		Location:   []*profile.Location{loc},
		Function:   []*profile.Function{fn},
	}
	var buf bytes.Buffer
	require.NoError(t, p.Write(&buf))
	return buf.Bytes()
}

func TestCPU_StartFinalize(t *testing.T) {
	data := encodedProfile(t)
	var w io.Writer
	stopped := false
	rates := stubRuntime(t,
		func(out io.Writer) error { w = out; return nil },
		func() { stopped = true; _, _ = w.Write(data) },
	)

	s := NewCPU()
	capture, err := s.Start(0)
	require.NoError(t, err)
	assert.Empty(t, *rates, "default rate must not touch the runtime rate")

	report, err := capture.Finalize()
	require.NoError(t, err)
	assert.True(t, stopped)
	require.Len(t, report.Sample, 1)
	assert.Equal(t, int64(7), report.Sample[0].Value[0])
	assert.Positive(t, report.DurationNanos)
}

func TestCPU_CustomRate(t *testing.T) {
	rates := stubRuntime(t, func(io.Writer) error { return nil }, func() {})

	s := NewCPU()
	_, err := s.Start(250)
	require.NoError(t, err)
	assert.Equal(t, []int{250}, *rates)
}

func TestCPU_StartFailureKeepsHostRate(t *testing.T) {
	rates := stubRuntime(t, func(io.Writer) error { return errors.New("cpu profiling already in use") }, func() {})

	s := NewCPU()
	for i := 0; i < 3; i++ {
		_, err := s.Start(50)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already in use")
	}
	assert.NotContains(t, *rates, 0, "a failed start must not turn off the running profile")
	assert.Equal(t, []int{50, 50, 50}, *rates)

	// A failed start leaves the sampler usable.
	startCPUProfile = func(io.Writer) error { return nil }
	_, err := s.Start(0)
	assert.NoError(t, err)
}

func TestCPU_SingleCapture(t *testing.T) {
	stubRuntime(t, func(io.Writer) error { return nil }, func() {})

	s := NewCPU()
	capture, err := s.Start(0)
	require.NoError(t, err)

	_, err = s.Start(0)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	_, err = capture.Finalize()
	assert.ErrorIs(t, err, ErrEmptyProfile)

	_, err = capture.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)

	_, err = s.Start(0)
	assert.NoError(t, err, "finalize releases the sampler even on error")
}

func TestParseCapture_Garbage(t *testing.T) {
	_, err := parseCapture(bytes.NewReader([]byte("not a profile")), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse cpu profile")
}

func TestCPU_RealRuntime(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping runtime profiling test in short mode")
	}

	s := NewCPU()
	capture, err := s.Start(0)
	require.NoError(t, err)

	spin(200 * time.Millisecond)

	report, err := capture.Finalize()
	require.NoError(t, err)
	require.NotEmpty(t, report.SampleType)
	assert.Equal(t, "cpu", report.PeriodType.Type)
}

func spin(d time.Duration) {
	deadline := time.Now().Add(d)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	_ = x
}

func TestCPU_HostProfileSurvivesFailedStart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping runtime profiling test in short mode")
	}

	var host bytes.Buffer
	require.NoError(t, pprof.StartCPUProfile(&host))
	stopped := false
	defer func() {
		if !stopped {
			pprof.StopCPUProfile()
		}
	}()

	_, err := NewCPU().Start(250)
	require.Error(t, err)

	spin(700 * time.Millisecond)
	pprof.StopCPUProfile()
	stopped = true

	p, err := profile.Parse(&host)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Sample, "the host profile keeps collecting samples")
}
