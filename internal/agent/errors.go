package agent

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies the stage a cycle failed in.
type Kind int

const (
	// KindUnknown is reported for errors that carry no stage.
	KindUnknown Kind = iota
	KindAuth
	KindSessionCreate
	KindMalformedSession
	KindSamplingStart
	KindReportBuild
	KindSerialization
	KindCompression
	KindMissingSessionIdentity
	KindUpload
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindAuth:                   "auth",
	KindSessionCreate:          "session_create",
	KindMalformedSession:       "malformed_session",
	KindSamplingStart:          "sampling_start",
	KindReportBuild:            "report_build",
	KindSerialization:          "serialization",
	KindCompression:            "compression",
	KindMissingSessionIdentity: "missing_session_identity",
	KindUpload:                 "upload",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Local reports whether the kind points at a local defect rather than a
// remote or environmental condition.
func (k Kind) Local() bool {
	switch k {
	case KindReportBuild, KindSerialization, KindCompression:
		return true
	default:
		return false
	}
}

// Cycle stages.
const (
	StageCreate = "create"
	StageSample = "sample"
	StageUpload = "upload"
)

// StageError wraps a cycle failure with the stage and kind it failed in.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, kind Kind, err error) error {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// KindOf extracts the kind of err. Errors without a StageError in their
// chain are KindUnknown.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// StageOf extracts the stage of err, or "unknown".
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "unknown"
}

// AuthError marks a failure to obtain credentials for a remote call.
// SessionClient implementations return it so the loop can report KindAuth.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("failed to get auth token: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// retryDelayer is implemented by errors carrying a server-requested delay.
type retryDelayer interface {
	RetryDelay() (time.Duration, bool)
}

// retryDelayOf returns the server-requested delay in err's chain, if any.
func retryDelayOf(err error) (time.Duration, bool) {
	var rd retryDelayer
	if errors.As(err, &rd) {
		return rd.RetryDelay()
	}
	return 0, false
}

// remoteKind picks KindAuth for credential failures and fallback otherwise.
func remoteKind(err error, fallback Kind) Kind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return KindAuth
	}
	return fallback
}

var (
	// ErrMissingDuration is reported when a session carries no duration.
	ErrMissingDuration = errors.New("profile session is missing a duration")

	// ErrMissingName is reported when a session has no identity for upload.
	ErrMissingName = errors.New("profile session is missing a name")

	// ErrNegativeDuration is reported for sessions with a negative duration.
	ErrNegativeDuration = errors.New("profile session has a negative duration")
)
