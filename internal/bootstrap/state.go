// SPDX-License-Identifier: AGPL-3.0-or-later
package bootstrap

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// State is the sequencer's position in the startup order.
type State int32

const (
	Uninitialized State = iota
	ConfigValidated
	SecurityRegistered
	PipelineRegistered
	Listening
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case ConfigValidated:
		return "ConfigValidated"
	case SecurityRegistered:
		return "SecurityRegistered"
	case PipelineRegistered:
		return "PipelineRegistered"
	case Listening:
		return "Listening"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stage names the startup step a StartupError came from.
type Stage string

const (
	StageConfig   Stage = "config"
	StageServer   Stage = "server"
	StageHeaders  Stage = "security_headers"
	StageLimit    Stage = "rate_limit"
	StagePrefix   Stage = "prefix"
	StageCORS     Stage = "cors"
	StagePipeline Stage = "pipeline"
	StageListen   Stage = "listen"
)

// StartupError is any failure (or panic) in a step after configuration.
// Configuration failures are returned as *config.ConfigurationError instead.
type StartupError struct {
	Stage Stage
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("bootstrap: sequencer already started")

// ErrNotListening is returned by Serve before a successful Start.
var ErrNotListening = errors.New("bootstrap: sequencer is not listening")
