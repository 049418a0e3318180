// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/ManuGH/hlsplay/internal/health"
	"github.com/ManuGH/hlsplay/internal/player"
)

// Command names accepted by POST /api/v1/player/commands.
const (
	CommandSource     = "source"
	CommandPlay       = "play"
	CommandPause      = "pause"
	CommandSeek       = "seek"
	CommandVolume     = "volume"
	CommandToggleMute = "toggle_mute"
	CommandRestart    = "restart"
	CommandRetry      = "retry"
)

// CommandRequest is the body of a player command.
type CommandRequest struct {
	Command string   `json:"command"`
	Value   *float64 `json:"value,omitempty"` // seek position or volume
	URL     *string  `json:"url,omitempty"`   // source
}

// checkPlayer reports a terminal playback error as unhealthy and a
// session that is retrying as degraded.
func (s *Server) checkPlayer(context.Context) health.CheckResult {
	st := s.ctl.Snapshot()
	switch {
	case st.Phase == player.PhaseError:
		res := health.CheckResult{Status: health.StatusUnhealthy, Message: "playback failed"}
		if st.Error != nil {
			res.Error = st.Error.Error()
		}
		return res
	case st.Phase == player.PhaseLoading && st.RetryCount > 0:
		return health.CheckResult{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("retrying (%d)", st.RetryCount),
		}
	default:
		return health.CheckResult{Status: health.StatusHealthy, Message: string(st.Phase)}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Diagnostics())
}

// handleCommand applies one command and answers with the resulting state.
// Commands that are no-ops in the current phase still succeed.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCommandBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, msg)
		return
	}

	cmd := strings.ToLower(strings.TrimSpace(req.Command))
	if err := s.apply(cmd, req); err != nil {
		code := CodeBadRequest
		if errors.Is(err, errUnknownCommand) {
			code = CodeUnknownCommand
		}
		writeError(w, r, http.StatusBadRequest, code, err.Error())
		return
	}

	s.logger.Debug().
		Str("event", "api.command").
		Str("command", cmd).
		Msg("player command applied")
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

var errUnknownCommand = errors.New("unknown command")

func (s *Server) apply(cmd string, req CommandRequest) error {
	switch cmd {
	case CommandSource:
		if req.URL == nil {
			return fmt.Errorf("%s requires url", cmd)
		}
		s.ctl.SetSource(*req.URL)
	case CommandPlay:
		s.ctl.Play()
	case CommandPause:
		s.ctl.Pause()
	case CommandSeek:
		v, err := requireValue(cmd, req.Value)
		if err != nil {
			return err
		}
		s.ctl.Seek(v)
	case CommandVolume:
		v, err := requireValue(cmd, req.Value)
		if err != nil {
			return err
		}
		s.ctl.SetVolume(v)
	case CommandToggleMute:
		s.ctl.ToggleMute()
	case CommandRestart:
		s.ctl.Restart()
	case CommandRetry:
		s.ctl.Retry()
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd)
	}
	return nil
}

func requireValue(cmd string, v *float64) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%s requires value", cmd)
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, fmt.Errorf("%s value must be finite", cmd)
	}
	return *v, nil
}
