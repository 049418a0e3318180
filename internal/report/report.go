// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package report writes the diagnostics report of a playback run.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/hlsplay/internal/log"
	"github.com/ManuGH/hlsplay/internal/player"
	"github.com/google/renameio/v2"
)

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeError       Outcome = "error"
	OutcomeInterrupted Outcome = "interrupted"
)

// Report is the on-disk diagnostics document.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Version     string             `json:"version,omitempty"`
	Outcome     Outcome            `json:"outcome"`
	State       player.State       `json:"state"`
	Diagnostics player.Diagnostics `json:"diagnostics"`
}

// OutcomeFor derives the outcome from the final state of a run.
func OutcomeFor(st player.State, completed bool) Outcome {
	switch {
	case completed:
		return OutcomeCompleted
	case st.Phase == player.PhaseError:
		return OutcomeError
	default:
		return OutcomeInterrupted
	}
}

// Write stores r as indented JSON at path. Readers see either the previous
// report or the new one, never a partial file.
func Write(ctx context.Context, path string, r Report) error {
	logger := log.WithComponentFromContext(ctx, "report")

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending report file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending report file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write report data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace report file: %w", err)
	}

	logger.Info().
		Str("event", "report.written").
		Str(log.FieldPath, path).
		Str("outcome", string(r.Outcome)).
		Msg("diagnostics report written")
	return nil
}
