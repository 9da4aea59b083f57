// Package vad implements energy-based voice activity detection: ambient
// noise calibration and utterance endpointing over PCM16 frames.
//
// Detection is a plain RMS threshold. The threshold adapts to the room via
// [Calibrate], which samples the ambient noise floor at startup, but is
// clamped so a noisy calibration window can never deafen the detector.
package vad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/exovoice/exo/pkg/audio"
)

// Default calibration and threshold parameters.
const (
	// DefaultFixedThreshold is the baseline RMS voice threshold in PCM
	// sample units.
	DefaultFixedThreshold = 500.0

	// DefaultNoiseMultiplier scales the measured noise floor into a
	// threshold.
	DefaultNoiseMultiplier = 1.5

	// DefaultNoiseCeiling caps the adaptive threshold at this multiple of
	// the fixed threshold.
	DefaultNoiseCeiling = 2.0

	// DefaultCalibrationFrames is the number of frames sampled by
	// [Calibrate].
	DefaultCalibrationFrames = 20

	// maxCalibrationReadFailures bounds consecutive transient read errors
	// before calibration gives up on the source.
	maxCalibrationReadFailures = 8
)

// NoiseProfile is the result of ambient noise calibration for one room.
type NoiseProfile struct {
	// Floor is the median RMS energy observed during calibration.
	Floor float64

	// Frames is the number of frames actually sampled.
	Frames int
}

// Calibrate reads frames from src and measures the ambient noise floor as
// the median frame RMS. The room should be quiet while this runs.
//
// Transient read failures are skipped; the loop gives up only when the
// source ends, the context is cancelled, or failures persist. A short read
// returns the profile built from the frames obtained so far along with the
// error, so the caller can still derive a threshold.
func Calibrate(ctx context.Context, src audio.Source, frames int) (NoiseProfile, error) {
	if frames <= 0 {
		frames = DefaultCalibrationFrames
	}

	energies := make([]float64, 0, frames)
	failures := 0
	for len(energies) < frames {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return profileOf(energies), fmt.Errorf("vad: calibration read after %d frames: %w", len(energies), err)
			}
			failures++
			if failures >= maxCalibrationReadFailures {
				return profileOf(energies), fmt.Errorf("vad: calibration gave up after %d consecutive read failures: %w", failures, err)
			}
			slog.Debug("calibration frame read failed, skipping",
				"room", src.Room(), "error", err)
			continue
		}
		failures = 0
		energies = append(energies, frame.RMSEnergy())
	}

	p := profileOf(energies)
	slog.Debug("noise calibration complete",
		"room", src.Room(),
		"frames", p.Frames,
		"floor", p.Floor,
	)
	return p, nil
}

// profileOf builds a NoiseProfile from the collected frame energies.
func profileOf(energies []float64) NoiseProfile {
	if len(energies) == 0 {
		return NoiseProfile{}
	}
	sorted := make([]float64, len(energies))
	copy(sorted, energies)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return NoiseProfile{Floor: median, Frames: len(energies)}
}

// Threshold derives the effective voice threshold from the profile.
//
// The adaptive value floor*multiplier is clamped to [fixed*0.5, fixed*ceiling]
// so that a silent room cannot make the detector hair-triggered and a noisy
// calibration cannot push the threshold out of reach. A profile with no
// frames yields the fixed threshold unchanged.
func (p NoiseProfile) Threshold(fixed, multiplier, ceiling float64) float64 {
	if fixed <= 0 {
		fixed = DefaultFixedThreshold
	}
	if multiplier <= 0 {
		multiplier = DefaultNoiseMultiplier
	}
	if ceiling <= 0 {
		ceiling = DefaultNoiseCeiling
	}
	if p.Frames == 0 {
		return fixed
	}

	adaptive := p.Floor * multiplier
	lo := fixed * 0.5
	hi := fixed * ceiling
	if adaptive < lo {
		return lo
	}
	if adaptive > hi {
		return hi
	}
	return adaptive
}
