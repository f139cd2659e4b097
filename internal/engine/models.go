// Package engine holds the boundary to the external interpolation engine:
// the model catalog and its family constraints, the GPU device registry
// interface, the process-wide refcounted GPU instance manager, and an
// Interpolator adapter that drives an out-of-process neural engine over a
// length-prefixed MsgPack pipe.
//
// Nothing in this package implements interpolation itself; it validates,
// serializes and serial-numbers the way in.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Family classifies a model directory by its interpolation pipeline.
type Family int

const (
	// FamilyV1 is the original fixed-midpoint pipeline.
	FamilyV1 Family = iota
	// FamilyV2 covers the v2.x and v3.x model lines (still fixed midpoint).
	FamilyV2
	// FamilyV4 supports an arbitrary timestep, and therefore arbitrary
	// rate ratios.
	FamilyV4
)

func (f Family) String() string {
	switch f {
	case FamilyV1:
		return "v1"
	case FamilyV2:
		return "v2"
	default:
		return "v4"
	}
}

// catalog maps model IDs to their directory names under the models root.
var catalog = []string{
	"rife",
	"rife-HD",
	"rife-UHD",
	"rife-anime",
	"rife-v2",
	"rife-v2.3",
	"rife-v2.4",
	"rife-v3.0",
	"rife-v3.1",
	"rife-v4",
}

// MaxModel is the highest valid model ID.
const MaxModel = 9

// ResolveModelPath returns the model directory for the given model ID, or
// the override verbatim when one is configured.
func ResolveModelPath(modelsRoot string, model int, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if model < 0 || model > MaxModel {
		return "", fmt.Errorf("model must be between 0 and %d (inclusive)", MaxModel)
	}
	return filepath.Join(modelsRoot, catalog[model]), nil
}

// DetectFamily classifies a model directory by its name, the same way the
// engine itself selects a pipeline.
func DetectFamily(modelPath string) (Family, error) {
	name := filepath.Base(modelPath)
	switch {
	case strings.Contains(name, "rife-v2"), strings.Contains(name, "rife-v3"):
		return FamilyV2, nil
	case strings.Contains(name, "rife-v4"):
		return FamilyV4, nil
	case strings.Contains(name, "rife"):
		return FamilyV1, nil
	default:
		return 0, fmt.Errorf("unknown model dir type")
	}
}

// CheckModelResource verifies the model's network definition is present.
// A missing resource is a configuration-time error, not a runtime one.
func CheckModelResource(modelPath string) error {
	if _, err := os.Stat(filepath.Join(modelPath, "flownet.param")); err != nil {
		return fmt.Errorf("failed to load model")
	}
	return nil
}

// CheckFamilyConstraints validates the model family against the requested
// ratio and mode flags:
//   - only the v4 family supports a ratio other than 2/1
//   - the v4 family does not support TTA mode
func CheckFamilyConstraints(f Family, multiplier, divisor int, tta bool) error {
	if f != FamilyV4 && (multiplier != 2 || divisor != 1) {
		return fmt.Errorf("only rife-v4 model supports custom multiplier")
	}
	if f == FamilyV4 && tta {
		return fmt.Errorf("rife-v4 model does not support TTA mode")
	}
	return nil
}
