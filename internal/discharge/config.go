package discharge

import (
	"fmt"
	"strings"
	"time"
)

// Profile selects the algebra and solver of a session.
type Profile string

const (
	// ProfileFast decides 64-bit unsigned bit-vectors in process.
	ProfileFast Profile = "fast"
	// ProfileThorough decides unbounded integers with an external z3.
	ProfileThorough Profile = "thorough"
)

// ParseProfile parses a profile name. The empty string selects fast.
func ParseProfile(name string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(name))) {
	case "", ProfileFast:
		return ProfileFast, nil
	case ProfileThorough:
		return ProfileThorough, nil
	}
	return "", fmt.Errorf("unknown solver profile %q (want fast or thorough)", name)
}

// DefaultTimeout is the per-check timeout used when none is configured.
func (p Profile) DefaultTimeout() time.Duration {
	if p == ProfileThorough {
		return 2000 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// DefaultPlugin names the origin of the proof notes this package writes.
const DefaultPlugin = "capsafe-verify"

// Config is the solver configuration handed in by the caller.
type Config struct {
	Profile   Profile
	TimeoutMS uint32 // 0 selects the profile default
	Z3Path    string // thorough only; "" looks up z3 on PATH
	Plugin    string
}

// Timeout returns the effective per-check timeout.
func (c Config) Timeout() time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	return c.Profile.DefaultTimeout()
}

func (c Config) plugin() string {
	if c.Plugin == "" {
		return DefaultPlugin
	}
	return c.Plugin
}
