package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigVersion is a "vMAJOR[.MINOR]" config schema version. Files with the
// same major version as the binary are accepted as long as they are not newer.
type ConfigVersion struct {
	Major int
	Minor int
}

// ParseVersion accepts "v1", "1", "v1.2" and "1.2"
func ParseVersion(s string) (ConfigVersion, error) {
	major, minor, hasMinor := strings.Cut(strings.TrimPrefix(s, "v"), ".")

	var v ConfigVersion
	var err error
	if v.Major, err = strconv.Atoi(major); err != nil || v.Major < 0 {
		return ConfigVersion{}, fmt.Errorf("version %q: major component must be a non-negative integer", s)
	}
	if hasMinor {
		if v.Minor, err = strconv.Atoi(minor); err != nil || v.Minor < 0 {
			return ConfigVersion{}, fmt.Errorf("version %q: minor component must be a non-negative integer", s)
		}
	}
	return v, nil
}

func (v ConfigVersion) String() string {
	if v.Minor == 0 {
		return "v" + strconv.Itoa(v.Major)
	}
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// IsCompatible reports whether both versions share a major version
func (v ConfigVersion) IsCompatible(other ConfigVersion) bool {
	return v.Major == other.Major
}

// IsNewerThan orders versions by major, then minor
func (v ConfigVersion) IsNewerThan(other ConfigVersion) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor > other.Minor
}

// GetCurrentVersion returns the version this binary writes and understands
func GetCurrentVersion() ConfigVersion {
	v, _ := ParseVersion(CurrentConfigVersion)
	return v
}

// ValidateVersion rejects a missing, malformed, foreign-major or too-new version
func ValidateVersion(config *Config) error {
	if config.Version == "" {
		return fmt.Errorf("configuration version is missing")
	}
	got, err := ParseVersion(config.Version)
	if err != nil {
		return err
	}

	current := GetCurrentVersion()
	switch {
	case !current.IsCompatible(got):
		return fmt.Errorf("config version %s is not compatible with %s", got, current)
	case got.IsNewerThan(current):
		return fmt.Errorf("config version %s is newer than supported version %s", got, current)
	}
	return nil
}
