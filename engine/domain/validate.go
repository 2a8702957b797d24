package domain

import "fmt"

// ValidateProfile checks a ProfileRecord before it enters the loading stage:
// coordinates in range, a non-empty monotonically non-decreasing depth
// sequence, and an identifier.
func ValidateProfile(p ProfileRecord) error {
	if p.FloatID == "" {
		return NewValidationError("float_id", "", ErrMissingFloatID)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return NewValidationError("latitude", fmt.Sprintf("%g", p.Latitude), ErrCoordinateOutOfRange)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return NewValidationError("longitude", fmt.Sprintf("%g", p.Longitude), ErrCoordinateOutOfRange)
	}
	if len(p.Levels) == 0 {
		return NewValidationError("levels", p.ID(), ErrEmptyProfile)
	}
	for i := 1; i < len(p.Levels); i++ {
		if p.Levels[i].Pressure < p.Levels[i-1].Pressure {
			return NewValidationError("levels",
				fmt.Sprintf("%s level %d: %g < %g", p.ID(), i, p.Levels[i].Pressure, p.Levels[i-1].Pressure),
				ErrDepthNotMonotonic)
		}
	}
	return nil
}
