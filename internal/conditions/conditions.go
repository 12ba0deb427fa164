// Package conditions maps raw sky, rain, wind and light measurements to the
// categorical labels shown on the observatory dashboard.
package conditions

import "math"

// Condition is a categorical sky/weather label.
type Condition string

const (
	Unknown Condition = "Unknown"

	Clear      Condition = "Clear"
	Cloudy     Condition = "Cloudy"
	VeryCloudy Condition = "VeryCloudy"

	Calm      Condition = "Calm"
	Windy     Condition = "Windy"
	VeryWindy Condition = "VeryWindy"

	Dry  Condition = "Dry"
	Wet  Condition = "Wet"
	Rain Condition = "Rain"

	Dark      Condition = "Dark"
	Light     Condition = "Light"
	VeryLight Condition = "VeryLight"
)

// Ptr returns a pointer to c, for building partial readings.
func (c Condition) Ptr() *Condition {
	return &c
}

// CloudFromTemps classifies cloud cover from the sky-minus-ambient
// temperature delta. A radiatively cold sky (large negative delta) is clear.
func CloudFromTemps(skyTemp, ambientTemp float64) Condition {
	delta := skyTemp - ambientTemp
	switch {
	case delta < -25:
		return Clear
	case delta < -15:
		return Cloudy
	default:
		return VeryCloudy
	}
}

// WindFromSpeed classifies a wind speed in km/h. A nil speed is Unknown.
func WindFromSpeed(speed *float64) Condition {
	if speed == nil {
		return Unknown
	}
	switch {
	case *speed < 10:
		return Calm
	case *speed < 30:
		return Windy
	default:
		return VeryWindy
	}
}

// RainFromSensor classifies a rain-sensor reading. Higher values mean a
// drier surface.
func RainFromSensor(sensor int) Condition {
	switch {
	case sensor > 2500:
		return Dry
	case sensor > 1500:
		return Wet
	default:
		return Rain
	}
}

// DayFromLight classifies a raw light-sensor reading.
func DayFromLight(light int) Condition {
	switch {
	case light < 10:
		return Dark
	case light < 1000:
		return Light
	default:
		return VeryLight
	}
}

// DayFromMPSAS classifies sky brightness in magnitudes per square arcsecond.
// The scale is inverted: larger values are darker.
func DayFromMPSAS(mpsas float64) Condition {
	switch {
	case mpsas > 18:
		return Dark
	case mpsas > 10:
		return Light
	default:
		return VeryLight
	}
}

// The *FromSafe helpers translate a device's own safe/unsafe verdict. When a
// device reports one it takes precedence over the computed classification.

func CloudFromSafe(safe bool) Condition {
	if safe {
		return Clear
	}
	return Cloudy
}

func RainFromSafe(safe bool) Condition {
	if safe {
		return Dry
	}
	return Rain
}

func DayFromSafe(safe bool) Condition {
	if safe {
		return Dark
	}
	return Light
}

func WindFromSafe(safe bool) Condition {
	if safe {
		return Calm
	}
	return Windy
}

// FahrenheitToCelsius converts °F to °C.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// MphToKmh converts miles per hour to kilometres per hour.
func MphToKmh(mph float64) float64 {
	return mph * 1.60934
}

// InHgToHPa converts inches of mercury to hectopascals.
func InHgToHPa(inches float64) float64 {
	return inches * 33.8639
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
