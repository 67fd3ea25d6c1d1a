// Package sensor turns device statuses into named, unit-bearing readings.
//
// Each configured device (a MAC, or "" for whichever device reports first)
// is expanded into one Sensor per configured type. A Sensor reads the
// device's Status from the registry on demand; it keeps no state of its own.
//
// Types and conversions:
//
//	value        PM2.5         μg/m³  rounded to nearest integer (half to even)
//	hcho         HCHO          mg/m³  raw value divided by 1000
//	temperature  Temperature   °C     rounded
//	humidity     Humidity      %      rounded
//
// The PM2.5 sensor additionally exposes the full status as attributes.
package sensor
