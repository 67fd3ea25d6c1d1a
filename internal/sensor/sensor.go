package sensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/nerrad567/aircat-gateway/internal/device"
)

// Type is the status key a sensor reads.
type Type string

// Known sensor types.
const (
	TypePM25        Type = "value"
	TypeHCHO        Type = "hcho"
	TypeTemperature Type = "temperature"
	TypeHumidity    Type = "humidity"
)

// DefaultName is the base entity name when none is configured.
const DefaultName = "AirCat"

// ErrUnknownType is returned by Build for an unrecognised sensor type.
var ErrUnknownType = errors.New("sensor: unknown type")

// Definition describes how a sensor type is presented.
type Definition struct {
	Type Type   `json:"type"`
	Name string `json:"name"`
	Unit string `json:"unit"`
	Icon string `json:"icon"`
}

var definitions = map[Type]Definition{
	TypePM25:        {Type: TypePM25, Name: "PM2.5", Unit: "μg/m³", Icon: "mdi:blur"},
	TypeHCHO:        {Type: TypeHCHO, Name: "HCHO", Unit: "mg/m³", Icon: "mdi:biohazard"},
	TypeTemperature: {Type: TypeTemperature, Name: "Temperature", Unit: "°C", Icon: "mdi:thermometer"},
	TypeHumidity:    {Type: TypeHumidity, Name: "Humidity", Unit: "%", Icon: "mdi:water-percent"},
}

// DefaultTypes lists every type in presentation order.
var DefaultTypes = []Type{TypePM25, TypeHCHO, TypeTemperature, TypeHumidity}

// Lookup returns the definition for t.
func Lookup(t Type) (Definition, bool) {
	d, ok := definitions[t]
	return d, ok
}

// Convert applies the type's display conversion to a raw reading.
func Convert(t Type, raw float64) float64 {
	if t == TypeHCHO {
		return raw / 1000
	}
	return math.RoundToEven(raw)
}

// Value extracts and converts this type's reading from status.
func (d Definition) Value(status device.Status) (float64, bool) {
	raw, ok := status.Number(string(d.Type))
	if !ok {
		// Some firmware quotes numbers.
		str, isString := status[string(d.Type)].(string)
		if !isString {
			return 0, false
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return 0, false
		}
		raw = f
	}
	return Convert(d.Type, raw), true
}

// Types returns the distinct definitions used by sensors, in first-use order.
func Types(sensors []Sensor) []Definition {
	seen := make(map[Type]bool, len(definitions))
	var out []Definition
	for _, s := range sensors {
		if !seen[s.Type] {
			seen[s.Type] = true
			out = append(out, s.Definition)
		}
	}
	return out
}

// Source is where sensors look up device statuses. *device.Registry
// satisfies it.
type Source interface {
	Get(id string) (device.Status, bool)
	FirstOrAny() (string, device.Status, bool)
}

// Sensor is one reading of one configured device.
type Sensor struct {
	Definition
	// DeviceID is the normalised MAC, or "" to follow whichever device
	// the source returns first.
	DeviceID string
	// Entity is the display name, e.g. "AirCat2 HCHO".
	Entity string
}

// Reading is a sensor evaluated against the current source.
type Reading struct {
	Entity    string        `json:"entity"`
	Type      Type          `json:"type"`
	Unit      string        `json:"unit"`
	Icon      string        `json:"icon"`
	DeviceID  string        `json:"device_id,omitempty"`
	Available bool          `json:"available"`
	Value     *float64      `json:"value"`
	Attrs     device.Status `json:"attributes,omitempty"`
}

// Build expands the configured devices and types into sensors.
//
// The first device uses name as-is; later ones get their 1-based index
// appended ("AirCat", "AirCat2", ...). Empty types defaults to DefaultTypes.
func Build(name string, devices []string, types []string) ([]Sensor, error) {
	if name == "" {
		name = DefaultName
	}
	if len(devices) == 0 {
		devices = []string{""}
	}

	kinds := make([]Type, 0, len(types))
	for _, t := range types {
		if _, ok := Lookup(Type(t)); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
		}
		kinds = append(kinds, Type(t))
	}
	if len(kinds) == 0 {
		kinds = DefaultTypes
	}

	sensors := make([]Sensor, 0, len(devices)*len(kinds))
	for index, mac := range devices {
		base := name
		if index > 0 {
			base = name + strconv.Itoa(index+1)
		}
		id := device.NormalizeID(mac)
		for _, t := range kinds {
			def := definitions[t]
			sensors = append(sensors, Sensor{
				Definition: def,
				DeviceID:   id,
				Entity:     base + " " + def.Name,
			})
		}
	}
	return sensors, nil
}

// resolve finds the status this sensor reads.
func (s Sensor) resolve(src Source) (string, device.Status, bool) {
	if s.DeviceID != "" {
		status, ok := src.Get(s.DeviceID)
		return s.DeviceID, status, ok
	}
	return src.FirstOrAny()
}

// Read evaluates the sensor. A sensor is available once its device has
// reported; Value is nil when the status lacks a numeric field for the type.
func (s Sensor) Read(src Source) Reading {
	r := Reading{
		Entity:   s.Entity,
		Type:     s.Type,
		Unit:     s.Unit,
		Icon:     s.Icon,
		DeviceID: s.DeviceID,
	}

	id, status, ok := s.resolve(src)
	if !ok {
		return r
	}
	r.DeviceID = id
	r.Available = true

	if v, ok := s.Value(status); ok {
		r.Value = &v
	}

	if s.Type == TypePM25 {
		r.Attrs = status
	}
	return r
}

// ReadAll evaluates every sensor in order.
func ReadAll(sensors []Sensor, src Source) []Reading {
	out := make([]Reading, len(sensors))
	for i, s := range sensors {
		out[i] = s.Read(src)
	}
	return out
}

// ForDevice returns the readings of the sensors bound to id. Sensors with
// no configured device bind to whichever device the source returns first.
func ForDevice(sensors []Sensor, src Source, id string) []Reading {
	var out []Reading
	for _, s := range sensors {
		r := s.Read(src)
		if r.DeviceID == id {
			out = append(out, r)
		}
	}
	return out
}
