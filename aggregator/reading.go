package aggregator

import (
	"time"
)

// Format identifies the wire format of a decoded payload.
type Format byte

// Supported Ruuvi data formats.
const (
	FormatRAWv2    Format = 0x05
	FormatAir      Format = 0x06
	FormatExtended Format = 0xE1
)

func (f Format) String() string {
	switch f {
	case FormatRAWv2:
		return "RAWv2"
	case FormatAir:
		return "Air"
	case FormatExtended:
		return "Extended"
	}
	return "Unknown"
}

// Reading represents a single decoded measurement set from one advertisement.
// Optional fields are pointers: nil means the sensor reported the field's
// sentinel value ("not available"), never zero. A Reading also serves as the
// delivery record; averaged readings carry SampleCount > 1 and the wall-clock
// period the samples span.
type Reading struct {
	Format    Format
	Address   string
	DeviceMAC string
	Timestamp time.Time

	Temperature    *float64 // °C
	Humidity       *float64 // %RH
	Pressure       *float64 // hPa
	PM1            *float64 // µg/m³
	PM25           *float64 // µg/m³
	PM4            *float64 // µg/m³
	PM10           *float64 // µg/m³
	CO2            *float64 // ppm
	VOC            *float64 // index
	NOX            *float64 // index
	Luminosity     *float64 // lux
	AccelerationX  *float64 // g
	AccelerationY  *float64 // g
	AccelerationZ  *float64 // g
	BatteryVoltage *float64 // mV
	TXPower        *float64 // dBm
	RSSI           *float64 // dBm

	MovementCounter       *int
	Sequence              *uint32
	CalibrationInProgress bool

	SampleCount  int
	SamplePeriod float64 // seconds
}

// numericField binds a measurement to its accessors so the sample window can
// average every optional field without reflection.
type numericField struct {
	name string
	get  func(*Reading) *float64
	set  func(*Reading, float64)
}

var numericFields = []numericField{
	{"temperature", func(r *Reading) *float64 { return r.Temperature }, func(r *Reading, v float64) { r.Temperature = &v }},
	{"humidity", func(r *Reading) *float64 { return r.Humidity }, func(r *Reading, v float64) { r.Humidity = &v }},
	{"pressure", func(r *Reading) *float64 { return r.Pressure }, func(r *Reading, v float64) { r.Pressure = &v }},
	{"pm1_0", func(r *Reading) *float64 { return r.PM1 }, func(r *Reading, v float64) { r.PM1 = &v }},
	{"pm2_5", func(r *Reading) *float64 { return r.PM25 }, func(r *Reading, v float64) { r.PM25 = &v }},
	{"pm4_0", func(r *Reading) *float64 { return r.PM4 }, func(r *Reading, v float64) { r.PM4 = &v }},
	{"pm10_0", func(r *Reading) *float64 { return r.PM10 }, func(r *Reading, v float64) { r.PM10 = &v }},
	{"co2", func(r *Reading) *float64 { return r.CO2 }, func(r *Reading, v float64) { r.CO2 = &v }},
	{"voc", func(r *Reading) *float64 { return r.VOC }, func(r *Reading, v float64) { r.VOC = &v }},
	{"nox", func(r *Reading) *float64 { return r.NOX }, func(r *Reading, v float64) { r.NOX = &v }},
	{"luminosity", func(r *Reading) *float64 { return r.Luminosity }, func(r *Reading, v float64) { r.Luminosity = &v }},
	{"acceleration_x", func(r *Reading) *float64 { return r.AccelerationX }, func(r *Reading, v float64) { r.AccelerationX = &v }},
	{"acceleration_y", func(r *Reading) *float64 { return r.AccelerationY }, func(r *Reading, v float64) { r.AccelerationY = &v }},
	{"acceleration_z", func(r *Reading) *float64 { return r.AccelerationZ }, func(r *Reading, v float64) { r.AccelerationZ = &v }},
	{"battery_mv", func(r *Reading) *float64 { return r.BatteryVoltage }, func(r *Reading, v float64) { r.BatteryVoltage = &v }},
	{"tx_power_dbm", func(r *Reading) *float64 { return r.TXPower }, func(r *Reading, v float64) { r.TXPower = &v }},
	{"rssi_dbm", func(r *Reading) *float64 { return r.RSSI }, func(r *Reading, v float64) { r.RSSI = &v }},
}
