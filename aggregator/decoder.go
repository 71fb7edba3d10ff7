package aggregator

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Minimum payload lengths per format. Shorter payloads are rejected outright,
// never partially decoded.
const (
	minLenRAWv2    = 24
	minLenAir      = 20
	minLenExtended = 40
)

// Decode parses a manufacturer-specific payload into a Reading. The leading
// byte selects the wire format. The boolean result is false when the format
// identifier is unknown or the payload is too short; rejection is a routine
// filtering outcome, not an error. The capture timestamp is assigned here.
func Decode(payload []byte) (*Reading, bool) {
	if len(payload) < 1 {
		return nil, false
	}

	switch Format(payload[0]) {
	case FormatRAWv2:
		return decodeRAWv2(payload)
	case FormatAir:
		return decodeAir(payload)
	case FormatExtended:
		return decodeExtended(payload)
	}

	return nil, false
}

// decodeAir decodes Data Format 6 (compact air quality, 20 bytes).
func decodeAir(data []byte) (*Reading, bool) {
	if len(data) < minLenAir || Format(data[0]) != FormatAir {
		return nil, false
	}

	flags := data[16]

	r := &Reading{
		Format:                FormatAir,
		Timestamp:             time.Now().UTC(),
		Temperature:           scaledS16(s16(data, 1), 0.005),
		Humidity:              scaledU16(u16(data, 3), 0.0025),
		Pressure:              pressureHPa(u16(data, 5)),
		PM25:                  scaledU16(u16(data, 7), 0.1),
		CO2:                   scaledU16(u16(data, 9), 1),
		VOC:                   index9(data[11], flags, 6),
		NOX:                   index9(data[12], flags, 7),
		Luminosity:            logLuminosity(data[13]),
		CalibrationInProgress: flags&0x01 != 0,
		DeviceMAC:             optionalMAC(data[17:20]),
		SampleCount:           1,
	}

	seq := uint32(data[15])
	r.Sequence = &seq

	return r, true
}

// decodeExtended decodes Data Format E1 (extended air quality, 40 bytes).
func decodeExtended(data []byte) (*Reading, bool) {
	if len(data) < minLenExtended || Format(data[0]) != FormatExtended {
		return nil, false
	}

	flags := data[28]

	r := &Reading{
		Format:                FormatExtended,
		Timestamp:             time.Now().UTC(),
		Temperature:           scaledS16(s16(data, 1), 0.005),
		Humidity:              scaledU16(u16(data, 3), 0.0025),
		Pressure:              pressureHPa(u16(data, 5)),
		PM1:                   scaledU16(u16(data, 7), 0.1),
		PM25:                  scaledU16(u16(data, 9), 0.1),
		PM4:                   scaledU16(u16(data, 11), 0.1),
		PM10:                  scaledU16(u16(data, 13), 0.1),
		CO2:                   scaledU16(u16(data, 15), 1),
		VOC:                   index9(data[17], flags, 6),
		NOX:                   index9(data[18], flags, 7),
		CalibrationInProgress: flags&0x01 != 0,
		DeviceMAC:             optionalMAC(data[34:40]),
		SampleCount:           1,
	}

	// Luminosity is a 24-bit linear value in 0.01 lx steps.
	if lum := u24(data, 19); lum != 0xFFFFFF {
		v := float64(lum) * 0.01
		r.Luminosity = &v
	}

	if seq := u24(data, 25); seq != 0xFFFFFF {
		r.Sequence = &seq
	}

	return r, true
}

// decodeRAWv2 decodes Data Format 5 (RAWv2 telemetry, 24 bytes).
func decodeRAWv2(data []byte) (*Reading, bool) {
	if len(data) < minLenRAWv2 || Format(data[0]) != FormatRAWv2 {
		return nil, false
	}

	r := &Reading{
		Format:        FormatRAWv2,
		Timestamp:     time.Now().UTC(),
		Temperature:   scaledS16(s16(data, 1), 1.0/200),
		Humidity:      scaledU16(u16(data, 3), 1.0/400),
		Pressure:      pressureHPa(u16(data, 5)),
		AccelerationX: scaledS16(s16(data, 7), 1.0/1000),
		AccelerationY: scaledS16(s16(data, 9), 1.0/1000),
		AccelerationZ: scaledS16(s16(data, 11), 1.0/1000),
		DeviceMAC:     macString(data[18:24]),
		SampleCount:   1,
	}

	// Power word: upper 11 bits battery voltage, lower 5 bits TX power.
	power := u16(data, 13)
	battery := float64(power>>5) + 1600
	txPower := float64(-40 + 2*int(power&0x1F))
	r.BatteryVoltage = &battery
	r.TXPower = &txPower

	movement := int(data[15])
	r.MovementCounter = &movement

	seq := uint32(u16(data, 16))
	r.Sequence = &seq

	return r, true
}

func s16(b []byte, off int) int16 {
	return int16(binary.BigEndian.Uint16(b[off:]))
}

func u16(b []byte, off int) uint16 {
	return binary.BigEndian.Uint16(b[off:])
}

func u24(b []byte, off int) uint32 {
	return uint32(b[off])<<16 | uint32(b[off+1])<<8 | uint32(b[off+2])
}

// scaledS16 maps a signed 16-bit raw value to a scaled measurement,
// translating the -32768 sentinel to "not available".
func scaledS16(raw int16, scale float64) *float64 {
	if raw == -32768 {
		return nil
	}
	v := float64(raw) * scale
	return &v
}

// scaledU16 maps an unsigned 16-bit raw value to a scaled measurement,
// translating the 0xFFFF sentinel to "not available".
func scaledU16(raw uint16, scale float64) *float64 {
	if raw == 0xFFFF {
		return nil
	}
	v := float64(raw) * scale
	return &v
}

// pressureHPa converts the wire pressure (Pa above a 50000 Pa base) to hPa.
// Every format uses the same base; the record always stores hPa.
func pressureHPa(raw uint16) *float64 {
	if raw == 0xFFFF {
		return nil
	}
	v := (float64(raw) + 50000) / 100
	return &v
}

// index9 reconstructs a 9-bit VOC/NOX index: eight bits from the value byte
// plus one low bit borrowed from the flags byte. 511 means "not available".
func index9(high byte, flags byte, bit uint) *float64 {
	raw := uint16(high)<<1 | uint16(flags>>bit)&0x01
	if raw == 511 {
		return nil
	}
	v := float64(raw)
	return &v
}

// logLuminosity decodes the Format 6 logarithmic luminosity code: 254 maps to
// the 65535 lx full scale and 255 means "not available".
func logLuminosity(code byte) *float64 {
	if code == 255 {
		return nil
	}
	delta := math.Log(65536) / 254
	v := math.Exp(float64(code)*delta) - 1
	return &v
}

// optionalMAC renders an embedded device MAC (full or trailing half),
// treating the all-0xFF sentinel as "not provided".
func optionalMAC(b []byte) string {
	sentinel := true
	for _, c := range b {
		if c != 0xFF {
			sentinel = false
			break
		}
	}
	if sentinel {
		return ""
	}
	return macString(b)
}

func macString(b []byte) string {
	s := make([]byte, 0, len(b)*3)
	for i, c := range b {
		if i > 0 {
			s = append(s, ':')
		}
		s = append(s, fmt.Sprintf("%02X", c)...)
	}
	return string(s)
}
