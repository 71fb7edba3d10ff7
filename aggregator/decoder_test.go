package aggregator

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i16bits(v int16) uint16 {
	return uint16(v)
}

func format6Payload() []byte {
	p := make([]byte, 20)
	p[0] = byte(FormatAir)
	binary.BigEndian.PutUint16(p[1:], uint16(int16(2000))) // 10.0 °C
	binary.BigEndian.PutUint16(p[3:], 0xFFFF)              // humidity absent
	binary.BigEndian.PutUint16(p[5:], 1000)                // 510.00 hPa
	binary.BigEndian.PutUint16(p[7:], 120)                 // 12.0 µg/m³
	binary.BigEndian.PutUint16(p[9:], 600)                 // 600 ppm
	p[11] = 100                                            // VOC high bits
	p[12] = 0xFF                                           // NOX high bits (sentinel with flag bit)
	p[13] = 254                                            // luminosity full scale
	p[15] = 5                                              // sequence
	p[16] = 0xC1                                           // calibration + VOC low bit + NOX low bit
	p[17], p[18], p[19] = 0xAA, 0xBB, 0xCC
	return p
}

func formatE1Payload() []byte {
	p := make([]byte, 40)
	p[0] = byte(FormatExtended)
	binary.BigEndian.PutUint16(p[1:], uint16(int16(2000))) // 10.0 °C
	binary.BigEndian.PutUint16(p[3:], 20000)               // 50.0 %
	binary.BigEndian.PutUint16(p[5:], 0xFFFF)              // pressure absent
	binary.BigEndian.PutUint16(p[7:], 10)                  // PM1.0 1.0
	binary.BigEndian.PutUint16(p[9:], 20)                  // PM2.5 2.0
	binary.BigEndian.PutUint16(p[11:], 30)                 // PM4.0 3.0
	binary.BigEndian.PutUint16(p[13:], 40)                 // PM10 4.0
	binary.BigEndian.PutUint16(p[15:], 450)                // CO2
	p[17] = 0                                              // VOC high bits
	p[18] = 1                                              // NOX high bits
	p[19], p[20], p[21] = 0x01, 0xE2, 0x40                 // luminosity 123456 → 1234.56 lx
	p[25], p[26], p[27] = 0x00, 0x01, 0x02                 // sequence 258
	p[28] = 0x00                                           // flags
	copy(p[34:40], []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01})
	return p
}

func format5Payload() []byte {
	p := make([]byte, 24)
	p[0] = byte(FormatRAWv2)
	binary.BigEndian.PutUint16(p[1:], uint16(int16(2000))) // 10.0 °C
	binary.BigEndian.PutUint16(p[3:], 20000)               // 50.0 %
	binary.BigEndian.PutUint16(p[5:], 48570)               // 985.70 hPa
	binary.BigEndian.PutUint16(p[7:], i16bits(-1000))      // -1.0 g
	binary.BigEndian.PutUint16(p[9:], 0)                   // 0.0 g
	binary.BigEndian.PutUint16(p[11:], 1000)               // 1.0 g
	binary.BigEndian.PutUint16(p[13:], 1377<<5|4)          // 2977 mV, -32 dBm
	p[15] = 66                                             // movement counter
	binary.BigEndian.PutUint16(p[16:], 205)                // sequence
	copy(p[18:24], []byte{0xCB, 0xB8, 0x33, 0x4C, 0x88, 0x4F})
	return p
}

func TestDecodeRejectsShortPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"format byte only", []byte{byte(FormatAir)}},
		{"format 6 truncated", format6Payload()[:19]},
		{"format E1 truncated", formatE1Payload()[:39]},
		{"format 5 truncated", format5Payload()[:23]},
		{"unknown format", []byte{0x03, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading, ok := Decode(tt.payload)
			assert.False(t, ok)
			assert.Nil(t, reading)
		})
	}
}

func TestDecodeFormat6(t *testing.T) {
	reading, ok := Decode(format6Payload())
	require.True(t, ok)

	assert.Equal(t, FormatAir, reading.Format)

	require.NotNil(t, reading.Temperature)
	assert.InDelta(t, 10.0, *reading.Temperature, 1e-9)
	assert.Nil(t, reading.Humidity)
	require.NotNil(t, reading.Pressure)
	assert.InDelta(t, 510.0, *reading.Pressure, 1e-9)
	require.NotNil(t, reading.PM25)
	assert.InDelta(t, 12.0, *reading.PM25, 1e-9)
	require.NotNil(t, reading.CO2)
	assert.InDelta(t, 600, *reading.CO2, 1e-9)

	// 9-bit VOC: high byte 100, low bit from flags bit 6.
	require.NotNil(t, reading.VOC)
	assert.InDelta(t, 201, *reading.VOC, 1e-9)
	// NOX reconstructs to 511, the absent sentinel.
	assert.Nil(t, reading.NOX)

	// Code 254 is the logarithmic full scale.
	require.NotNil(t, reading.Luminosity)
	assert.InDelta(t, 65535.0, *reading.Luminosity, 0.01)

	require.NotNil(t, reading.Sequence)
	assert.Equal(t, uint32(5), *reading.Sequence)
	assert.True(t, reading.CalibrationInProgress)
	assert.Equal(t, "AA:BB:CC", reading.DeviceMAC)
	assert.Equal(t, 1, reading.SampleCount)
	assert.False(t, reading.Timestamp.IsZero())
}

func TestDecodeFormat6LuminosityCodes(t *testing.T) {
	p := format6Payload()

	p[13] = 0
	reading, ok := Decode(p)
	require.True(t, ok)
	require.NotNil(t, reading.Luminosity)
	assert.InDelta(t, 0.0, *reading.Luminosity, 1e-9)

	p[13] = 255
	reading, ok = Decode(p)
	require.True(t, ok)
	assert.Nil(t, reading.Luminosity)

	p[13] = 128
	reading, ok = Decode(p)
	require.True(t, ok)
	require.NotNil(t, reading.Luminosity)
	expected := math.Exp(128*math.Log(65536)/254) - 1
	assert.InDelta(t, expected, *reading.Luminosity, 1e-6)
}

func TestDecodeFormat6SentinelBoundaries(t *testing.T) {
	p := format6Payload()

	// One raw unit above the temperature sentinel must decode to a value.
	binary.BigEndian.PutUint16(p[1:], i16bits(-32767))
	// One raw unit below the humidity sentinel must decode to a value.
	binary.BigEndian.PutUint16(p[3:], 0xFFFE)

	reading, ok := Decode(p)
	require.True(t, ok)

	require.NotNil(t, reading.Temperature)
	assert.InDelta(t, -163.835, *reading.Temperature, 1e-9)
	require.NotNil(t, reading.Humidity)
	assert.InDelta(t, 163.835, *reading.Humidity, 1e-9)

	// Exact sentinels must yield absent, never a numeric value.
	binary.BigEndian.PutUint16(p[1:], i16bits(-32768))
	binary.BigEndian.PutUint16(p[3:], 0xFFFF)

	reading, ok = Decode(p)
	require.True(t, ok)
	assert.Nil(t, reading.Temperature)
	assert.Nil(t, reading.Humidity)
}

func TestDecodeFormat6AbsentMAC(t *testing.T) {
	p := format6Payload()
	p[17], p[18], p[19] = 0xFF, 0xFF, 0xFF

	reading, ok := Decode(p)
	require.True(t, ok)
	assert.Equal(t, "", reading.DeviceMAC)
}

func TestDecodeFormatE1(t *testing.T) {
	reading, ok := Decode(formatE1Payload())
	require.True(t, ok)

	assert.Equal(t, FormatExtended, reading.Format)

	require.NotNil(t, reading.Temperature)
	assert.InDelta(t, 10.0, *reading.Temperature, 1e-9)
	require.NotNil(t, reading.Humidity)
	assert.InDelta(t, 50.0, *reading.Humidity, 1e-9)
	assert.Nil(t, reading.Pressure)

	require.NotNil(t, reading.PM1)
	assert.InDelta(t, 1.0, *reading.PM1, 1e-9)
	require.NotNil(t, reading.PM25)
	assert.InDelta(t, 2.0, *reading.PM25, 1e-9)
	require.NotNil(t, reading.PM4)
	assert.InDelta(t, 3.0, *reading.PM4, 1e-9)
	require.NotNil(t, reading.PM10)
	assert.InDelta(t, 4.0, *reading.PM10, 1e-9)
	require.NotNil(t, reading.CO2)
	assert.InDelta(t, 450, *reading.CO2, 1e-9)

	// VOC of zero is a valid value, not absent.
	require.NotNil(t, reading.VOC)
	assert.InDelta(t, 0, *reading.VOC, 1e-9)
	require.NotNil(t, reading.NOX)
	assert.InDelta(t, 2, *reading.NOX, 1e-9)

	// 24-bit linear luminosity in 0.01 lx steps.
	require.NotNil(t, reading.Luminosity)
	assert.InDelta(t, 1234.56, *reading.Luminosity, 1e-9)

	require.NotNil(t, reading.Sequence)
	assert.Equal(t, uint32(258), *reading.Sequence)
	assert.False(t, reading.CalibrationInProgress)
	assert.Equal(t, "DE:AD:BE:EF:00:01", reading.DeviceMAC)
}

func TestDecodeFormatE1Sentinels(t *testing.T) {
	p := formatE1Payload()
	p[19], p[20], p[21] = 0xFF, 0xFF, 0xFF // luminosity absent
	p[25], p[26], p[27] = 0xFF, 0xFF, 0xFF // sequence absent
	copy(p[34:40], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	reading, ok := Decode(p)
	require.True(t, ok)

	assert.Nil(t, reading.Luminosity)
	assert.Nil(t, reading.Sequence)
	assert.Equal(t, "", reading.DeviceMAC)
}

func TestDecodeFormat5(t *testing.T) {
	reading, ok := Decode(format5Payload())
	require.True(t, ok)

	assert.Equal(t, FormatRAWv2, reading.Format)

	require.NotNil(t, reading.Temperature)
	assert.InDelta(t, 10.0, *reading.Temperature, 1e-9)
	require.NotNil(t, reading.Humidity)
	assert.InDelta(t, 50.0, *reading.Humidity, 1e-9)
	require.NotNil(t, reading.Pressure)
	assert.InDelta(t, 985.70, *reading.Pressure, 1e-9)

	require.NotNil(t, reading.AccelerationX)
	assert.InDelta(t, -1.0, *reading.AccelerationX, 1e-9)
	require.NotNil(t, reading.AccelerationY)
	assert.InDelta(t, 0.0, *reading.AccelerationY, 1e-9)
	require.NotNil(t, reading.AccelerationZ)
	assert.InDelta(t, 1.0, *reading.AccelerationZ, 1e-9)

	require.NotNil(t, reading.BatteryVoltage)
	assert.InDelta(t, 2977, *reading.BatteryVoltage, 1e-9)
	require.NotNil(t, reading.TXPower)
	assert.InDelta(t, -32, *reading.TXPower, 1e-9)

	require.NotNil(t, reading.MovementCounter)
	assert.Equal(t, 66, *reading.MovementCounter)
	require.NotNil(t, reading.Sequence)
	assert.Equal(t, uint32(205), *reading.Sequence)
	assert.Equal(t, "CB:B8:33:4C:88:4F", reading.DeviceMAC)
}

func TestDecodeFormat5Sentinels(t *testing.T) {
	p := format5Payload()
	binary.BigEndian.PutUint16(p[1:], i16bits(-32768))
	binary.BigEndian.PutUint16(p[3:], 0xFFFF)
	binary.BigEndian.PutUint16(p[5:], 0xFFFF)
	binary.BigEndian.PutUint16(p[7:], i16bits(-32768))

	reading, ok := Decode(p)
	require.True(t, ok)

	assert.Nil(t, reading.Temperature)
	assert.Nil(t, reading.Humidity)
	assert.Nil(t, reading.Pressure)
	assert.Nil(t, reading.AccelerationX)
	require.NotNil(t, reading.AccelerationY)
}
