package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicGetDeviceAddress(t *testing.T) {
	topic := NewTopic("gateway1.AA:BB:CC:DD:EE:FF")

	address, err := topic.GetDeviceAddress()
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", address)
}

func TestTopicGetDeviceAddressInvalid(t *testing.T) {
	for _, value := range []string{"gateway1", "gateway1.", ".AA:BB"} {
		_, err := NewTopic(value).GetDeviceAddress()
		assert.Error(t, err, value)
	}
}
