package aggregator

import (
	"fmt"
	"regexp"
)

// Topic represents an AMQP routing key of the form `<gateway>.<address>`,
// published by a BLE gateway once per observed advertisement.
type Topic struct {
	addressRegex *regexp.Regexp

	Value string
}

// GetDeviceAddress returns the radio-layer device address from the Topic value
func (t *Topic) GetDeviceAddress() (string, error) {
	matches := t.addressRegex.FindStringSubmatch(t.Value)

	if matches == nil {
		return "", fmt.Errorf("Topic: '%s' does not match topic regex", t.Value)
	}

	if len(matches) < 2 {
		return "", fmt.Errorf("Topic: device address not found in topic")
	}

	return matches[1], nil
}

// NewTopic constructs a new Topic
func NewTopic(value string) *Topic {
	return &Topic{
		addressRegex: regexp.MustCompile(`^\w+\.([0-9A-Fa-f:_-]+)$`),
		Value:        value,
	}
}
