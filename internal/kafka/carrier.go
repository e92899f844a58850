package kafka

import segkafka "github.com/segmentio/kafka-go"

// HeaderCarrier lets the otel propagator read and write Kafka headers.
type HeaderCarrier []segkafka.Header

func (c HeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set replaces any existing header with the same key.
func (c *HeaderCarrier) Set(key, value string) {
	out := (*c)[:0]
	for _, h := range *c {
		if h.Key != key {
			out = append(out, h)
		}
	}
	*c = append(out, segkafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		keys = append(keys, h.Key)
	}
	return keys
}
