package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteVenueErrorsSortedByVenue(t *testing.T) {
	errs := map[string]string{
		"kraken":   "timeout",
		"binance":  "http 451",
		"coinbase": "no prices",
		"bitstamp": "breaker open",
	}
	want := "VENUE     ERROR\n" +
		"binance   http 451\n" +
		"bitstamp  breaker open\n" +
		"coinbase  no prices\n" +
		"kraken    timeout\n"
	for i := 0; i < 5; i++ {
		var buf bytes.Buffer
		writeVenueErrors(&buf, errs)
		assert.Equal(t, want, buf.String())
	}
}

func TestWriteVenueErrorsEmpty(t *testing.T) {
	var buf bytes.Buffer
	writeVenueErrors(&buf, nil)
	assert.Empty(t, buf.String())
}
