package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validEntry() DiscoveryEntry {
	return DiscoveryEntry{
		ServiceName: "_ship._tcp",
		Host:        "192.168.1.20",
		Port:        4712,
		SKI:         "abcd1234",
		Register:    "true",
	}
}

func TestDiscoveryEntry_Valid(t *testing.T) {
	assert.True(t, validEntry().Valid())
}

func TestDiscoveryEntry_Valid_MissingMandatoryField(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*DiscoveryEntry)
	}{
		{"empty service name", func(e *DiscoveryEntry) { e.ServiceName = "" }},
		{"empty host", func(e *DiscoveryEntry) { e.Host = "" }},
		{"zero port", func(e *DiscoveryEntry) { e.Port = 0 }},
		{"empty ski", func(e *DiscoveryEntry) { e.SKI = "" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := validEntry()
			c.mutate(&e)
			assert.False(t, e.Valid(), "expected entry to be invalid: %+v", e)
		})
	}
}

func TestDiscoveryEntry_Valid_RegisterFlagMustBeWellFormed(t *testing.T) {
	e := validEntry()
	e.Register = "maybe"
	assert.False(t, e.Valid(), "expected a non-boolean register flag to be invalid")

	e.Register = "false"
	assert.True(t, e.Valid(), "expected \"false\" to be a well-formed register flag")
}
