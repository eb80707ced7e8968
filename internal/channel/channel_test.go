package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermanentCloseCode(t *testing.T) {
	cases := []struct {
		code      int
		permanent bool
	}{
		{1000, false},
		{1006, false},
		{1008, true},
		{4000, true},
		{4001, true},
		{4500, true},
		{4999, true},
		{5000, false},
		{3000, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.permanent, permanentCloseCode(c.code), "code %d", c.code)
	}
}
