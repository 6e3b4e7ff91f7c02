package telephony

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityURI(t *testing.T) {
	id := Identity{Domain: "example.com", Username: "alice", Password: "x"}
	assert.Equal(t, "sip:alice@example.com", id.URI())
}

func TestIdentityValidate(t *testing.T) {
	valid := Identity{Domain: "example.com", Username: "alice"}
	assert.NoError(t, valid.Validate())

	cases := []Identity{
		{Domain: "", Username: "alice"},
		{Domain: "example.com", Username: ""},
		{Domain: "bad domain", Username: "alice"},
		{Domain: "example.com", Username: "ali@ce"},
	}
	for _, id := range cases {
		assert.Error(t, id.Validate(), "identity %+v", id)
	}
}
