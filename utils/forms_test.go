package utils

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Name  string `json:"name"  validate:"required,min=3"`
	Count int    `json:"count" validate:"gte=0"`
}

func TestDecodeAndValidateJSON(t *testing.T) {
	tcs := []struct {
		body    string
		hasErr  bool
		errPart string
	}{
		{`{"name": "general", "count": 2}`, false, ""},
		{`{"name": "general"}`, false, ""},
		{`not json`, true, "unable to parse request JSON"},
		{`{"count": 2}`, true, "required schema"},
		{`{"name": "ab"}`, true, "required schema"},
		{`{"name": "general", "count": -1}`, true, "required schema"},
	}

	for _, tc := range tcs {
		r := httptest.NewRequest("POST", "/rooms", strings.NewReader(tc.body))
		payload := &testPayload{}
		err := DecodeAndValidateJSON(payload, r)
		if tc.hasErr {
			require.Error(t, err, "expected error for body: %s", tc.body)
			assert.Contains(t, err.Error(), tc.errPart)
		} else {
			require.NoError(t, err, "unexpected error for body: %s", tc.body)
		}
	}
}

func TestReadBodyDoesNotConsume(t *testing.T) {
	r := httptest.NewRequest("POST", "/rooms", strings.NewReader(`{"name": "general"}`))

	body, err := ReadBody(r, 100000)
	require.NoError(t, err)
	assert.Equal(t, `{"name": "general"}`, string(body))

	// body can be read again after ReadBody
	payload := &testPayload{}
	require.NoError(t, DecodeAndValidateJSON(payload, r))
	assert.Equal(t, "general", payload.Name)
}
