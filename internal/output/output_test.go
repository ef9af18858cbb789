package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuccess(t *testing.T) {
	tests := []struct {
		name string
		data interface{}
		want string
	}{
		{
			name: "summary",
			data: map[string]int{"series": 2},
			want: `{"success":true,"data":{"series":2},"error":null}`,
		},
		{
			name: "nil data",
			data: nil,
			want: `{"success":true,"data":null,"error":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, Success(tt.data))
		})
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		data interface{}
		want string
	}{
		{
			name: "no data",
			err:  assert.AnError,
			want: `{"success":false,"data":null,"error":"assert.AnError general error for testing"}`,
		},
		{
			name: "partial data",
			err:  assert.AnError,
			data: []string{"S1"},
			want: `{"success":false,"data":["S1"],"error":"assert.AnError general error for testing"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, Error(tt.err, tt.data))
		})
	}
}
