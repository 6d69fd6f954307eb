package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"plain words", []string{"column_list", "Sources1"}, "column_list Sources1"},
		{"spaces", []string{"select", "Sources1", "--filter", `title @ "go"`}, `select Sources1 --filter 'title @ "go"'`},
		{"quotes and backslashes", []string{"object_exist", `it's\x`}, `object_exist 'it'\''s\x'`},
		{"operators", []string{"select", "Sources1", "--filter", "id<5"}, `select Sources1 --filter 'id<5'`},
		{"empty", []string{"object_exist", ""}, "object_exist ''"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, joinCommand(tt.args))
		})
	}
}
