package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func TestJobBar_NilIsNoop(t *testing.T) {
	ui := NewUI(true, true)
	bar := ui.JobBar("preview")
	assert.Nil(t, bar)

	assert.NotPanics(t, func() {
		bar.Update("GENERATING_PREVIEW", 40)
		bar.Done(true)
		ui.Close()
	})
}
