package link

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/labsync/internal/astm"
)

func TestFormatFrame(t *testing.T) {
	assert.Equal(t, []byte("\x021L|1|N\r\x0304\r\n"), FormatFrame(1, "L|1|N\r", false))
	assert.Equal(t, []byte("\x022O|1|A\r\x170F\r\n"), FormatFrame(2, "O|1|A\r", true))
	assert.Equal(t, FormatFrame(0, "x", false), FormatFrame(8, "x", false))
}

func TestFrames_oneRecordPerFrame(t *testing.T) {
	frames := Frames("H|\\^&\r\nP|1|X\nL|1|N")
	require.Len(t, frames, 3)

	assert.Equal(t, FormatFrame(1, "H|\\^&\r", false), frames[0])
	assert.Equal(t, FormatFrame(2, "P|1|X\r", false), frames[1])
	assert.Equal(t, FormatFrame(3, "L|1|N\r", false), frames[2])
}

func TestFrames_splitsLongRecords(t *testing.T) {
	record := "R|1|^^^LONG|" + strings.Repeat("x", 488)
	frames := Frames(record)
	require.Len(t, frames, 3)

	text := record + "\r"
	assert.Equal(t, FormatFrame(1, text[:240], true), frames[0])
	assert.Equal(t, FormatFrame(2, text[240:480], true), frames[1])
	assert.Equal(t, FormatFrame(3, text[480:], false), frames[2])

	for _, f := range frames {
		assert.LessOrEqual(t, len(f), MaxFrameText+7)
	}
}

func TestFrames_numberingWraps(t *testing.T) {
	var lines []string
	for i := 0; i < 9; i++ {
		lines = append(lines, "C|1|I|x|G")
	}
	frames := Frames(strings.Join(lines, "\r"))
	require.Len(t, frames, 9)

	want := []byte{'1', '2', '3', '4', '5', '6', '7', '0', '1'}
	for i, f := range frames {
		assert.Equal(t, byte(astm.STX), f[0])
		assert.Equal(t, want[i], f[1], "frame %d", i)
	}
}

func TestFrames_empty(t *testing.T) {
	assert.Empty(t, Frames(""))
	assert.Empty(t, Frames("\r\n\r"))
}
