// Package link implements the ASTM E1381 low-level protocol used by
// laboratory instruments on serial lines: session establishment with
// ENQ/ACK, numbered checksummed frames, retransmission on NAK and EOT.
package link

import (
	"fmt"
	"strings"

	"github.com/savegress/labsync/internal/astm"
)

const (
	ENQ byte = 0x05 // request to send
	ACK byte = 0x06 // frame accepted
	NAK byte = 0x15 // frame rejected
	EOT byte = 0x04 // end of transfer
	SOH byte = 0x01
)

// MaxFrameText is the largest record fragment carried by one frame.
// Longer records continue in ETB-terminated intermediate frames.
const MaxFrameText = 240

// FormatFrame returns frame number n (mod 8) carrying text. Intermediate
// frames are terminated with ETB, final frames with ETX.
func FormatFrame(n int, text string, partial bool) []byte {
	var term byte = astm.ETX
	if partial {
		term = astm.ETB
	}

	b := make([]byte, 0, len(text)+7)
	b = fmt.Appendf(b, "%c%d%s%c", astm.STX, n%8, text, term)
	cs := astm.Checksum(b[1:])
	return append(b, cs[0], cs[1], astm.CR, astm.LF)
}

// Frames splits message into the frames that carry it. Every record ends
// with CR and starts a new frame; frame numbers run 1..7, 0, 1...
func Frames(message string) [][]byte {
	var frames [][]byte
	n := 1
	for _, record := range splitRecords(message) {
		for len(record) > MaxFrameText {
			frames = append(frames, FormatFrame(n, record[:MaxFrameText], true))
			record = record[MaxFrameText:]
			n++
		}
		frames = append(frames, FormatFrame(n, record, false))
		n++
	}
	return frames
}

func splitRecords(message string) []string {
	message = strings.ReplaceAll(message, "\r\n", "\r")
	message = strings.ReplaceAll(message, "\n", "\r")

	var records []string
	for _, line := range strings.Split(message, "\r") {
		if line != "" {
			records = append(records, line+"\r")
		}
	}
	return records
}
