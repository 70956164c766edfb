package astm

import (
	"bytes"
	"fmt"
)

// Framing control bytes
const (
	STX = '\x02' // start of text
	ETX = '\x03' // end of text
	ETB = '\x17' // end of intermediate frame
	CR  = '\x0D' // carriage return
	LF  = '\x0A' // line feed
)

// Frame wraps text in the low-level envelope used for serial and LAN
// transmission: STX, text, ETX, two uppercase hex checksum digits, CR LF.
func Frame(text string) []byte {
	b := make([]byte, 0, len(text)+6)
	b = append(b, STX)
	b = append(b, text...)
	b = append(b, ETX)

	cs := Checksum(b[1:])
	b = append(b, cs[0], cs[1], CR, LF)

	return b
}

// Checksum returns the modulo-256 sum of b as two uppercase hex digits. Pass
// every byte after STX up to and including the terminating ETX or ETB.
func Checksum(b []byte) string {
	var sum uint8
	for _, c := range b {
		sum += c
	}
	return fmt.Sprintf("%02X", sum)
}

// Unframe strips the envelope added by Frame and verifies the checksum. The
// trailing CR LF is optional. The envelope is located from the end of data, so
// the text itself may contain STX or ETX bytes.
func Unframe(data []byte) (string, error) {
	if len(data) == 0 || data[0] != STX {
		return "", &ParseError{Kind: MalformedFrame, Detail: "frame does not start with STX"}
	}

	switch {
	case bytes.HasSuffix(data, []byte("\r\n")):
		data = data[:len(data)-2]
	case bytes.HasSuffix(data, []byte("\r")), bytes.HasSuffix(data, []byte("\n")):
		data = data[:len(data)-1]
	}

	n := len(data)
	if n < 4 {
		return "", &ParseError{Kind: MalformedFrame, Detail: "frame truncated"}
	}
	if data[n-3] != ETX {
		return "", &ParseError{Kind: MalformedFrame, Detail: "frame does not end with ETX and checksum"}
	}

	got := string(data[n-2:])
	want := Checksum(data[1 : n-2])
	if got != want {
		return "", &ChecksumMismatchError{Want: want, Got: got}
	}

	return string(data[1 : n-3]), nil
}
