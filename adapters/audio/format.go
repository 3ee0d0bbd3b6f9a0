package audio

import (
	"bytes"
	"strings"
)

// Format is a container or codec tag understood by the transcoder
type Format string

const (
	FormatWebM Format = "webm"
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOGG  Format = "ogg"
	FormatPCM  Format = "pcm"
)

// extensionOrder is the order in which filename hints are checked
var extensionOrder = []Format{FormatWebM, FormatWAV, FormatMP3, FormatOGG, FormatPCM}

var (
	ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}
	riffMagic = []byte("RIFF")
	id3Magic  = []byte("ID3")
	oggMagic  = []byte("OggS")
	mp3Sync   = []byte{0xff, 0xfb}
)

// SniffFormat classifies audio by the extension found in source, then by magic bytes.
// It never fails: unknown input is assumed to be webm, the recorder's capture format.
func SniffFormat(source string, head []byte) Format {
	lower := strings.ToLower(source)
	for _, f := range extensionOrder {
		if strings.Contains(lower, "."+string(f)) {
			return f
		}
	}

	if len(head) >= 4 {
		switch {
		case bytes.HasPrefix(head, ebmlMagic):
			return FormatWebM
		case bytes.HasPrefix(head, riffMagic):
			return FormatWAV
		case bytes.HasPrefix(head, mp3Sync), bytes.HasPrefix(head, id3Magic):
			return FormatMP3
		case bytes.HasPrefix(head, oggMagic):
			return FormatOGG
		}
	}

	return FormatWebM
}
