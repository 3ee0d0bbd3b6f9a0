package stt

import (
	"encoding/base64"
	"strings"
)

const (
	frameStatusFirst  = 0
	frameStatusMiddle = 1
	frameStatusLast   = 2

	pcmFormat   = "audio/L16;rate=16000"
	rawEncoding = "raw"
)

type frameCommon struct {
	AppID string `json:"app_id"`
}

type frameBusiness struct {
	Language string `json:"language"`
	Domain   string `json:"domain"`
	Accent   string `json:"accent"`
	VADEOS   int    `json:"vad_eos"`
	DWA      string `json:"dwa"`
	PTT      int    `json:"ptt"`
}

type frameData struct {
	Status   int    `json:"status"`
	Format   string `json:"format"`
	Encoding string `json:"encoding"`
	Audio    string `json:"audio"`
}

// frame is one outbound message; only the first one carries common and business
type frame struct {
	Common   *frameCommon   `json:"common,omitempty"`
	Business *frameBusiness `json:"business,omitempty"`
	Data     frameData      `json:"data"`
}

// frameCount returns ceil(length/size)
func frameCount(length, size int) int {
	if length <= 0 || size <= 0 {
		return 0
	}
	return (length + size - 1) / size
}

// frameStatus returns the status flag for frame index of total; the last frame wins
// over the first, so a single-frame recording is sent with status 2.
func frameStatus(index, total int) int {
	switch {
	case index >= total-1:
		return frameStatusLast
	case index == 0:
		return frameStatusFirst
	default:
		return frameStatusMiddle
	}
}

// buildFrame returns frame index of the PCM split into frameSize chunks
func buildFrame(pcm []byte, index, frameSize int, common *frameCommon, business *frameBusiness) frame {
	total := frameCount(len(pcm), frameSize)
	start := index * frameSize
	end := start + frameSize
	if end > len(pcm) {
		end = len(pcm)
	}

	f := frame{
		Data: frameData{
			Status:   frameStatus(index, total),
			Format:   pcmFormat,
			Encoding: rawEncoding,
			Audio:    base64.StdEncoding.EncodeToString(pcm[start:end]),
		},
	}
	if index == 0 {
		f.Common = common
		f.Business = business
	}
	return f
}

// response is one inbound message from the IAT service
type response struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	SID     string        `json:"sid"`
	Data    *responseData `json:"data,omitempty"`
}

type responseData struct {
	Status int             `json:"status"`
	Result *responseResult `json:"result,omitempty"`
}

type responseResult struct {
	WS []struct {
		CW []struct {
			W string `json:"w"`
		} `json:"cw"`
	} `json:"ws"`
}

// words returns the non-empty word fragments in arrival order
func (r *response) words() []string {
	if r.Data == nil || r.Data.Result == nil {
		return nil
	}
	var out []string
	for _, ws := range r.Data.Result.WS {
		for _, cw := range ws.CW {
			if cw.W != "" {
				out = append(out, cw.W)
			}
		}
	}
	return out
}

// final reports whether the far end has finished decoding
func (r *response) final() bool {
	return r.Data != nil && r.Data.Status == frameStatusLast
}

// joinFragments concatenates fragments verbatim; the service returns word-level tokens
func joinFragments(fragments []string) string {
	return strings.Join(fragments, "")
}
