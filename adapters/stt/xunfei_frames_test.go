package stt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestFrameCount(t *testing.T) {
	tests := []struct {
		length, size, want int
	}{
		{0, 1280, 0},
		{1, 1280, 1},
		{1280, 1280, 1},
		{1281, 1280, 2},
		{2560, 1280, 2},
		{12800, 1280, 10},
		{12801, 1280, 11},
	}

	for _, tt := range tests {
		if got := frameCount(tt.length, tt.size); got != tt.want {
			t.Errorf("frameCount(%d, %d): expected %d, got %d", tt.length, tt.size, tt.want, got)
		}
	}
}

func TestFrameStatus(t *testing.T) {
	tests := []struct {
		name         string
		index, total int
		want         int
	}{
		{"single frame is last", 0, 1, frameStatusLast},
		{"first of many", 0, 3, frameStatusFirst},
		{"middle", 1, 3, frameStatusMiddle},
		{"last of many", 2, 3, frameStatusLast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := frameStatus(tt.index, tt.total); got != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, got)
			}
		})
	}
}

func TestBuildFrame(t *testing.T) {
	pcm := bytes.Repeat([]byte{1, 2, 3, 4, 5}, 600) // 3000 bytes
	common := &frameCommon{AppID: "app"}
	business := &frameBusiness{Language: "zh_cn", Domain: "iat", Accent: "mandarin", VADEOS: 3000, DWA: "wpgs"}

	var reassembled []byte
	total := frameCount(len(pcm), 1280)
	for i := 0; i < total; i++ {
		f := buildFrame(pcm, i, 1280, common, business)

		if i == 0 && (f.Common == nil || f.Business == nil) {
			t.Fatal("Expected first frame to carry common and business")
		}
		if i > 0 && (f.Common != nil || f.Business != nil) {
			t.Errorf("Expected frame %d to carry data only", i)
		}
		if f.Data.Format != pcmFormat || f.Data.Encoding != rawEncoding {
			t.Errorf("Unexpected format %q encoding %q", f.Data.Format, f.Data.Encoding)
		}

		chunk, err := base64.StdEncoding.DecodeString(f.Data.Audio)
		if err != nil {
			t.Fatalf("Failed to decode frame %d: %v", i, err)
		}
		if i < total-1 && len(chunk) != 1280 {
			t.Errorf("Expected full frame of 1280 bytes, got %d", len(chunk))
		}
		reassembled = append(reassembled, chunk...)
	}

	if !bytes.Equal(reassembled, pcm) {
		t.Error("Expected frames to reassemble to the original PCM")
	}
}

func TestBuildFrameJSON(t *testing.T) {
	f := buildFrame([]byte{0, 0}, 0, 1280, &frameCommon{AppID: "app"}, &frameBusiness{Language: "zh_cn", Domain: "iat", Accent: "mandarin", VADEOS: 3000, DWA: "wpgs"})
	payload, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Failed to marshal frame: %v", err)
	}

	var decoded map[string]map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal frame: %v", err)
	}
	if decoded["common"]["app_id"] != "app" {
		t.Errorf("Expected app_id app, got %v", decoded["common"]["app_id"])
	}
	if decoded["business"]["ptt"] != float64(0) {
		t.Errorf("Expected ptt 0 to be serialized, got %v", decoded["business"]["ptt"])
	}
	if decoded["data"]["status"] != float64(frameStatusLast) {
		t.Errorf("Expected single frame status 2, got %v", decoded["data"]["status"])
	}

	middle, _ := json.Marshal(buildFrame(make([]byte, 3000), 1, 1280, nil, nil))
	if bytes.Contains(middle, []byte("common")) || bytes.Contains(middle, []byte("business")) {
		t.Errorf("Expected middle frame without metadata, got %s", middle)
	}
}

func TestResponseWords(t *testing.T) {
	raw := `{"code":0,"sid":"iat1","data":{"status":1,"result":{"ws":[{"cw":[{"w":"清蒸"}]},{"cw":[{"w":""}]},{"cw":[{"w":"鲈鱼"}]}]}}}`
	var resp response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	words := resp.words()
	if len(words) != 2 || words[0] != "清蒸" || words[1] != "鲈鱼" {
		t.Errorf("Expected [清蒸 鲈鱼], got %v", words)
	}
	if resp.final() {
		t.Error("Expected status 1 not to be final")
	}
	if got := joinFragments(words); got != "清蒸鲈鱼" {
		t.Errorf("Expected 清蒸鲈鱼, got %q", got)
	}

	empty := response{Code: 0}
	if empty.words() != nil || empty.final() {
		t.Error("Expected a response without data to carry nothing")
	}
}
