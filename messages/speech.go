package messages

// SubtitleUnit is one timed piece of subtitle text.
type SubtitleUnit struct {
	Text         string  `json:"text"`
	StartTimeSec float64 `json:"start_time_sec"`
	DurationSec  float64 `json:"duration_sec"`
}

// SubtitleFromEndTime builds a SubtitleUnit from start and end timestamps.
func SubtitleFromEndTime(text string, startTimeSec, endTimeSec float64) SubtitleUnit {
	return SubtitleUnit{
		Text:         text,
		StartTimeSec: startTimeSec,
		DurationSec:  endTimeSec - startTimeSec,
	}
}

// EndTimeSec returns when the subtitle stops being shown.
func (s SubtitleUnit) EndTimeSec() float64 {
	return s.StartTimeSec + s.DurationSec
}

// SpeechUnit is one chunk of synthesized speech in an interaction stream.
type SpeechUnit struct {
	Audio Base64 `json:"audio"`
	// Only guaranteed to be present on the first unit in a stream.
	AudioConfig *AudioConfig   `json:"audio_config,omitempty"`
	Subtitles   []SubtitleUnit `json:"subtitles,omitempty"`
}
