package models

import "time"

// Event is one diary entry. Records live as <data>/events/<id>.json and own
// the media files under <data>/events/<id>/.
type Event struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Media       *Media `json:"media,omitempty"`
	Date        string `json:"date"`
	Location    string `json:"location"`
	// IsDateValid is true when Date is backed by a capture time extracted
	// from media metadata rather than user input.
	IsDateValid bool `json:"isDateValid"`
}

// Media groups an event's media references by kind.
type Media struct {
	Images []MediaItem `json:"images,omitempty"`
	Videos []MediaItem `json:"videos,omitempty"`
	Audios []MediaItem `json:"audios,omitempty"`
}

// MediaItem references one stored media file belonging to an event.
type MediaItem struct {
	FileName    string     `json:"fileName"`
	Desc        string     `json:"desc,omitempty"`
	Hash        string     `json:"hash,omitempty"`
	CaptureTime *time.Time `json:"captureTime,omitempty"`
}

// TimelineGroup is one age bucket of the timeline view.
type TimelineGroup struct {
	Age    string  `json:"age"`
	Date   string  `json:"date"`
	Events []Event `json:"events"`
}

// HasCaptureTime reports whether any image or video carries a capture time.
func (e *Event) HasCaptureTime() bool {
	if e.Media == nil {
		return false
	}
	for _, it := range e.Media.Images {
		if it.CaptureTime != nil {
			return true
		}
	}
	for _, it := range e.Media.Videos {
		if it.CaptureTime != nil {
			return true
		}
	}
	return false
}
