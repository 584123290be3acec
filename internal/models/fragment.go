package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTrackType is returned when a track type name is not recognised.
var ErrInvalidTrackType = errors.New("invalid track type")

// TrackType partitions fragments into independent loading lanes.
type TrackType int

const (
	// TrackMain is the video (or muxed audio/video) lane.
	TrackMain TrackType = iota
	TrackAudio
	TrackSubtitle

	// TrackTypeCount is the number of track types, used to size per-type tables.
	TrackTypeCount = int(TrackSubtitle) + 1
)

var trackTypeNames = [TrackTypeCount]string{"main", "audio", "subtitle"}

// String returns the lowercase name of the track type.
func (t TrackType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tracktype(%d)", int(t))
	}
	return trackTypeNames[t]
}

// Valid reports whether t is one of the known track types.
func (t TrackType) Valid() bool {
	return t >= 0 && int(t) < TrackTypeCount
}

// ParseTrackType parses a track type name. "video" is accepted as an alias of "main".
func ParseTrackType(s string) (TrackType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "main", "video":
		return TrackMain, nil
	case "audio":
		return TrackAudio, nil
	case "subtitle":
		return TrackSubtitle, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTrackType, s)
}

// Fragment represents one media segment to be fetched as a single unit.
// Fragments are created by the scheduling side; while a load is being
// coordinated only the coordinator writes Loaded and Loader.
type Fragment struct {
	// ID identifies the fragment in notifications, the cache and the API.
	ID string
	// SN is the media sequence number of the fragment.
	SN int64
	// Type selects the loading lane.
	Type TrackType
	// URL is the source locator of the fragment.
	URL string
	// ByteRangeStartOffset and ByteRangeEndOffset restrict the request to a
	// sub-range of the resource. The end offset is exclusive. The range is
	// only applied when both offsets are set.
	ByteRangeStartOffset *int64
	ByteRangeEndOffset   *int64

	// Loaded is the number of bytes received by the current load attempt.
	Loaded int64
	// Loader is the in-flight loader for this fragment, nil when idle.
	Loader Loader
}

// ByteRange returns the byte range of the fragment and whether both bounds are set.
func (f *Fragment) ByteRange() (start, end int64, ok bool) {
	if f.ByteRangeStartOffset == nil || f.ByteRangeEndOffset == nil {
		return 0, 0, false
	}
	return *f.ByteRangeStartOffset, *f.ByteRangeEndOffset, true
}

// String is used in log lines.
func (f *Fragment) String() string {
	return fmt.Sprintf("%s fragment %s (sn %d)", f.Type, f.ID, f.SN)
}

// Offset is a helper to build optional byte-range bounds.
func Offset(v int64) *int64 {
	return &v
}
