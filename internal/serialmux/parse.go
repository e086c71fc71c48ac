package serialmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/split.report/internal/rssi"
)

const (
	LineTypeSample  = "sample"
	LineTypeStatus  = "status"
	LineTypeComment = "comment"
	LineTypeUnknown = "unknown"
)

// BeaconNamePrefix is the advertised device-name prefix of timing beacons;
// the digits after it are the beacon id.
const BeaconNamePrefix = "PT-"

var ErrMalformedLine = errors.New("malformed receiver line")

// ClassifyLine returns the kind of line the receiver printed. It only looks
// at the shape of the line; ParseSample does the real decoding.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return LineTypeUnknown
	case strings.HasPrefix(line, "#"), strings.HasPrefix(line, "OK"), strings.HasPrefix(line, "ERR"):
		return LineTypeComment
	case strings.HasPrefix(line, "{"):
		if strings.Contains(line, `"beacon"`) {
			return LineTypeSample
		}
		return LineTypeStatus
	case strings.HasPrefix(line, "Sample:"), strings.HasPrefix(line, BeaconNamePrefix):
		return LineTypeSample
	case strings.Count(line, ",") >= 1 && (line[0] == '-' || (line[0] >= '0' && line[0] <= '9')):
		return LineTypeSample
	}
	return LineTypeUnknown
}

type jsonSample struct {
	Beacon json.RawMessage `json:"beacon"`
	RSSI   *int32          `json:"rssi"`
	TS     int64           `json:"ts"`
}

// ParseSample decodes one advertisement line. Accepted forms:
//
//	12,-71,1700000000000
//	PT-12,-71,1700000000000
//	Sample:PT-12,-71,1700000000000
//	{"beacon":12,"rssi":-71,"ts":1700000000000}
//
// The timestamp may be omitted, in which case TimestampMs is 0 and the
// caller stamps the sample with its own clock.
func ParseSample(line string) (rssi.Sample, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		return parseJSONSample(line)
	}
	line = strings.TrimPrefix(line, "Sample:")

	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return rssi.Sample{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}

	id, err := parseBeaconID(fields[0])
	if err != nil {
		return rssi.Sample{}, err
	}
	level, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 32)
	if err != nil {
		return rssi.Sample{}, fmt.Errorf("%w: bad rssi %q", ErrMalformedLine, fields[1])
	}
	s := rssi.Sample{BeaconID: id, RSSI: int32(level)}
	if len(fields) == 3 {
		ts, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil || ts < 0 {
			return rssi.Sample{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedLine, fields[2])
		}
		s.TimestampMs = ts
	}
	return s, nil
}

func parseJSONSample(line string) (rssi.Sample, error) {
	var js jsonSample
	if err := json.Unmarshal([]byte(line), &js); err != nil {
		return rssi.Sample{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if len(js.Beacon) == 0 || js.RSSI == nil {
		return rssi.Sample{}, fmt.Errorf("%w: missing beacon or rssi", ErrMalformedLine)
	}
	if js.TS < 0 {
		return rssi.Sample{}, fmt.Errorf("%w: negative timestamp", ErrMalformedLine)
	}

	// beacon may be a number or a device name
	var raw string
	var name string
	if err := json.Unmarshal(js.Beacon, &name); err == nil {
		raw = name
	} else {
		raw = string(js.Beacon)
	}
	id, err := parseBeaconID(raw)
	if err != nil {
		return rssi.Sample{}, err
	}
	return rssi.Sample{BeaconID: id, RSSI: *js.RSSI, TimestampMs: js.TS}, nil
}

// parseBeaconID accepts "12" or "PT-12".
func parseBeaconID(field string) (int, error) {
	field = strings.TrimSpace(field)
	field = strings.TrimPrefix(field, BeaconNamePrefix)
	id, err := strconv.Atoi(field)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad beacon id %q", ErrMalformedLine, field)
	}
	return id, nil
}
