// Package export turns recorded passes into the files and upload bodies the
// race organisers consume.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/rssi"
)

// SplitsHeader is the first row written by SplitsCSV.
var SplitsHeader = []string{"trackId", "tagId", "friendlyName", "state", "entryTimeMs", "peakTimeMs", "exitTimeMs", "highestRssi"}

// SamplesHeader is the first row written by SamplesCSV.
var SamplesHeader = []string{"dataId", "trackId", "tagId", "timestampMs", "rssi"}

// SplitsCSV writes one row per pass. friendlyName comes from racers and is
// empty for unknown beacons.
func SplitsCSV(w io.Writer, records []passes.PassRecord, racers map[int]db.Racer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SplitsHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.PassID, 10),
			strconv.Itoa(rec.BeaconID),
			racers[rec.BeaconID].Name,
			string(rec.State),
			strconv.FormatInt(rec.EntryTimeMs, 10),
			strconv.FormatInt(rec.PeakTimeMs, 10),
			strconv.FormatInt(rec.ExitTimeMs, 10),
			strconv.FormatFloat(float64(rec.PeakRSSI), 'f', 1, 32),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write pass %d: %w", rec.PassID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SamplesCSV writes the raw samples of one pass. dataId counts from 1
// within the pass.
func SamplesCSV(w io.Writer, passID int64, samples []rssi.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SamplesHeader); err != nil {
		return err
	}
	for i, s := range samples {
		row := []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(passID, 10),
			strconv.Itoa(s.BeaconID),
			strconv.FormatInt(s.TimestampMs, 10),
			strconv.FormatInt(int64(s.RSSI), 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSamplesCSV parses a file written by SamplesCSV, or any CSV with
// tagId, timestampMs and rssi columns. Rows keep file order.
func ReadSamplesCSV(r io.Reader) ([]rssi.Sample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	for _, need := range []string{"tagId", "timestampMs", "rssi"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("missing column %q", need)
		}
	}

	var out []rssi.Sample
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		beacon, err1 := strconv.Atoi(row[col["tagId"]])
		ts, err2 := strconv.ParseInt(row[col["timestampMs"]], 10, 64)
		level, err3 := strconv.ParseInt(row[col["rssi"]], 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("line %d: malformed sample row %v", line, row)
		}
		out = append(out, rssi.Sample{BeaconID: beacon, TimestampMs: ts, RSSI: int32(level)})
	}
}
