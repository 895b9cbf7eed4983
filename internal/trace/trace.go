// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace implements the Trace Sink of spec.md §4.7/§6: an
// append-only, buffered-at-one-row CSV writer that flushes after every
// row so a partial run is still a usable trace.
package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/HongyuHe/energat/internal/attribution"
)

// Row is one sample's worth of output, independent of the dynamic
// per-socket column layout.
type Row struct {
	Timestamp time.Time
	IntervalS float64
	Sockets   []attribution.SocketResult
	ClampNote string
}

// Sink appends rows to a CSV file, one socket-layout derived once at
// construction (the socket set is fixed for the lifetime of a run, per
// spec.md §4.2 "topology discovered once at startup").
type Sink struct {
	w       io.WriteCloser
	csvW    *csv.Writer
	enc     *csvutil.Encoder
	rowType reflect.Type
	sockets []int
}

// New opens a Sink writing to w, with columns laid out for the given
// sockets in ascending order, per spec.md §6's column list.
func New(w io.WriteCloser, sockets []int) *Sink {
	sorted := append([]int(nil), sockets...)
	sort.Ints(sorted)

	csvW := csv.NewWriter(w)
	enc := csvutil.NewEncoder(csvW)

	return &Sink{
		w:       w,
		csvW:    csvW,
		enc:     enc,
		rowType: buildRowType(sorted),
		sockets: sorted,
	}
}

// Write encodes and flushes one row. The CSV header is written
// automatically on the first call (csvutil.Encoder.AutoHeader).
func (s *Sink) Write(row Row) error {
	rv := reflect.New(s.rowType).Elem()
	rv.Field(0).SetString(row.Timestamp.UTC().Format(time.RFC3339Nano))
	rv.Field(1).SetString(formatFloat(row.IntervalS))

	bySocket := make(map[int]attribution.SocketResult, len(row.Sockets))
	for _, r := range row.Sockets {
		bySocket[r.Socket] = r
	}

	field := 2
	for _, socket := range s.sockets {
		r := bySocket[socket] // zero value if this socket had no result this sample
		rv.Field(field + 0).SetString(formatFloat(r.HostCPUJ))
		rv.Field(field + 1).SetString(formatFloat(r.HostDRAMJ))
		rv.Field(field + 2).SetString(formatFloat(r.TargetCPUJ))
		rv.Field(field + 3).SetString(formatFloat(r.TargetDRAMJ))
		rv.Field(field + 4).SetString(formatFloat(r.CPUShare))
		rv.Field(field + 5).SetString(formatFloat(r.DRAMShare))
		rv.Field(field + 6).SetString(strconv.Itoa(r.NThreads))
		field += 7
	}

	clampNote := row.ClampNote
	if clampNote == "" {
		for _, r := range row.Sockets {
			if r.ClampNote != "" {
				clampNote = r.ClampNote
				break
			}
		}
	}
	rv.Field(field).SetString(clampNote)

	if err := s.enc.Encode(rv.Interface()); err != nil {
		return fmt.Errorf("failed to encode trace row: %w", err)
	}
	s.csvW.Flush()
	return s.csvW.Error()
}

// Close flushes and closes the underlying writer.
func (s *Sink) Close() error {
	s.csvW.Flush()
	return s.w.Close()
}

// buildRowType constructs, once per run, a struct type whose csv tags
// realize spec.md §6's exact column list for the given sockets: this
// dynamic column count (one septuple of columns per socket discovered at
// startup) is outside what a statically-tagged struct can express, so the
// schema itself is built once via reflection and then reused for every
// row -- csvutil still drives header derivation and field encoding from
// the resulting tags.
func buildRowType(sockets []int) reflect.Type {
	fields := []reflect.StructField{
		{Name: "TimestampISO8601", Type: reflect.TypeOf(""), Tag: `csv:"timestamp_iso8601"`},
		{Name: "IntervalS", Type: reflect.TypeOf(""), Tag: `csv:"interval_s"`},
	}

	for _, s := range sockets {
		suffix := strconv.Itoa(s)
		names := []string{
			"host_cpu_j_s" + suffix,
			"host_dram_j_s" + suffix,
			"target_cpu_j_s" + suffix,
			"target_dram_j_s" + suffix,
			"cpu_share_s" + suffix,
			"dram_share_s" + suffix,
			"n_threads_s" + suffix,
		}
		for i, n := range names {
			fields = append(fields, reflect.StructField{
				Name: fmt.Sprintf("Socket%d_Col%d", s, i),
				Type: reflect.TypeOf(""),
				Tag:  reflect.StructTag(fmt.Sprintf(`csv:"%s"`, n)),
			})
		}
	}

	// clamp_note is a supplemented column (spec.md §7 ShareOverflow: "trace
	// row marked in a comment column") not enumerated in spec.md §6's base
	// list but required by that same section's error-handling policy.
	fields = append(fields, reflect.StructField{
		Name: "ClampNote",
		Type: reflect.TypeOf(""),
		Tag:  `csv:"clamp_note"`,
	})

	return reflect.StructOf(fields)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}
