package sync

import (
	"bytes"
	"io"
	"path"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/sattrk/telarc/internal/archive/catalog"
	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// =============================================================================
// Object keys
// =============================================================================

const (
	keyPrefix    = "sync"
	fileIndex    = "index.parquet"
	fileRecords  = "archfiles.parquet"
	fileChannels = "channels.parquet"
	fileFull     = "full.parquet"

	// dateIDLayout renders a file time as a compact, lexically sortable
	// UTC stamp. Bundle ordering relies on this sorting like the numbers.
	dateIDLayout = "20060102T150405Z"
)

func indexKey(content string) string {
	return path.Join(keyPrefix, content, fileIndex)
}

func bundleKey(content, dateID, name string) string {
	return path.Join(keyPrefix, content, dateID, name)
}

func statsFileName(res types.Resolution) string {
	return res.String() + ".parquet"
}

// =============================================================================
// Row schemas
// =============================================================================

// indexRow mirrors one sync-index entry in the published index object.
type indexRow struct {
	DateID    string `parquet:"date_id"`
	Filetime0 int64  `parquet:"filetime0"`
	Filetime1 int64  `parquet:"filetime1"`
	Row0      int64  `parquet:"row0"`
	Row1      int64  `parquet:"row1"`
}

// recordRow mirrors one catalog record covered by a bundle.
type recordRow struct {
	Content  string  `parquet:"content,zstd"`
	Filename string  `parquet:"filename,zstd"`
	Filetime int64   `parquet:"filetime"`
	Tstart   float64 `parquet:"tstart"`
	Tstop    float64 `parquet:"tstop"`
	Rowstart int64   `parquet:"rowstart"`
	Rowstop  int64   `parquet:"rowstop"`
	Revision int32   `parquet:"revision"`
	Date     string  `parquet:"date,optional,zstd"`
}

// channelRow carries the schema of one channel so a blank replica can
// create its column files before applying rows.
type channelRow struct {
	Msid  string `parquet:"msid,zstd"`
	DType string `parquet:"dtype,zstd"`
	Width int32  `parquet:"width"`
}

// fullRow is one sample of one channel. Exactly one value carrier is
// populated, chosen by the channel dtype; TIME travels as an ordinary
// float64 channel. Row is the absolute archive row index.
type fullRow struct {
	Msid    string  `parquet:"msid,zstd"`
	Row     int64   `parquet:"row"`
	Quality bool    `parquet:"quality"`
	Fval    float64 `parquet:"fval,optional"`
	Ival    int64   `parquet:"ival,optional"`
	Sval    string  `parquet:"sval,optional,zstd"`
	Bval    bool    `parquet:"bval,optional"`
}

// statRow is one statistics-file row of one channel. Row is the row
// index inside the channel's statistics file, Index the bucket index.
// Float channels use the F carriers, integer channels the I carriers;
// both stay exact through the wire. Pct holds the 1/5/16/50/84/95/99th
// percentiles in that order, present only at daily resolution. State
// channels carry the aligned States/Counts lists instead.
type statRow struct {
	Msid  string `parquet:"msid,zstd"`
	Row   int64  `parquet:"row"`
	Index int64  `parquet:"index"`
	N     int32  `parquet:"n"`

	Fval float64 `parquet:"fval,optional"`
	Ival int64   `parquet:"ival,optional"`
	Sval string  `parquet:"sval,optional,zstd"`
	Bval bool    `parquet:"bval,optional"`

	MinF float64 `parquet:"minf,optional"`
	MaxF float64 `parquet:"maxf,optional"`
	MinI int64   `parquet:"mini,optional"`
	MaxI int64   `parquet:"maxi,optional"`
	Mean float64 `parquet:"mean,optional"`
	Std  float64 `parquet:"std,optional"`

	PctF []float64 `parquet:"pctf,list"`
	PctI []int64   `parquet:"pcti,list"`

	States []string `parquet:"states,list,zstd"`
	Counts []int32  `parquet:"counts,list"`
}

// =============================================================================
// Parquet encode/decode
// =============================================================================

func encodeRows[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf, parquet.Compression(&parquet.Zstd))
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return nil, errors.Wrap(err, "write rows")
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "close writer")
	}
	return buf.Bytes(), nil
}

func decodeRows[T any](data []byte) ([]T, error) {
	r := parquet.NewGenericReader[T](bytes.NewReader(data))
	defer r.Close()

	rows := make([]T, r.NumRows())
	read := 0
	for read < len(rows) {
		n, err := r.Read(rows[read:])
		read += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read rows")
		}
		if n == 0 {
			break
		}
	}
	if read != len(rows) {
		return nil, errors.Wrapf(errors.ErrCorrupt, "payload holds %d of %d rows", read, len(rows))
	}
	return rows, nil
}

// =============================================================================
// Index and record conversion
// =============================================================================

func encodeIndex(entries []*catalog.IndexEntry) ([]byte, error) {
	rows := make([]indexRow, len(entries))
	for i, e := range entries {
		rows[i] = indexRow{
			DateID:    e.DateID,
			Filetime0: e.Filetime0,
			Filetime1: e.Filetime1,
			Row0:      e.Row0,
			Row1:      e.Row1,
		}
	}
	return encodeRows(rows)
}

func decodeIndex(data []byte) ([]*catalog.IndexEntry, error) {
	rows, err := decodeRows[indexRow](data)
	if err != nil {
		return nil, err
	}
	entries := make([]*catalog.IndexEntry, len(rows))
	for i, r := range rows {
		entries[i] = &catalog.IndexEntry{
			DateID:    r.DateID,
			Filetime0: r.Filetime0,
			Filetime1: r.Filetime1,
			Row0:      r.Row0,
			Row1:      r.Row1,
		}
	}
	return entries, nil
}

func encodeRecords(recs []*catalog.Record) ([]byte, error) {
	rows := make([]recordRow, len(recs))
	for i, rec := range recs {
		rows[i] = recordRow{
			Content:  rec.Content,
			Filename: rec.Filename,
			Filetime: rec.Filetime,
			Tstart:   rec.Tstart,
			Tstop:    rec.Tstop,
			Rowstart: rec.Rowstart,
			Rowstop:  rec.Rowstop,
			Revision: int32(rec.Revision),
			Date:     rec.Date,
		}
	}
	return encodeRows(rows)
}

func decodeRecords(data []byte) ([]*catalog.Record, error) {
	rows, err := decodeRows[recordRow](data)
	if err != nil {
		return nil, err
	}
	recs := make([]*catalog.Record, len(rows))
	for i, r := range rows {
		recs[i] = &catalog.Record{
			Content:  r.Content,
			Filename: r.Filename,
			Filetime: r.Filetime,
			Tstart:   r.Tstart,
			Tstop:    r.Tstop,
			Rowstart: r.Rowstart,
			Rowstop:  r.Rowstop,
			Revision: int(r.Revision),
			Date:     r.Date,
		}
	}
	return recs, nil
}

func encodeChannels(channels []types.Channel) ([]byte, error) {
	rows := make([]channelRow, len(channels))
	for i, ch := range channels {
		rows[i] = channelRow{
			Msid:  ch.Msid,
			DType: ch.DType.String(),
			Width: int32(ch.Width),
		}
	}
	return encodeRows(rows)
}

func decodeChannels(content string, data []byte) (map[string]types.Channel, error) {
	rows, err := decodeRows[channelRow](data)
	if err != nil {
		return nil, err
	}
	channels := make(map[string]types.Channel, len(rows))
	for _, r := range rows {
		d, err := types.ParseDType(r.DType)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCorrupt, "channel %s: %v", r.Msid, err)
		}
		channels[r.Msid] = types.Channel{
			Msid:    r.Msid,
			Content: content,
			DType:   d,
			Width:   int(r.Width),
		}
	}
	return channels, nil
}

// =============================================================================
// Full-resolution conversion
// =============================================================================

// columnSlice is the decoded [row0, row1) slice of one channel.
type columnSlice struct {
	Values  types.Array
	Quality []bool
}

func appendFullRows(rows []fullRow, msid string, row0 int64, vals types.Array, qual []bool) []fullRow {
	for i := 0; i < vals.Len(); i++ {
		r := fullRow{
			Msid:    msid,
			Row:     row0 + int64(i),
			Quality: qual[i],
		}
		r.Fval, r.Ival, r.Sval, r.Bval = valueCarriers(vals, i)
		rows = append(rows, r)
	}
	return rows
}

// decodeFull reassembles per-channel column slices from the flat row
// list. Every channel must cover exactly [row0, row1) with consecutive
// row indexes; anything else means a malformed payload.
func decodeFull(data []byte, channels map[string]types.Channel, row0, row1 int64) (map[string]*columnSlice, error) {
	rows, err := decodeRows[fullRow](data)
	if err != nil {
		return nil, err
	}

	n := int(row1 - row0)
	out := make(map[string]*columnSlice, len(channels))
	filled := make(map[string]int, len(channels))
	for _, r := range rows {
		ch, ok := channels[r.Msid]
		if !ok {
			return nil, errors.Wrapf(errors.ErrCorrupt, "row for undeclared channel %s", r.Msid)
		}
		slice, ok := out[r.Msid]
		if !ok {
			slice = &columnSlice{
				Values:  types.NewArray(ch.DType, n),
				Quality: make([]bool, n),
			}
			out[r.Msid] = slice
		}
		i := filled[r.Msid]
		if i >= n || r.Row != row0+int64(i) {
			return nil, errors.Wrapf(errors.ErrCorrupt,
				"channel %s: row %d out of sequence (want %d)", r.Msid, r.Row, row0+int64(i))
		}
		setCarrier(slice.Values, i, r.Fval, r.Ival, r.Sval, r.Bval)
		slice.Quality[i] = r.Quality
		filled[r.Msid] = i + 1
	}

	for msid, count := range filled {
		if count != n {
			return nil, errors.Wrapf(errors.ErrCorrupt,
				"channel %s: %d of %d rows present", msid, count, n)
		}
	}
	return out, nil
}

// =============================================================================
// Statistics conversion
// =============================================================================

// statsSlice is the decoded run of one channel's statistics rows,
// starting at row index Row0 of the channel's statistics file.
type statsSlice struct {
	Row0 int64
	Rows []statRow
}

// appendStatRows flattens a statistics block into wire rows. row0 is
// the statistics-file row index of the block's first row.
func appendStatRows(rows []statRow, msid string, layout colstore.Layout, row0 int64, b *colstore.StatsBlock) []statRow {
	isFloat := layout.DType == types.DTypeFloat64 || layout.DType == types.DTypeFloat32
	for i := 0; i < b.Len(); i++ {
		r := statRow{
			Msid:  msid,
			Row:   row0 + int64(i),
			Index: b.Index[i],
			N:     b.N[i],
		}
		r.Fval, r.Ival, r.Sval, r.Bval = valueCarriers(b.Val, i)

		if layout.Numeric() {
			if isFloat {
				r.MinF = floatAt(b.Min, i)
				r.MaxF = floatAt(b.Max, i)
			} else {
				r.MinI = intAt(b.Min, i)
				r.MaxI = intAt(b.Max, i)
			}
			r.Mean = float64(b.Mean[i])
			if layout.Res.HasExtras() {
				r.Std = float64(b.Std[i])
				for _, p := range []types.Array{b.P01, b.P05, b.P16, b.P50, b.P84, b.P95, b.P99} {
					if isFloat {
						r.PctF = append(r.PctF, floatAt(p, i))
					} else {
						r.PctI = append(r.PctI, intAt(p, i))
					}
				}
			}
		} else {
			for _, s := range layout.States {
				r.States = append(r.States, s)
				r.Counts = append(r.Counts, b.Counts[s][i])
			}
		}
		rows = append(rows, r)
	}
	return rows
}

// decodeStats splits the flat row list into per-channel slices. Rows of
// a channel must carry consecutive statistics-file row indexes.
func decodeStats(data []byte, channels map[string]types.Channel) (map[string]*statsSlice, error) {
	rows, err := decodeRows[statRow](data)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*statsSlice)
	for _, r := range rows {
		if _, ok := channels[r.Msid]; !ok {
			return nil, errors.Wrapf(errors.ErrCorrupt, "statistics for undeclared channel %s", r.Msid)
		}
		if len(r.States) != len(r.Counts) {
			return nil, errors.Wrapf(errors.ErrCorrupt,
				"channel %s: %d states with %d counts", r.Msid, len(r.States), len(r.Counts))
		}
		slice, ok := out[r.Msid]
		if !ok {
			slice = &statsSlice{Row0: r.Row}
			out[r.Msid] = slice
		}
		if want := slice.Row0 + int64(len(slice.Rows)); r.Row != want {
			return nil, errors.Wrapf(errors.ErrCorrupt,
				"channel %s: statistics row %d out of sequence (want %d)", r.Msid, r.Row, want)
		}
		slice.Rows = append(slice.Rows, r)
	}
	return out, nil
}

// statStates returns the sorted union of state names in a slice.
func statStates(s *statsSlice) []string {
	seen := make(map[string]bool)
	for _, r := range s.Rows {
		for _, name := range r.States {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// statBlockFromRows rebuilds a statistics block in the target file's
// layout. States unknown to a wire row count as zero, which happens
// when the local file already knows states the bundle's span never saw.
func statBlockFromRows(layout colstore.Layout, rows []statRow) (*colstore.StatsBlock, error) {
	n := len(rows)
	b := colstore.NewStatsBlock(layout)
	b.Index = make([]int64, n)
	b.N = make([]int32, n)
	b.Val = types.NewArray(layout.DType, n)
	if layout.Numeric() {
		b.Min = types.NewArray(layout.DType, n)
		b.Max = types.NewArray(layout.DType, n)
		b.Mean = make([]float32, n)
		if layout.Res.HasExtras() {
			b.Std = make([]float32, n)
			b.P01 = types.NewArray(layout.DType, n)
			b.P05 = types.NewArray(layout.DType, n)
			b.P16 = types.NewArray(layout.DType, n)
			b.P50 = types.NewArray(layout.DType, n)
			b.P84 = types.NewArray(layout.DType, n)
			b.P95 = types.NewArray(layout.DType, n)
			b.P99 = types.NewArray(layout.DType, n)
		}
	} else {
		b.Counts = make(map[string][]int32, len(layout.States))
		for _, s := range layout.States {
			b.Counts[s] = make([]int32, n)
		}
	}

	for i, r := range rows {
		b.Index[i] = r.Index
		b.N[i] = r.N
		setCarrier(b.Val, i, r.Fval, r.Ival, r.Sval, r.Bval)

		if layout.Numeric() {
			setNumeric(b.Min, i, r.MinF, r.MinI)
			setNumeric(b.Max, i, r.MaxF, r.MaxI)
			b.Mean[i] = float32(r.Mean)
			if layout.Res.HasExtras() {
				b.Std[i] = float32(r.Std)
				pcts := []types.Array{b.P01, b.P05, b.P16, b.P50, b.P84, b.P95, b.P99}
				for j, p := range pcts {
					var pf float64
					var pi int64
					switch {
					case len(r.PctF) == len(pcts):
						pf = r.PctF[j]
					case len(r.PctI) == len(pcts):
						pi = r.PctI[j]
					default:
						return nil, errors.Wrapf(errors.ErrCorrupt,
							"channel %s: %d percentiles in daily row", r.Msid, len(r.PctF)+len(r.PctI))
					}
					setNumeric(p, i, pf, pi)
				}
			}
		} else {
			for j, s := range r.States {
				counts, ok := b.Counts[s]
				if !ok {
					return nil, errors.Wrapf(errors.ErrCorrupt,
						"channel %s: state %q missing from layout", r.Msid, s)
				}
				counts[i] = r.Counts[j]
			}
		}
	}
	return b, nil
}

// =============================================================================
// Value carriers
// =============================================================================

// valueCarriers spreads element i over the wire carriers. Integer
// values ride their own carrier so they never round through a float.
func valueCarriers(a types.Array, i int) (f float64, iv int64, s string, b bool) {
	switch v := a.(type) {
	case types.Float64s:
		f = v[i]
	case types.Float32s:
		f = float64(v[i])
	case types.Int64s:
		iv = v[i]
	case types.Int32s:
		iv = int64(v[i])
	case types.Strings:
		s = v[i]
	case types.Bools:
		b = v[i]
	}
	return
}

// setCarrier writes the wire carriers back into element i.
func setCarrier(a types.Array, i int, f float64, iv int64, s string, b bool) {
	switch v := a.(type) {
	case types.Float64s:
		v[i] = f
	case types.Float32s:
		v[i] = float32(f)
	case types.Int64s:
		v[i] = iv
	case types.Int32s:
		v[i] = int32(iv)
	case types.Strings:
		v[i] = s
	case types.Bools:
		v[i] = b
	}
}

func floatAt(a types.Array, i int) float64 {
	switch v := a.(type) {
	case types.Float64s:
		return v[i]
	case types.Float32s:
		return float64(v[i])
	}
	return 0
}

func intAt(a types.Array, i int) int64 {
	switch v := a.(type) {
	case types.Int64s:
		return v[i]
	case types.Int32s:
		return int64(v[i])
	}
	return 0
}

func setNumeric(a types.Array, i int, f float64, iv int64) {
	switch v := a.(type) {
	case types.Float64s:
		v[i] = f
	case types.Float32s:
		v[i] = float32(f)
	case types.Int64s:
		v[i] = iv
	case types.Int32s:
		v[i] = int32(iv)
	}
}
