package argo

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
)

// FillValue marks absent measurements in profile files.
const FillValue = 99999.0

// juldEpoch is the reference instant for the JULD variable: days since
// 1950-01-01 00:00:00 UTC.
var juldEpoch = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// dataset is the set of per-profile arrays pulled out of one file.
type dataset struct {
	platforms []string
	cycles    []float64
	juld      []float64
	lat       []float64
	lon       []float64
	pres      []float64
	temp      []float64
	psal      []float64
	nProf     int
	nLevels   int
}

// ParseFile reads one profile file from disk and converts it into zero or
// more profile records. Individual profiles with fill-value coordinates or a
// fill-value cycle number are skipped; a file whose schema cannot be read at
// all returns an error.
func ParseFile(path string) ([]domain.ProfileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Records(f, filepathBase(path))
}

func filepathBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// Records converts a decoded file into profile records, one per N_PROF entry.
func Records(f *File, sourceFile string) ([]domain.ProfileRecord, error) {
	ds, err := extract(f)
	if err != nil {
		return nil, err
	}

	records := make([]domain.ProfileRecord, 0, ds.nProf)
	for i := 0; i < ds.nProf; i++ {
		lat, lon := ds.lat[i], ds.lon[i]
		if isFill(lat) || isFill(lon) || isFill(ds.cycles[i]) {
			continue
		}
		rec := domain.ProfileRecord{
			FloatID:    platformAt(ds, i),
			Cycle:      int(ds.cycles[i]),
			Latitude:   lat,
			Longitude:  lon,
			SourceFile: sourceFile,
		}
		if !isFill(ds.juld[i]) {
			days := ds.juld[i]
			rec.Time = juldEpoch.Add(time.Duration(days * 24 * float64(time.Hour)))
		}
		for l := 0; l < ds.nLevels; l++ {
			idx := i*ds.nLevels + l
			pres := ds.pres[idx]
			if isFill(pres) {
				continue
			}
			lv := domain.Level{Pressure: pres}
			if !isFill(ds.temp[idx]) {
				lv.Temperature = ds.temp[idx]
			}
			if !isFill(ds.psal[idx]) {
				lv.Salinity = ds.psal[idx]
			}
			rec.Levels = append(rec.Levels, lv)
		}
		// Files occasionally carry levels out of pressure order; the record
		// invariant wants a non-decreasing depth sequence.
		sort.Slice(rec.Levels, func(a, b int) bool {
			return rec.Levels[a].Pressure < rec.Levels[b].Pressure
		})
		records = append(records, rec)
	}
	return records, nil
}

func platformAt(ds *dataset, i int) string {
	if i < len(ds.platforms) {
		return ds.platforms[i]
	}
	return ""
}

func extract(f *File) (*dataset, error) {
	nProf, err := dimSize(f, "N_PROF")
	if err != nil {
		return nil, err
	}
	nLevels, err := dimSize(f, "N_LEVELS")
	if err != nil {
		return nil, err
	}

	ds := &dataset{nProf: nProf, nLevels: nLevels}

	if ds.platforms, err = platformNumbers(f, nProf); err != nil {
		return nil, err
	}
	if ds.cycles, err = perProfile(f, "CYCLE_NUMBER", nProf); err != nil {
		return nil, err
	}
	if ds.juld, err = perProfile(f, "JULD", nProf); err != nil {
		return nil, err
	}
	if ds.lat, err = perProfile(f, "LATITUDE", nProf); err != nil {
		return nil, err
	}
	if ds.lon, err = perProfile(f, "LONGITUDE", nProf); err != nil {
		return nil, err
	}
	if ds.pres, err = perLevel(f, "PRES", nProf*nLevels); err != nil {
		return nil, err
	}
	if ds.temp, err = perLevel(f, "TEMP", nProf*nLevels); err != nil {
		return nil, err
	}
	if ds.psal, err = perLevel(f, "PSAL", nProf*nLevels); err != nil {
		return nil, err
	}
	return ds, nil
}

func dimSize(f *File, name string) (int, error) {
	for _, d := range f.Dims {
		if d.Name == name {
			return d.Size, nil
		}
	}
	return 0, fmt.Errorf("dimension %s not found", name)
}

// platformNumbers accepts either a char array (the usual encoding) or a
// numeric variable for PLATFORM_NUMBER.
func platformNumbers(f *File, nProf int) ([]string, error) {
	v, ok := f.Vars["PLATFORM_NUMBER"]
	if !ok {
		return nil, fmt.Errorf("variable PLATFORM_NUMBER not found")
	}
	if v.Type == typeChar {
		out, err := f.Strings("PLATFORM_NUMBER")
		if err != nil {
			return nil, err
		}
		if len(out) < nProf {
			return nil, fmt.Errorf("PLATFORM_NUMBER has %d entries, want %d", len(out), nProf)
		}
		return out[:nProf], nil
	}
	nums, err := f.Floats("PLATFORM_NUMBER")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, nProf)
	for i := 0; i < nProf && i < len(nums); i++ {
		out = append(out, strconv.FormatInt(int64(nums[i]), 10))
	}
	return out, nil
}

// perProfile reads a variable that is adjusted-preferred: the *_ADJUSTED
// variant wins when present, matching how downstream consumers of these files
// pick columns.
func perProfile(f *File, name string, want int) ([]float64, error) {
	vals, err := adjustedOrRaw(f, name)
	if err != nil {
		return nil, err
	}
	if len(vals) < want {
		return nil, fmt.Errorf("%s has %d values, want %d", name, len(vals), want)
	}
	return vals[:want], nil
}

func perLevel(f *File, name string, want int) ([]float64, error) {
	return perProfile(f, name, want)
}

func adjustedOrRaw(f *File, name string) ([]float64, error) {
	if f.HasVar(name + "_ADJUSTED") {
		if vals, err := f.Floats(name + "_ADJUSTED"); err == nil {
			return vals, nil
		}
	}
	return f.Floats(name)
}

func isFill(v float64) bool {
	return math.IsNaN(v) || v >= FillValue
}
