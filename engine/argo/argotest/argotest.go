// Package argotest builds synthetic NetCDF classic profile files for tests.
package argotest

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"time"
)

const (
	tagDimension = 0x0A
	tagVariable  = 0x0B

	typeChar   = 2
	typeInt    = 4
	typeFloat  = 5
	typeDouble = 6

	fillValue = 99999.0
	strLen    = 8
)

var juldEpoch = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// Level is one (pressure, temperature, salinity) triple.
type Level struct {
	Pres, Temp, Psal float64
}

// Profile describes one synthetic float profile.
type Profile struct {
	Platform string
	Cycle    int
	Time     time.Time
	Lat, Lon float64
	Levels   []Level
}

// Encode serializes profiles as a CDF-1 byte stream with the layout real
// profile files use: PLATFORM_NUMBER as a char array, CYCLE_NUMBER as int,
// JULD/LATITUDE/LONGITUDE as double, PRES/TEMP/PSAL as float over
// (N_PROF, N_LEVELS).
func Encode(profiles []Profile) []byte {
	nProf := len(profiles)
	nLevels := 0
	for _, p := range profiles {
		if len(p.Levels) > nLevels {
			nLevels = len(p.Levels)
		}
	}
	if nLevels == 0 {
		nLevels = 1
	}

	type varDef struct {
		name   string
		typ    int32
		dims   []int32
		count  int
		width  int
		values func(buf []byte)
	}

	putF64 := func(vals []float64) func([]byte) {
		return func(buf []byte) {
			for i, v := range vals {
				binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
			}
		}
	}
	putF32 := func(vals []float64) func([]byte) {
		return func(buf []byte) {
			for i, v := range vals {
				binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
			}
		}
	}

	platforms := make([]byte, nProf*strLen)
	cycles := make([]float64, nProf)
	juld := make([]float64, nProf)
	lat := make([]float64, nProf)
	lon := make([]float64, nProf)
	pres := make([]float64, nProf*nLevels)
	temp := make([]float64, nProf*nLevels)
	psal := make([]float64, nProf*nLevels)
	for i := range pres {
		pres[i], temp[i], psal[i] = fillValue, fillValue, fillValue
	}
	for i, p := range profiles {
		row := platforms[i*strLen : (i+1)*strLen]
		copy(row, p.Platform)
		for j := len(p.Platform); j < strLen; j++ {
			row[j] = ' '
		}
		cycles[i] = float64(p.Cycle)
		juld[i] = p.Time.Sub(juldEpoch).Hours() / 24
		lat[i], lon[i] = p.Lat, p.Lon
		for l, lv := range p.Levels {
			idx := i*nLevels + l
			pres[idx], temp[idx], psal[idx] = lv.Pres, lv.Temp, lv.Psal
		}
	}

	// Dimension ids: 0=N_PROF, 1=N_LEVELS, 2=STRING8.
	vars := []varDef{
		{"PLATFORM_NUMBER", typeChar, []int32{0, 2}, nProf * strLen, 1,
			func(buf []byte) { copy(buf, platforms) }},
		{"CYCLE_NUMBER", typeInt, []int32{0}, nProf, 4,
			func(buf []byte) {
				for i, v := range cycles {
					binary.BigEndian.PutUint32(buf[i*4:], uint32(int32(v)))
				}
			}},
		{"JULD", typeDouble, []int32{0}, nProf, 8, putF64(juld)},
		{"LATITUDE", typeDouble, []int32{0}, nProf, 8, putF64(lat)},
		{"LONGITUDE", typeDouble, []int32{0}, nProf, 8, putF64(lon)},
		{"PRES", typeFloat, []int32{0, 1}, nProf * nLevels, 4, putF32(pres)},
		{"TEMP", typeFloat, []int32{0, 1}, nProf * nLevels, 4, putF32(temp)},
		{"PSAL", typeFloat, []int32{0, 1}, nProf * nLevels, 4, putF32(psal)},
	}

	var header []byte
	w32 := func(v int32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		header = append(header, b[:]...)
	}
	wname := func(s string) {
		w32(int32(len(s)))
		header = append(header, s...)
		for len(header)%4 != 0 {
			header = append(header, 0)
		}
	}

	header = append(header, 'C', 'D', 'F', 1)
	w32(0) // numrecs

	w32(tagDimension)
	w32(3)
	wname("N_PROF")
	w32(int32(nProf))
	wname("N_LEVELS")
	w32(int32(nLevels))
	wname("STRING8")
	w32(strLen)

	w32(0) // global attributes: absent
	w32(0)

	w32(tagVariable)
	w32(int32(len(vars)))
	beginAt := make([]int, len(vars))
	for i, v := range vars {
		wname(v.name)
		w32(int32(len(v.dims)))
		for _, d := range v.dims {
			w32(d)
		}
		w32(0) // variable attributes: absent
		w32(0)
		w32(v.typ)
		w32(int32(pad4(v.count * v.width))) // vsize
		beginAt[i] = len(header)
		w32(0) // begin, patched below
	}

	offset := len(header)
	out := header
	for i, v := range vars {
		binary.BigEndian.PutUint32(out[beginAt[i]:], uint32(offset))
		buf := make([]byte, pad4(v.count*v.width))
		v.values(buf[:v.count*v.width])
		out = append(out, buf...)
		offset += len(buf)
	}
	return out
}

func pad4(n int) int { return (n + 3) &^ 3 }

// WriteFile writes an encoded profile file into dir and returns its path.
func WriteFile(dir, name string, profiles []Profile) (string, error) {
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, Encode(profiles), 0o644)
}
