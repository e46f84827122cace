package particles

import (
	"encoding/binary"
	"math"
)

// RecordSize is the byte size of one particle in device memory.
const RecordSize = 64

const recordWords = RecordSize / 4

// word offsets inside a record
const (
	offPosition = 0
	offLife     = 3
	offVelocity = 4
	offSize     = 7
	offColor    = 8
	offSeed     = 12
)

// Record is the host view of one particle. Color is premultiplied RGBA.
type Record struct {
	Position [3]float32
	Life     float32
	Velocity [3]float32
	Size     float32
	Color    [4]float32
	Seed     uint32
}

// Alive reports whether the particle has life left.
func (r Record) Alive() bool { return r.Life > 0 }

func (r Record) put(dst []byte) {
	le := binary.LittleEndian
	for i := 0; i < 3; i++ {
		le.PutUint32(dst[4*(offPosition+i):], math.Float32bits(r.Position[i]))
		le.PutUint32(dst[4*(offVelocity+i):], math.Float32bits(r.Velocity[i]))
	}
	le.PutUint32(dst[4*offLife:], math.Float32bits(r.Life))
	le.PutUint32(dst[4*offSize:], math.Float32bits(r.Size))
	for i := 0; i < 4; i++ {
		le.PutUint32(dst[4*(offColor+i):], math.Float32bits(r.Color[i]))
	}
	le.PutUint32(dst[4*offSeed:], r.Seed)
	clear(dst[4*(offSeed+1) : RecordSize])
}

func decodeRecord(src []byte) Record {
	le := binary.LittleEndian
	f := func(w int) float32 { return math.Float32frombits(le.Uint32(src[4*w:])) }
	var r Record
	for i := 0; i < 3; i++ {
		r.Position[i] = f(offPosition + i)
		r.Velocity[i] = f(offVelocity + i)
	}
	r.Life = f(offLife)
	r.Size = f(offSize)
	for i := 0; i < 4; i++ {
		r.Color[i] = f(offColor + i)
	}
	r.Seed = le.Uint32(src[4*offSeed:])
	return r
}

// encodeRecords packs records into a device-layout byte slice.
func encodeRecords(recs []Record) []byte {
	out := make([]byte, len(recs)*RecordSize)
	for i := range recs {
		recs[i].put(out[i*RecordSize:])
	}
	return out
}
