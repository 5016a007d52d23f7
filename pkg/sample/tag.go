// Package sample defines the element-type tag carried by every ring buffer
// and stage edge in the pipeline: a finite enumeration of sample formats
// plus the two sentinels a stage uses to say "no channel on this side".
package sample

import "fmt"

// Tag identifies the logical element format flowing through a ring buffer.
// It mirrors the original dsp_node's e_binary_type enumeration one-for-one:
// signed/unsigned 8/16/32-bit integer, complex signed 8/16-bit integer,
// 32/64-bit float (real and complex), plus Unknown (diagnostic only) and
// Invalid ("this endpoint produces or consumes nothing through this
// channel").
type Tag int

const (
	// Invalid marks a stage side that carries no data at all.
	Invalid Tag = iota - 1
	// S8 is signed 8-bit integer.
	S8
	// U8 is unsigned 8-bit integer.
	U8
	// CS8 is complex signed 8-bit integer (1 byte per component, 2 per element).
	CS8
	// S16 is signed 16-bit integer.
	S16
	// U16 is unsigned 16-bit integer.
	U16
	// CS16 is complex signed 16-bit integer.
	CS16
	// S32 is signed 32-bit integer.
	S32
	// U32 is unsigned 32-bit integer.
	U32
	// Float32 is 32-bit real float.
	Float32
	// Complex64 is 32-bit complex float (two float32 components).
	Complex64
	// Float64 is 64-bit real float.
	Float64
	// Complex128 is 64-bit complex float (two float64 components).
	Complex128
	// Unknown is a diagnostic-only sentinel; never a valid channel format.
	Unknown
)

// sizes holds the per-tag element size in bytes. Invalid and Unknown are 0.
var sizes = map[Tag]int{
	Invalid:    0,
	S8:         1,
	U8:         1,
	CS8:        2,
	S16:        2,
	U16:        2,
	CS16:       4,
	S32:        4,
	U32:        4,
	Float32:    4,
	Complex64:  8,
	Float64:    8,
	Complex128: 16,
	Unknown:    0,
}

var names = map[Tag]string{
	Invalid:    "invalid",
	S8:         "s8",
	U8:         "u8",
	CS8:        "cs8",
	S16:        "s16",
	U16:        "u16",
	CS16:       "cs16",
	S32:        "s32",
	U32:        "u32",
	Float32:    "float32",
	Complex64:  "complex64",
	Float64:    "float64",
	Complex128: "complex128",
	Unknown:    "unknown",
}

// Size returns the statically known element size in bytes for tag t.
// Invalid and Unknown both report 0.
func (t Tag) Size() int {
	return sizes[t]
}

// String implements fmt.Stringer.
func (t Tag) String() string {
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// Valid reports whether t carries a concrete, non-sentinel element format.
func (t Tag) Valid() bool {
	return t != Invalid && t != Unknown
}
