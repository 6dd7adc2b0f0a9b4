// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hashing provides the deterministic content hash used for value
// equality throughout the engine. The hash is stable across runs and across
// processes for the supported value domain: primitives, ordered collections,
// maps and sets (with a canonical ordering of entries), and records (field
// order irrelevant).
package hashing

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Hasher abstracts the hashing strategy so implementations can swap it for
// their value domain. All containers in this module hash through the package
// Default.
type Hasher interface {
	// Sum returns a stable 64-bit digest of v. Two values that are
	// semantically equal must produce the same digest.
	Sum(v any) uint64
}

// Default is the hashing strategy used by the engine. Replace it before
// building any graph or index; swapping mid-flight invalidates stored state.
var Default Hasher = xxHasher{}

// Sum hashes v with the Default strategy.
func Sum(v any) uint64 { return Default.Sum(v) }

// Type tags keep distinct kinds from colliding (e.g. int64(0) vs "" vs nil).
const (
	tagNil = iota + 1
	tagBool
	tagInt
	tagUint
	tagFloat
	tagString
	tagBytes
	tagSeq
	tagMap
	tagStruct
	tagPointer
)

type xxHasher struct{}

func (xxHasher) Sum(v any) uint64 {
	d := xxhash.New()
	writeValue(d, reflect.ValueOf(v))
	return d.Sum64()
}

func writeTag(d *xxhash.Digest, tag byte) {
	_, _ = d.Write([]byte{tag})
}

func writeUint64(d *xxhash.Digest, u uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], u)
	_, _ = d.Write(buf[:])
}

// writeValue canonically encodes rv into the digest. Integers of all widths
// hash identically to their int64 value so that e.g. int32(5) and int(5)
// agree; the same holds for unsigned widths. Struct fields are hashed in
// sorted field-name order so declaration order is irrelevant. Map entries are
// hashed independently and combined through an order-insensitive sort of the
// entry digests.
func writeValue(d *xxhash.Digest, rv reflect.Value) {
	if !rv.IsValid() {
		writeTag(d, tagNil)
		return
	}
	switch rv.Kind() {
	case reflect.Bool:
		writeTag(d, tagBool)
		if rv.Bool() {
			writeUint64(d, 1)
		} else {
			writeUint64(d, 0)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeTag(d, tagInt)
		writeUint64(d, uint64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		writeTag(d, tagUint)
		writeUint64(d, rv.Uint())
	case reflect.Float32, reflect.Float64:
		writeTag(d, tagFloat)
		f := rv.Float()
		if f == 0 {
			f = 0 // normalise -0.0
		}
		writeUint64(d, math.Float64bits(f))
	case reflect.String:
		writeTag(d, tagString)
		writeUint64(d, uint64(rv.Len()))
		_, _ = d.WriteString(rv.String())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			writeTag(d, tagNil)
			return
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			writeTag(d, tagBytes)
			writeUint64(d, uint64(rv.Len()))
			for i := 0; i < rv.Len(); i++ {
				_, _ = d.Write([]byte{byte(rv.Index(i).Uint())})
			}
			return
		}
		writeTag(d, tagSeq)
		writeUint64(d, uint64(rv.Len()))
		for i := 0; i < rv.Len(); i++ {
			writeValue(d, rv.Index(i))
		}
	case reflect.Map:
		if rv.IsNil() {
			writeTag(d, tagNil)
			return
		}
		writeTag(d, tagMap)
		writeUint64(d, uint64(rv.Len()))
		digests := make([]uint64, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ed := xxhash.New()
			writeValue(ed, iter.Key())
			writeValue(ed, iter.Value())
			digests = append(digests, ed.Sum64())
		}
		sort.Slice(digests, func(i, j int) bool { return digests[i] < digests[j] })
		for _, h := range digests {
			writeUint64(d, h)
		}
	case reflect.Struct:
		writeTag(d, tagStruct)
		t := rv.Type()
		names := make([]string, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				names = append(names, t.Field(i).Name)
			}
		}
		sort.Strings(names)
		writeUint64(d, uint64(len(names)))
		for _, name := range names {
			writeTag(d, tagString)
			writeUint64(d, uint64(len(name)))
			_, _ = d.WriteString(name)
			writeValue(d, rv.FieldByName(name))
		}
	case reflect.Pointer:
		if rv.IsNil() {
			writeTag(d, tagNil)
			return
		}
		writeTag(d, tagPointer)
		writeValue(d, rv.Elem())
	case reflect.Interface:
		if rv.IsNil() {
			writeTag(d, tagNil)
			return
		}
		writeValue(d, rv.Elem())
	default:
		// Channels, funcs and unsafe pointers have no stable content identity.
		panic(fmt.Sprintf("hashing: unsupported kind %s", rv.Kind()))
	}
}
