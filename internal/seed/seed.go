// Package seed decides how randomness is injected into a graph before submission.
package seed

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"comfyrun/pkg/models"
)

// TokenName is the placeholder that, when present, receives the seed through
// token substitution instead of a direct broadcast.
const TokenName = "SEED"

// Fields lists the input names overwritten by Broadcast.
var Fields = []string{"seed", "noise_seed"}

// Random returns a uniformly distributed 32-bit seed from a cryptographically
// strong source.
func Random() int64 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("seed: crypto/rand unavailable: " + err.Error())
	}
	return int64(binary.BigEndian.Uint32(b[:]))
}

// Resolve returns the caller's seed when it looks numeric, otherwise a fresh
// random seed. Strings are parsed as floats first so "123.0" is accepted.
func Resolve(provided interface{}) int64 {
	switch v := provided.(type) {
	case nil:
		return Random()
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return fromUint(uint64(v))
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return fromUint(v)
	case float32:
		return fromFloat(float64(v))
	case float64:
		return fromFloat(v)
	case json.Number:
		return fromString(v.String())
	case string:
		return fromString(v)
	default:
		return Random()
	}
}

// Apply resolves the seed and, when the graph has no SEED token, writes it
// into every seed-bearing field. With a SEED token present the graph is left
// untouched and the caller hands the seed to the token engine. It returns the
// seed and the number of fields written.
func Apply(g models.Graph, tokenNames map[string]bool, provided interface{}) (int64, int) {
	s := Resolve(provided)
	if tokenNames[TokenName] {
		return s, 0
	}
	return s, Broadcast(g, s)
}

// Broadcast overwrites every "seed" and "noise_seed" input with s.
func Broadcast(g models.Graph, s int64) int {
	count := 0
	for _, node := range g {
		if node == nil {
			continue
		}
		for _, field := range Fields {
			if _, ok := node.Inputs[field]; ok {
				node.Inputs[field] = s
				count++
			}
		}
	}
	return count
}

func fromString(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return Random()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Random()
	}
	return fromFloat(f)
}

func fromUint(u uint64) int64 {
	if u > math.MaxInt64 {
		return Random()
	}
	return int64(u)
}

func fromFloat(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return Random()
	}
	return int64(f)
}
