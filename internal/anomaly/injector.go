package anomaly

import (
	"bytes"
	"math/rand"
	"sync"
	"time"
)

// Params holds the tuning constants of each category transform. Engines carry
// their own Params; the values are independent per call site.
type Params struct {
	OverflowRepeat  int  // copies of the payload before truncation
	OverflowCap     int  // truncation length of the repeated payload
	OverflowFillLen int  // filler appended after truncation
	OverflowFill    byte // filler byte
	InvalidUTF8     []byte
	SpecialChar     byte // DEL or ESC run after CRLFCRLF
	SpecialCharLen  int
	FormatString    []byte
	NullLen         int
	NoiseLen        int
}

var (
	// MutationParams is used by the mutation engine.
	MutationParams = Params{
		OverflowRepeat:  8,
		OverflowCap:     8192,
		OverflowFillLen: 1024,
		OverflowFill:    'A',
		InvalidUTF8:     []byte{0xc3, 0x28, 0xed, 0xa0, 0x80},
		SpecialChar:     0x7f,
		SpecialCharLen:  8,
		FormatString:    []byte("%n%n%n%p%x%x%x"),
		NullLen:         256,
		NoiseLen:        512,
	}

	// ProxyParams is used by both directions of the proxy.
	ProxyParams = MutationParams

	// GrammarParams is used by the grammar engine and its fallback loop.
	GrammarParams = Params{
		OverflowRepeat:  8,
		OverflowCap:     8192,
		OverflowFillLen: 1024,
		OverflowFill:    'A',
		InvalidUTF8:     []byte{0xc3, 0x28},
		SpecialChar:     0x7f,
		SpecialCharLen:  4,
		FormatString:    []byte("%n%p%x"),
		NullLen:         256,
		NoiseLen:        512,
	}

	// InjectionParams is used by the raw packet injection engine.
	InjectionParams = Params{
		OverflowRepeat:  12,
		OverflowCap:     16384,
		OverflowFillLen: 2048,
		OverflowFill:    'A',
		InvalidUTF8:     []byte{0xed, 0xa0, 0x80},
		SpecialChar:     0x1b,
		SpecialCharLen:  8,
		FormatString:    []byte("%n%p%x%x"),
		NullLen:         512,
		NoiseLen:        1024,
	}
)

// Injector applies weighted anomaly transforms. Safe for concurrent use.
type Injector struct {
	params Params
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewInjector creates an Injector. A nil src seeds from the wall clock.
func NewInjector(params Params, src rand.Source) *Injector {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Injector{params: params, rng: rand.New(src)}
}

// Params returns the injector's tuning constants.
func (i *Injector) Params() Params {
	return i.params
}

// Transform returns data with one weighted category applied, or data itself
// when the profile's total weight is not positive.
func (i *Injector) Transform(data []byte, profile Profile) []byte {
	out, _ := i.Inject(data, profile)
	return out
}

// Inject is Transform that also reports the chosen category ("" for identity).
func (i *Injector) Inject(data []byte, profile Profile) ([]byte, Category) {
	i.mu.Lock()
	defer i.mu.Unlock()
	cat, ok := pick(profile, i.rng)
	if !ok {
		return data, ""
	}
	return apply(cat, data, i.params, i.rng), cat
}

// Pick draws one category from profile.
func (i *Injector) Pick(profile Profile) (Category, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return pick(profile, i.rng)
}

// pick draws r in [1,total] and returns the first entry whose cumulative
// weight reaches r. Non-positive weights never match.
func pick(profile Profile, rng *rand.Rand) (Category, bool) {
	total := profile.Total()
	if total <= 0 {
		return "", false
	}
	r := rng.Intn(total) + 1
	cum := 0
	for _, w := range profile {
		if w.Weight <= 0 {
			continue
		}
		cum += w.Weight
		if cum >= r {
			return w.Category, true
		}
	}
	return "", false
}

// Apply runs the transform of cat on data. Unknown categories are identity.
func Apply(cat Category, data []byte, params Params, rng *rand.Rand) []byte {
	return apply(cat, data, params, rng)
}

func apply(cat Category, data []byte, p Params, rng *rand.Rand) []byte {
	switch cat {
	case SizeOverflow:
		repeated := bytes.Repeat(data, p.OverflowRepeat)
		if len(repeated) > p.OverflowCap {
			repeated = repeated[:p.OverflowCap]
		}
		return append(repeated, bytes.Repeat([]byte{p.OverflowFill}, p.OverflowFillLen)...)
	case BoundaryValues:
		out := make([]byte, 0, len(data)+2)
		out = append(out, 0x00)
		out = append(out, data...)
		return append(out, 0xff)
	case InvalidUTF8:
		return concat(data, p.InvalidUTF8)
	case SpecialChars:
		return concat(data, []byte("\r\n\r\n"), bytes.Repeat([]byte{p.SpecialChar}, p.SpecialCharLen))
	case FormatStrings:
		return concat(data, p.FormatString)
	case NullBytes:
		return concat(data, make([]byte, p.NullLen))
	case RandomNoise:
		noise := make([]byte, p.NoiseLen)
		rng.Read(noise)
		return concat(data, noise)
	default:
		return data
	}
}

// concat never aliases data, so callers may keep reusing their read buffers.
func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
