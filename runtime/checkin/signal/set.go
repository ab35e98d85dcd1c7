package signal

import (
	"strconv"
)

// Set indexes a batch of signals by kind. The first signal of a kind wins.
type Set struct {
	byKind map[Kind]Signal
	order  []Kind
}

// NewSet indexes signals.
func NewSet(signals []Signal) Set {
	s := Set{byKind: make(map[Kind]Signal, len(signals))}
	for _, sig := range signals {
		if _, ok := s.byKind[sig.Kind]; ok {
			continue
		}
		s.byKind[sig.Kind] = sig
		s.order = append(s.order, sig.Kind)
	}
	return s
}

// Find returns the signal of the given kind.
func (s Set) Find(kind Kind) (Signal, bool) {
	sig, ok := s.byKind[kind]
	return sig, ok
}

// Kinds returns the kinds present in the set in arrival order.
func (s Set) Kinds() []Kind {
	out := make([]Kind, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of distinct kinds in the set.
func (s Set) Len() int { return len(s.order) }

// Lookup resolves a template field against the signals of the preferred kinds
// first, then against any signal in the set. The result is rendered as text.
func (s Set) Lookup(field string, preferred ...Kind) (string, bool) {
	try := func(sig Signal) (string, bool) {
		if n, ok := sig.Number(field); ok {
			return formatNumber(n), true
		}
		if t, ok := sig.Text(field); ok {
			return t, true
		}
		return "", false
	}
	for _, k := range preferred {
		if sig, ok := s.byKind[k]; ok {
			if v, ok := try(sig); ok {
				return v, true
			}
		}
	}
	for _, k := range s.order {
		if v, ok := try(s.byKind[k]); ok {
			return v, true
		}
	}
	return "", false
}

// formatNumber renders n without trailing zeros: 4200, 18.5.
func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
