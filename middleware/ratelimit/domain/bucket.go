package domain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// TierState é o saldo de um tier e o último limite de refill contabilizado.
type TierState struct {
	Available  uint64
	LastRefill time.Time
}

// BucketState é o estado persistido por chave, um TierState por tier da política.
type BucketState struct {
	Tiers []TierState
}

// FullState é o estado de uma chave ainda inexistente: todos os tiers cheios.
func FullState(p BucketPolicy, now time.Time) BucketState {
	s := BucketState{Tiers: make([]TierState, len(p.tiers))}
	for i, t := range p.tiers {
		s.Tiers[i] = TierState{Available: t.capacity, LastRefill: now}
	}
	return s
}

// Evaluate aplica o token bucket com refill guloso a state e tenta consumir cost
// de todos os tiers de uma vez.
//
// O refill é calculado só a partir do tempo decorrido: floor(elapsed/period)*refillTokens,
// limitado à capacidade. LastRefill avança apenas por períodos inteiros, então a fração
// de período já decorrida não se perde.
//
// Se algum tier não tiver saldo, nada é consumido e next deve ser descartado pelo chamador.
func Evaluate(state BucketState, p BucketPolicy, cost uint64, now time.Time) (next BucketState, dec Decision) {
	next = BucketState{Tiers: make([]TierState, len(p.tiers))}
	for i, t := range p.tiers {
		ts := TierState{Available: t.capacity, LastRefill: now}
		// tiers a mais na política (mudança de config) começam cheios
		if i < len(state.Tiers) {
			ts = refill(t, state.Tiers[i], now)
		}
		next.Tiers[i] = ts
	}

	dec.OperationClass = p.class
	dec.Remaining = next.Tiers[0].Available
	admitted := true
	for i, t := range p.tiers {
		ts := next.Tiers[i]
		if ts.Available < dec.Remaining {
			dec.Remaining = ts.Available
		}
		if ts.Available >= cost {
			continue
		}
		admitted = false
		if wait := waitFor(t, ts, cost, now); wait > dec.RetryAfter {
			dec.RetryAfter = wait
		}
	}
	if !admitted {
		return next, dec
	}

	dec.Admitted = true
	dec.Remaining = next.Tiers[0].Available - cost
	for i := range next.Tiers {
		next.Tiers[i].Available -= cost
		if next.Tiers[i].Available < dec.Remaining {
			dec.Remaining = next.Tiers[i].Available
		}
	}
	return next, dec
}

func refill(t BandwidthTier, ts TierState, now time.Time) TierState {
	if ts.Available >= t.capacity {
		// cheio não acumula crédito de refill
		return TierState{Available: t.capacity, LastRefill: latest(ts.LastRefill, now)}
	}
	elapsed := now.Sub(ts.LastRefill)
	if elapsed < t.refillPeriod {
		// inclui elapsed negativo (relógios diferentes entre instâncias)
		return ts
	}
	periods := uint64(elapsed / t.refillPeriod)
	missing := t.capacity - ts.Available
	if periods >= (missing+t.refillTokens-1)/t.refillTokens {
		return TierState{Available: t.capacity, LastRefill: now}
	}
	return TierState{
		Available:  ts.Available + periods*t.refillTokens,
		LastRefill: ts.LastRefill.Add(time.Duration(periods) * t.refillPeriod),
	}
}

// waitFor é o tempo até o tier ter cost tokens. Com cost acima da capacidade nunca
// haverá saldo; devolve o tempo até encher.
func waitFor(t BandwidthTier, ts TierState, cost uint64, now time.Time) time.Duration {
	need := cost - ts.Available
	if cost > t.capacity {
		need = t.capacity - ts.Available
	}
	periods := (need + t.refillTokens - 1) / t.refillTokens
	if periods == 0 {
		periods = 1
	}
	wait := ts.LastRefill.Add(time.Duration(periods) * t.refillPeriod).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

const stateCodecVersion = 1

var errCorruptState = errors.New("corrupt bucket state")

// MarshalBinary codifica o estado como valor opaco para o store compartilhado:
// versão, número de tiers e, por tier, saldo (uvarint) e LastRefill em unix nanos (varint).
func (s BucketState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 2+len(s.Tiers)*2*binary.MaxVarintLen64)
	buf = append(buf, stateCodecVersion)
	buf = binary.AppendUvarint(buf, uint64(len(s.Tiers)))
	for _, ts := range s.Tiers {
		buf = binary.AppendUvarint(buf, ts.Available)
		buf = binary.AppendVarint(buf, ts.LastRefill.UnixNano())
	}
	return buf, nil
}

func (s *BucketState) UnmarshalBinary(data []byte) error {
	if len(data) == 0 || data[0] != stateCodecVersion {
		return fmt.Errorf("%w: unknown version", errCorruptState)
	}
	data = data[1:]
	n, sz := binary.Uvarint(data)
	if sz <= 0 || n > 64 {
		return fmt.Errorf("%w: tier count", errCorruptState)
	}
	data = data[sz:]
	tiers := make([]TierState, n)
	for i := range tiers {
		avail, sz := binary.Uvarint(data)
		if sz <= 0 {
			return fmt.Errorf("%w: tier %d tokens", errCorruptState, i)
		}
		data = data[sz:]
		nanos, sz := binary.Varint(data)
		if sz <= 0 {
			return fmt.Errorf("%w: tier %d timestamp", errCorruptState, i)
		}
		data = data[sz:]
		tiers[i] = TierState{Available: avail, LastRefill: time.Unix(0, nanos)}
	}
	if len(data) != 0 {
		return fmt.Errorf("%w: trailing bytes", errCorruptState)
	}
	s.Tiers = tiers
	return nil
}
