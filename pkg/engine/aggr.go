package engine

import (
	"fmt"
)

// Aggr selects how reduce combines cells.
type Aggr uint8

const (
	AggrAvg Aggr = iota
	AggrCount
	AggrProd
	AggrSum
	AggrMax
	AggrMin
)

var aggrNames = []string{"avg", "count", "prod", "sum", "max", "min"}

func (a Aggr) String() string {
	if int(a) < len(aggrNames) {
		return aggrNames[a]
	}
	return fmt.Sprintf("Aggr(%d)", uint8(a))
}

func ParseAggr(name string) (Aggr, bool) {
	for i, n := range aggrNames {
		if n == name {
			return Aggr(i), true
		}
	}
	return AggrSum, false
}

// Aggregator folds a stream of values. An aggregator that has seen no values
// reports 0.
type Aggregator struct {
	aggr  Aggr
	value float64
	count int
}

func NewAggregator(aggr Aggr) Aggregator {
	return Aggregator{aggr: aggr}
}

func (a *Aggregator) Reset() {
	a.value = 0
	a.count = 0
}

func (a *Aggregator) Add(v float64) {
	if a.count == 0 {
		a.count = 1
		switch a.aggr {
		case AggrCount:
			a.value = 1
		default:
			a.value = v
		}
		return
	}
	a.count++
	switch a.aggr {
	case AggrAvg, AggrSum:
		a.value += v
	case AggrCount:
		a.value++
	case AggrProd:
		a.value *= v
	case AggrMax:
		a.value = maxOf(a.value, v)
	case AggrMin:
		a.value = minOf(a.value, v)
	}
}

func (a *Aggregator) Result() float64 {
	if a.aggr == AggrAvg && a.count > 0 {
		return a.value / float64(a.count)
	}
	return a.value
}
