package engine

import (
	"filecompare/pkg/progress"
	"filecompare/pkg/table"
)

// estRowBytes is the assumed average row size when only a file size is
// known.
const estRowBytes = 128

// ApproxRows is h's row count when it is known, otherwise a guess from its
// file size. It is 0 when neither is available.
func ApproxRows(h table.Handle) int64 {
	if n, ok := table.RowCount(h); ok {
		return int64(n)
	}
	if s := table.SizeHint(h); s > 0 {
		return max(s/estRowBytes, 1)
	}
	return 0
}

// plan turns rows processed across the passes of a run into a percentage.
// The indexed table is read once to build and, when its rows can be
// emitted, once more after the probe pass.
type plan struct {
	rep progress.Reporter

	indexRows int64
	probeRows int64
	twice     bool

	rows int64
	last float64
}

func (p *plan) total() int64 {
	t := p.indexRows + p.probeRows
	if p.twice {
		t += p.indexRows
	}
	return t
}

// report publishes done rows. The percentage never moves backwards and
// stays below 100 until the run completes.
func (p *plan) report(done int64) {
	p.rows = done
	pct := 0.0
	if total := p.total(); total > 0 {
		pct = float64(done) / float64(total) * 100
	}
	pct = max(min(pct, 99), p.last)
	p.last = pct
	p.rep.Report(pct, done)
}

// settleIndex replaces the index estimate with the exact row count and,
// when the probe table's count is unknown, rescales its estimate by the
// file size ratio.
func (p *plan) settleIndex(read, indexSize, probeSize int64, probe table.Handle) {
	if _, ok := table.RowCount(probe); !ok && read > 0 && indexSize > 0 && probeSize > 0 {
		p.probeRows = int64(float64(read) * float64(probeSize) / float64(indexSize))
	}
	p.indexRows = read
}

func (p *plan) finish() {
	p.last = 100
	p.rep.Report(100, p.rows)
}
