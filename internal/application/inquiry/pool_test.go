package inquiry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	known    map[int64]bool
	failing  map[int64]bool
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	onCall   func(number int64)
}

func (f *fakeQuerier) QueryDocument(_ context.Context, salesPoint int, kind fiscal.DocumentKind, number int64) (string, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.onCall != nil {
		f.onCall(number)
	}

	switch {
	case f.failing[number]:
		return "", errors.New("authority unavailable")
	case f.known[number]:
		return fmt.Sprintf("%d/%s", kind, fiscal.FormatNumber(salesPoint, number)), nil
	default:
		return "", fmt.Errorf("document %d: %w", number, fiscal.ErrNotFound)
	}
}

func TestQueryRange_Aggregates(t *testing.T) {
	q := &fakeQuerier{
		known:   map[int64]bool{10: true, 11: true, 13: true, 14: true},
		failing: map[int64]bool{12: true},
	}

	report, err := QueryRange[string](context.Background(), q, 3, fiscal.KindInvoiceB, 10, 15, 3)
	require.NoError(t, err)

	require.Len(t, report.Found, 4)
	for i, want := range []int64{10, 11, 13, 14} {
		assert.Equal(t, want, report.Found[i].Number)
	}
	assert.Equal(t, "6/00003-00000010", report.Found[0].Record)
	assert.Equal(t, []int64{15}, report.Missing)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, int64(12), report.Failed[0].Number)

	assert.Equal(t, Stats{Total: 6, Found: 4, Missing: 1, Failed: 1}, Stats{
		Total:   report.Stats.Total,
		Found:   report.Stats.Found,
		Missing: report.Stats.Missing,
		Failed:  report.Stats.Failed,
	})
	assert.EqualValues(t, 6, q.calls.Load())
	assert.LessOrEqual(t, q.maxSeen.Load(), int32(3))
}

func TestQueryRange_WorkersCappedByRange(t *testing.T) {
	q := &fakeQuerier{known: map[int64]bool{1: true}}

	report, err := QueryRange[string](context.Background(), q, 1, fiscal.KindInvoiceA, 1, 1, 16)
	require.NoError(t, err)
	assert.Len(t, report.Found, 1)
	assert.EqualValues(t, 1, q.maxSeen.Load())
}

func TestQueryRange_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &fakeQuerier{known: map[int64]bool{}}
	q.onCall = func(number int64) {
		if number == 1 {
			cancel()
		}
	}

	report, err := QueryRange[string](ctx, q, 1, fiscal.KindInvoiceA, 1, 200, 1)
	require.NoError(t, err)

	assert.Equal(t, 200, report.Stats.Found+report.Stats.Missing+report.Stats.Failed)
	assert.Less(t, int(q.calls.Load()), 200)
	for _, f := range report.Failed {
		assert.ErrorIs(t, f.Err, context.Canceled)
	}
}

func TestQueryRange_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		salesPoint int
		kind       fiscal.DocumentKind
		from, to   int64
	}{
		{name: "zero sales point", salesPoint: 0, kind: fiscal.KindInvoiceA, from: 1, to: 2},
		{name: "unknown kind", salesPoint: 1, kind: fiscal.DocumentKind(99), from: 1, to: 2},
		{name: "zero start", salesPoint: 1, kind: fiscal.KindInvoiceA, from: 0, to: 2},
		{name: "reversed", salesPoint: 1, kind: fiscal.KindInvoiceA, from: 5, to: 4},
		{name: "too wide", salesPoint: 1, kind: fiscal.KindInvoiceA, from: 1, to: MaxRange + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{}
			_, err := QueryRange[string](context.Background(), q, tt.salesPoint, tt.kind, tt.from, tt.to, 2)

			var verr *fiscal.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Zero(t, q.calls.Load())
		})
	}
}
