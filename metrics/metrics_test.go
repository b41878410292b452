package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/deepsea/diver"
	"github.com/deepsea/diver/bus"
	"github.com/deepsea/diver/metrics"
	"github.com/deepsea/diver/sat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Subscribe(t *testing.T) {
	b := bus.NewBroker()
	defer b.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Subscribe(b)

	b.Publish(bus.TopicRun, bus.Record{"status": "completed"})
	b.Publish(bus.TopicRun, bus.Record{"status": "completed"})
	b.Publish(bus.TopicRun, bus.Record{"status": "faulted"})
	b.Publish(bus.TopicFault, bus.Record{"message": "boom"})
	b.Publish(bus.TopicSolve, bus.Record{"status": "sat", "duration": 20 * time.Millisecond})
	b.Publish(bus.TopicSolve, bus.Record{"status": "unknown", "duration": time.Second})
	b.Publish(bus.TopicFrontier, bus.Record{"pending": 3, "deferred": 1, "covered": 9})
	b.Publish(bus.TopicStop, bus.Record{"message": "done"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("faulted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Faults))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Solves.WithLabelValues("sat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Solves.WithLabelValues("unknown")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deferred))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.Covered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stops))

	n, err := testutil.GatherAndCount(reg, "diver_solve_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Records published after Close are not counted.
	require.NoError(t, m.Close())
	b.Publish(bus.TopicFault, bus.Record{"message": "late"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Faults))
	assert.Equal(t, 0, b.Subscribers(bus.TopicFault))
}

// Ensure the collector follows a real exploration.
func TestMetrics_Explore(t *testing.T) {
	b := bus.NewBroker()
	defer b.Close()

	m := metrics.New(prometheus.NewRegistry())
	m.Subscribe(b)
	defer m.Close()

	prog := diver.ProgramFunc(func(ctx context.Context, s *diver.State) error {
		x, err := s.Input("x", diver.KindInt)
		if err != nil {
			return err
		}
		cond, err := diver.Apply(diver.OpGt, x, diver.Int(0))
		if err != nil {
			return err
		}
		if ok, err := s.RecordBranch("x>0", cond); err != nil {
			return err
		} else if ok {
			return &diver.Fault{Message: "positive"}
		}
		return nil
	})

	e := diver.NewExplorer(sat.NewSolver())
	e.Bus = b
	report, err := e.Explore(context.Background(), prog, nil)
	require.NoError(t, err)
	require.Equal(t, 2, report.Runs)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("faulted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Faults))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Solves.WithLabelValues("sat")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pending))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Covered))
}
