package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/glotchimo/ark/internal/backup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report() *backup.Report {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &backup.Report{
		GuildID:  "g",
		Started:  started,
		Finished: started.Add(3 * time.Second),
		Phases: []*backup.PhaseReport{
			{Phase: backup.PhaseRoles, Results: []backup.Result{
				{Kind: "role", Action: backup.ActionCreated},
				{Kind: "role", Action: backup.ActionReused},
			}},
			{Phase: backup.PhaseBans, Results: []backup.Result{
				{Kind: "ban", Action: backup.ActionBanned},
				{Kind: "ban", Skip: &backup.SkipError{Kind: backup.PolicyError, Err: errors.New("missing permissions")}},
			}},
		},
	}
}

func TestObserveRestore(t *testing.T) {
	c := NewCollector()
	c.ObserveRestore(report(), nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("restore", "partial")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.items.WithLabelValues("restore", "roles", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.items.WithLabelValues("restore", "bans", "skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestObserveBuild(t *testing.T) {
	c := NewCollector()

	r := &backup.Report{Phases: []*backup.PhaseReport{{Phase: backup.PhaseRoles, Results: []backup.Result{{Kind: "role"}}}}}
	c.ObserveBuild(r, nil)
	c.ObserveBuild(nil, errors.New("guild unavailable"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("build", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("build", "error")))
	assert.Equal(t, 0, testutil.CollectAndCount(c.duration), "unfinished reports are not timed")
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector()
	require.NoError(t, reg.Register(c))

	c.ObserveRestore(report(), nil)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)
}
