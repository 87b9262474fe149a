package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/glotchimo/ark/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"transport", errors.New("502 bad gateway"), TransportError},
		{"invalid", fmt.Errorf("%w: no id", snapshot.ErrInvalid), DataError},
		{"forbidden", fmt.Errorf("edit: %w", forbidden()), PolicyError},
		{"joined", errors.Join(errors.New("a"), forbidden()), PolicyError},
		{"existing", &SkipError{Kind: DataError, Err: errors.New("x")}, DataError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestReportJSON(t *testing.T) {
	r := newReport("g")
	pr := r.phase(PhaseBans)
	pr.ok("ban", "b1", "", "b1", ActionBanned)
	pr.skip("ban", "b2", "", forbidden())
	r.phase(PhaseSettings).Err = Classify(errors.New("timeout"))

	b, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(b, &decoded))

	assert.Equal(t, map[Phase]Counts{PhaseBans: {OK: 1, Skipped: 1}, PhaseSettings: {}}, decoded.Counts())
	assert.Equal(t, []Phase{PhaseSettings}, decoded.Failed())

	skips := decoded.Skips()
	require.Len(t, skips, 1)
	assert.Equal(t, PolicyError, skips[0].Skip.Kind)
	assert.Equal(t, "b2", skips[0].LocalID)
	assert.Equal(t, TransportError, decoded.Phase(PhaseSettings).Err.Kind)
	assert.Nil(t, decoded.Phase(PhaseRoles))
}
