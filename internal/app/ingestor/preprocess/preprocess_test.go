package preprocess

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medplane/medplane/internal/pkg/medical"
)

func TestApplyRunsOperationsInOrder(t *testing.T) {
	r := NewDefaultRegistry()

	out, err := r.Apply([]byte("  Chest CT Report  "), []Operation{
		{Type: "trim_whitespace"},
		{Type: "lowercase"},
		{Type: "truncate", Params: map[string]string{"max_bytes": "5"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("chest"), out)
}

func TestApplyWithNoOperationsIsIdentity(t *testing.T) {
	r := NewDefaultRegistry()
	out, err := r.Apply([]byte("unchanged"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("unchanged"), out)
}

func TestApplyUnknownOperationFailsBeforeAnyTransformRuns(t *testing.T) {
	r := NewRegistry()
	ran := false
	require.NoError(t, r.Register("observe", func(p []byte, _ map[string]string) ([]byte, error) {
		ran = true
		return p, nil
	}))

	out, err := r.Apply([]byte("payload"), []Operation{
		{Type: "observe"},
		{Type: "does_not_exist"},
	})
	assert.Nil(t, out)
	var unsupported *medical.UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "does_not_exist", unsupported.Op)
	assert.False(t, ran, "no transform may run when any operation is unknown")
}

func TestApplyFailingOperationReturnsNoPartialOutput(t *testing.T) {
	r := NewDefaultRegistry()
	require.NoError(t, r.Register("boom", func([]byte, map[string]string) ([]byte, error) {
		return nil, errors.New("kaput")
	}))

	out, err := r.Apply([]byte("  payload  "), []Operation{
		{Type: "trim_whitespace"},
		{Type: "boom"},
	})
	assert.Nil(t, out)
	var perr *medical.PreprocessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "boom", perr.Op)
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	noop := func(p []byte, _ map[string]string) ([]byte, error) { return p, nil }

	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register("nil_handler", nil))
	require.NoError(t, r.Register("dup", noop))
	assert.Error(t, r.Register("dup", noop))
}

func TestBuiltinTransforms(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		name string
		op   Operation
		in   []byte
		want []byte
	}{
		{"strip bom", Operation{Type: "strip_bom"}, []byte{0xEF, 0xBB, 0xBF, 'h', 'i'}, []byte("hi")},
		{"strip bom without bom", Operation{Type: "strip_bom"}, []byte("hi"), []byte("hi")},
		{"lowercase", Operation{Type: "lowercase"}, []byte("MiXeD"), []byte("mixed")},
		{"truncate shorter than max", Operation{Type: "truncate", Params: map[string]string{"max_bytes": "10"}}, []byte("short"), []byte("short")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Apply(tt.in, []Operation{tt.op})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestTruncateRequiresValidMaxBytes(t *testing.T) {
	r := NewDefaultRegistry()

	for _, params := range []map[string]string{nil, {"max_bytes": "abc"}, {"max_bytes": "-1"}} {
		_, err := r.Apply([]byte("payload"), []Operation{{Type: "truncate", Params: params}})
		var perr *medical.PreprocessingError
		assert.ErrorAs(t, err, &perr)
	}
}
