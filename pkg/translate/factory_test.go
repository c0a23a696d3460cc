package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEngineType(t *testing.T) {
	tests := []struct {
		in      string
		want    EngineType
		wantErr bool
	}{
		{"m2m100", EngineM2M100, false},
		{"M2M", EngineM2M100, false},
		{"", EngineM2M100, false},
		{"LibreTranslate", EngineLibreTranslate, false},
		{"openai", EngineOpenAI, false},
		{"argos", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEngineType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDevice(t *testing.T) {
	for in, want := range map[string]Device{"": DeviceAuto, "AUTO": DeviceAuto, "cpu": DeviceCPU, "cuda": DeviceCUDA} {
		got, err := ParseDevice(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDevice("mps")
	assert.Error(t, err)
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(Config{Logger: quietLogger()})
	require.NoError(t, err)
	m2m, ok := engine.(*M2MEngine)
	require.True(t, ok)
	assert.Equal(t, DefaultWeights, m2m.weights)
	assert.Equal(t, DeviceAuto, m2m.device)
	assert.Implements(t, (*Loader)(nil), engine)
	assert.Implements(t, (*DeviceReleaser)(nil), engine)
	assert.Implements(t, (*WeightSaver)(nil), engine)

	engine, err = NewEngine(Config{Engine: EngineLibreTranslate, Logger: quietLogger()})
	require.NoError(t, err)
	assert.IsType(t, &LibreTranslateClient{}, engine)

	engine, err = NewEngine(Config{Engine: EngineOpenAI, APIKey: "k", Logger: quietLogger()})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEngine{}, engine)

	_, err = NewEngine(Config{Engine: "argos", Logger: quietLogger()})
	assert.Error(t, err)
}
