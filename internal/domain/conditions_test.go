package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCondition(t *testing.T) {
	c, err := LookupCondition("Very hot")
	require.NoError(t, err)
	assert.Equal(t, 30.0, c.Threshold)
	assert.Equal(t, UnitCelsius, c.Unit)

	c, err = LookupCondition("very_wet")
	require.NoError(t, err)
	assert.Equal(t, 10.0, c.Threshold)

	_, err = LookupCondition("very_foggy")
	assert.ErrorIs(t, err, ErrConfiguration)

	assert.Len(t, Conditions(), 5)
}

func TestCondition_ThresholdFor(t *testing.T) {
	hot, err := LookupCondition("very_hot")
	require.NoError(t, err)

	v, u := hot.ThresholdFor(UnitKelvin)
	assert.Equal(t, 30.0, v)
	assert.Equal(t, UnitCelsius, u, "converted later by the engine")

	v, u = hot.ThresholdFor(UnitMillimetre)
	assert.Equal(t, 30.0, v)
	assert.Equal(t, UnitUnknown, u, "mismatched quantity uses the raw value")
}

func TestVariableLabel(t *testing.T) {
	assert.Equal(t, "Temperature (°C)", VariableLabel("t_2m:C"))
	assert.Equal(t, "Wind Speed (m/s)", VariableLabel("wind_speed_10m:ms"))
	assert.Equal(t, "RH", VariableLabel("RH"))
}
