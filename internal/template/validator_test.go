package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadArnold(t *testing.T) *Template {
	t.Helper()
	tmpl, err := Load(writeTemplate(t, arnoldTemplate))
	require.NoError(t, err)
	return tmpl
}

func validSubmission(t *testing.T) map[string]string {
	t.Helper()
	dir := t.TempDir()

	scene := filepath.Join(dir, "shot010.ass")
	if err := os.WriteFile(scene, []byte("# ass file"), 0o644); err != nil {
		t.Fatalf("failed to write scene: %v", err)
	}

	return map[string]string{
		"ArnoldSceneFile": scene,
		"Frames":          "1-3",
		"OutputFilePath":  filepath.Join(dir, "renders"),
	}
}

func TestResolveValuesAppliesDefaults(t *testing.T) {
	tmpl := loadArnold(t)

	values, err := tmpl.ResolveValues(validSubmission(t))
	require.NoError(t, err)

	assert.Equal(t, "false", values["ArnoldErrorOnLicenseFailure"])
	assert.Equal(t, "true", values["StrictErrorChecking"])
	assert.Equal(t, "1-3", values["Frames"])
}

func TestResolveValuesRejectsUndeclared(t *testing.T) {
	tmpl := loadArnold(t)

	sub := validSubmission(t)
	sub["NotAThing"] = "1"

	_, err := tmpl.ResolveValues(sub)
	require.Error(t, err)

	var perr *ParameterError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "NotAThing", perr.Name)
}

func TestResolveValuesRequiresValue(t *testing.T) {
	tmpl := loadArnold(t)

	sub := validSubmission(t)
	delete(sub, "ArnoldSceneFile")

	_, err := tmpl.ResolveValues(sub)
	require.Error(t, err)

	var perr *ParameterError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "ArnoldSceneFile", perr.Name)
}

func TestValidateValues(t *testing.T) {
	tmpl := loadArnold(t)

	t.Run("valid submission passes", func(t *testing.T) {
		values, err := tmpl.ResolveValues(validSubmission(t))
		require.NoError(t, err)
		assert.NoError(t, tmpl.ValidateValues(values))
	})

	t.Run("output directory gets created", func(t *testing.T) {
		sub := validSubmission(t)
		values, err := tmpl.ResolveValues(sub)
		require.NoError(t, err)
		require.NoError(t, tmpl.ValidateValues(values))

		info, err := os.Stat(sub["OutputFilePath"])
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("missing scene file", func(t *testing.T) {
		sub := validSubmission(t)
		sub["ArnoldSceneFile"] = filepath.Join(t.TempDir(), "missing.ass")
		values, err := tmpl.ResolveValues(sub)
		require.NoError(t, err)

		err = tmpl.ValidateValues(values)
		var perr *ParameterError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "ArnoldSceneFile", perr.Name)
		assert.Contains(t, perr.Reason, "does not exist")
	})

	t.Run("scene path is a directory", func(t *testing.T) {
		sub := validSubmission(t)
		sub["ArnoldSceneFile"] = t.TempDir()
		values, err := tmpl.ResolveValues(sub)
		require.NoError(t, err)

		err = tmpl.ValidateValues(values)
		var perr *ParameterError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "ArnoldSceneFile", perr.Name)
	})

	t.Run("malformed frame range", func(t *testing.T) {
		sub := validSubmission(t)
		sub["Frames"] = "5-2"
		values, err := tmpl.ResolveValues(sub)
		require.NoError(t, err)

		err = tmpl.ValidateValues(values)
		var perr *ParameterError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "Frames", perr.Name)
	})

	t.Run("empty frame range fails minLength", func(t *testing.T) {
		sub := validSubmission(t)
		sub["Frames"] = ""
		values, err := tmpl.ResolveValues(sub)
		require.NoError(t, err)

		err = tmpl.ValidateValues(values)
		var perr *ParameterError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "Frames", perr.Name)
	})

	t.Run("bad boolean literal", func(t *testing.T) {
		sub := validSubmission(t)
		sub["StrictErrorChecking"] = "yes"
		values, err := tmpl.ResolveValues(sub)
		require.NoError(t, err)

		err = tmpl.ValidateValues(values)
		var perr *ParameterError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "StrictErrorChecking", perr.Name)
		assert.Contains(t, perr.Reason, "allowed values")
	})
}

func TestValidateValuesIntType(t *testing.T) {
	tmpl := &Template{
		Name: "t",
		ParameterDefinitions: []ParameterDefinition{
			{Name: "Count", Type: TypeInt},
		},
	}

	assert.NoError(t, tmpl.ValidateValues(map[string]string{"Count": "12"}))

	err := tmpl.ValidateValues(map[string]string{"Count": "twelve"})
	var perr *ParameterError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Count", perr.Name)
}
