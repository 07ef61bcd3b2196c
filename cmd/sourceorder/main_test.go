package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinix/sourceorder/pipeline"
	"github.com/clinix/sourceorder/pkg/errors"
)

// writeConfig prepares a dataset and a config file in a temp directory.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("GridStatus,BatteryLevel,SourceOrder\n")
	for i := 0; i < 40; i++ {
		battery := 10 + 2*i
		switch {
		case i%2 == 0:
			fmt.Fprintf(&b, "Available,%d,Grid\n", battery)
		case battery > 50:
			fmt.Fprintf(&b, "Unavailable,%d,Battery\n", battery)
		default:
			fmt.Fprintf(&b, "Unavailable,%d,Generator\n", battery)
		}
	}
	data := filepath.Join(dir, "clinic.csv")
	require.NoError(t, os.WriteFile(data, []byte(b.String()), 0o644))

	cfg := fmt.Sprintf(`
dataset:
  path: %s
artifacts:
  dir: %s
export:
  dir: %s
registry:
  path: %s
split:
  test_size: 0.25
model:
  epochs: 5
quantize:
  calibration_samples: 10
log:
  level: error
`, data, filepath.Join(dir, "artifacts"), filepath.Join(dir, "include"), filepath.Join(dir, "runs.db"))
	path := filepath.Join(dir, "sourceorder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestRunCommands(t *testing.T) {
	cfg := writeConfig(t)
	dir := filepath.Dir(cfg)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"train", "-config", cfg}, &out))
	assert.Contains(t, out.String(), "macro avg")
	assert.Contains(t, out.String(), "int8 accuracy")

	out.Reset()
	require.NoError(t, run(ctx, []string{"predict", "-config", cfg, "GridStatus=Available", "BatteryLevel=30"}, &out))
	var pred pipeline.Prediction
	require.NoError(t, json.Unmarshal(out.Bytes(), &pred))
	assert.Len(t, pred.Probabilities, 3)

	out.Reset()
	require.NoError(t, run(ctx, []string{"export", "-config", cfg}, &out))
	assert.FileExists(t, filepath.Join(dir, "include", "encoders.h"))
	assert.FileExists(t, filepath.Join(dir, "include", "scaler.h"))
	assert.FileExists(t, filepath.Join(dir, "include", "labels.h"))

	out.Reset()
	require.NoError(t, run(ctx, []string{"runs", "-config", cfg, "-limit", "5"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "RUN ID")
}

func TestRunErrors(t *testing.T) {
	cfg := writeConfig(t)
	ctx := context.Background()
	var out bytes.Buffer

	assert.Error(t, run(ctx, nil, &out))
	assert.Error(t, run(ctx, []string{"bogus"}, &out))
	assert.Error(t, run(ctx, []string{"train", "-nope"}, &out))

	require.NoError(t, run(ctx, []string{"train", "-config", cfg}, &out))
	err := run(ctx, []string{"predict", "-config", cfg, "GridStatus=Outage", "BatteryLevel=30"}, &out)
	assert.True(t, errors.Is(err, errors.ErrUnknownCategory))

	err = run(ctx, []string{"predict", "-config", cfg, "GridStatus"}, &out)
	assert.Error(t, err)
}
