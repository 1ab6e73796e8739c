package bridge

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecast/stagecast/internal/array"
	"github.com/stagecast/stagecast/internal/config"
	"github.com/stagecast/stagecast/internal/step"
	"github.com/stagecast/stagecast/internal/variable"
)

func startHub(t *testing.T) (config.BridgeConfig, func()) {
	t.Helper()
	hub := NewHub(config.Default(), nil)
	server := httptest.NewServer(hub.Router())
	cfg := config.Default().Bridge
	cfg.Addr = strings.TrimPrefix(server.URL, "http://")
	return cfg, server.Close
}

func dial(t *testing.T, stream string, cfg config.BridgeConfig) *Client {
	t.Helper()
	c, err := Dial(stream, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func floatBytes(t *testing.T, vals []float32) []byte {
	t.Helper()
	raw, typ, err := array.Bytes(vals)
	require.NoError(t, err)
	require.Equal(t, array.TypeFloat32, typ)
	return raw
}

func mustSel(t *testing.T, start, count array.Dims) array.Selection {
	t.Helper()
	sel, err := array.NewSelection(start, count)
	require.NoError(t, err)
	return sel
}

func TestBrokerRoundtrip(t *testing.T) {
	cfg, stop := startHub(t)
	defer stop()

	writer := dial(t, "roundtrip", cfg)
	reader := dial(t, "roundtrip", cfg)

	def := variable.Def{Name: "field", Type: array.TypeFloat32, Shape: array.Dims{4, 4}}

	require.NoError(t, writer.OpenWriter(0, 1))
	vals := make([]float32, 16)
	for i := range vals {
		vals[i] = float32(i)
	}
	require.NoError(t, writer.CompleteStep(0, 0, []step.Payload{{
		Var:  def,
		Sel:  mustSel(t, array.Dims{0, 0}, array.Dims{4, 4}),
		Data: floatBytes(t, vals),
	}}))

	require.NoError(t, reader.OpenReader("r1", 1))
	info, status, err := reader.Await("r1", step.ModeNextAvailable, -1, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, step.StatusOK, status)
	assert.Equal(t, uint64(0), info.Seq)
	require.Len(t, info.Vars, 1)
	assert.Equal(t, def.Name, info.Vars[0].Name)
	assert.Equal(t, def.Shape, info.Vars[0].Shape)

	out := make([]float32, 4)
	require.NoError(t, reader.Read(0, "field",
		mustSel(t, array.Dims{2, 2}, array.Dims{2, 2}), floatBytes(t, out)))
	assert.Equal(t, []float32{10, 11, 14, 15}, out)

	require.NoError(t, reader.Retire("r1", 0))
	require.NoError(t, writer.CloseWriter(0))

	_, status, err = reader.Await("r1", step.ModeNextAvailable, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, step.StatusEndOfStream, status)
	require.NoError(t, reader.CloseReader("r1"))
}

func TestReaderOpenUnknownStream(t *testing.T) {
	cfg, stop := startHub(t)
	defer stop()

	reader := dial(t, "never-written", cfg)
	err := reader.OpenReader("r1", 1)
	assert.ErrorIs(t, err, step.ErrStreamUnavailable)
}

func TestAwaitTimeoutOverBridge(t *testing.T) {
	cfg, stop := startHub(t)
	defer stop()

	writer := dial(t, "quiet", cfg)
	require.NoError(t, writer.OpenWriter(0, 1))

	reader := dial(t, "quiet", cfg)
	require.NoError(t, reader.OpenReader("r1", 1))

	start := time.Now()
	_, status, err := reader.Await("r1", step.ModeNextAvailable, -1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, step.StatusNotReady, status)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLargePayloadCompressed(t *testing.T) {
	cfg, stop := startHub(t)
	defer stop()

	// well above the compression threshold
	const n = 64 * 64
	writer := dial(t, "large", cfg)
	reader := dial(t, "large", cfg)

	def := variable.Def{Name: "field", Type: array.TypeFloat64, Shape: array.Dims{64, 64}}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i) / 3
	}
	raw, _, err := array.Bytes(vals)
	require.NoError(t, err)

	require.NoError(t, writer.OpenWriter(0, 1))
	require.NoError(t, writer.CompleteStep(0, 0, []step.Payload{{
		Var:  def,
		Sel:  mustSel(t, array.Dims{0, 0}, array.Dims{64, 64}),
		Data: raw,
	}}))

	require.NoError(t, reader.OpenReader("r1", 1))
	_, status, err := reader.Await("r1", step.ModeNextAvailable, -1, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, step.StatusOK, status)

	out := make([]float64, n)
	outRaw, _, err := array.Bytes(out)
	require.NoError(t, err)
	require.NoError(t, reader.Read(0, "field",
		mustSel(t, array.Dims{0, 0}, array.Dims{64, 64}), outRaw))
	assert.Equal(t, vals, out)
}

func TestGapKeepsCallerBytesOverBridge(t *testing.T) {
	cfg, stop := startHub(t)
	defer stop()

	writer := dial(t, "gappy", cfg)
	reader := dial(t, "gappy", cfg)

	def := variable.Def{Name: "field", Type: array.TypeFloat32, Shape: array.Dims{8}}
	require.NoError(t, writer.OpenWriter(0, 1))
	require.NoError(t, writer.CompleteStep(0, 0, []step.Payload{{
		Var:  def,
		Sel:  mustSel(t, array.Dims{0}, array.Dims{4}),
		Data: floatBytes(t, []float32{1, 2, 3, 4}),
	}}))

	require.NoError(t, reader.OpenReader("r1", 1))
	_, status, err := reader.Await("r1", step.ModeNextAvailable, -1, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, step.StatusOK, status)

	out := []float32{-1, -1, -1, -1, -1, -1, -1, -1}
	require.NoError(t, reader.Read(0, "field",
		mustSel(t, array.Dims{0}, array.Dims{8}), floatBytes(t, out)))
	assert.Equal(t, []float32{1, 2, 3, 4, -1, -1, -1, -1}, out)
}

func TestSessionDropReleasesWriter(t *testing.T) {
	cfg, stop := startHub(t)
	defer stop()

	writer := dial(t, "dropped", cfg)
	require.NoError(t, writer.OpenWriter(0, 1))
	require.NoError(t, writer.CompleteStep(0, 0, nil))

	reader := dial(t, "dropped", cfg)
	require.NoError(t, reader.OpenReader("r1", 1))

	// killing the writer connection must close its ranks so the
	// reader can still drain to end of stream
	require.NoError(t, writer.Close())

	_, status, err := reader.Await("r1", step.ModeNextAvailable, -1, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, step.StatusOK, status)
	require.NoError(t, reader.Retire("r1", 0))

	_, status, err = reader.Await("r1", step.ModeNextAvailable, 0, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, step.StatusEndOfStream, status)
}

func TestSessionDropBeforeFirstStep(t *testing.T) {
	cfg, stop := startHub(t)
	defer stop()

	// the writer opens its rank but vanishes without contributing
	writer := dial(t, "stillborn", cfg)
	require.NoError(t, writer.OpenWriter(0, 1))

	reader := dial(t, "stillborn", cfg)
	require.NoError(t, reader.OpenReader("r1", 1))

	require.NoError(t, writer.Close())

	_, status, err := reader.Await("r1", step.ModeNextAvailable, -1, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, step.StatusEndOfStream, status)
}

func TestTimeoutToMillis(t *testing.T) {
	cases := []struct {
		name    string
		timeout time.Duration
		want    int64
	}{
		{"infinite", -1, -1},
		{"poll", 0, 0},
		{"sub-millisecond rounds up", 100 * time.Microsecond, 1},
		{"exact millisecond", time.Millisecond, 1},
		{"floors above one millisecond", 1500 * time.Microsecond, 1},
		{"seconds", 2 * time.Second, 2000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, timeoutToMillis(tc.timeout))
		})
	}
}
