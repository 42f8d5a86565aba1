package adapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uichat/uichat/api"
)

func completeAdapter() Adapter {
	return Adapter{
		Name:              "testprov",
		URLHint:           "https://chat.test",
		Input:             []string{"#input"},
		Send:              []string{"#send"},
		Stop:              []string{"#stop"},
		ResponseContainer: []string{"div.reply"},
		ResponseContent:   []string{"div.content"},
		DefaultTimeout:    30 * time.Second,
	}
}

func TestValidateComplete(t *testing.T) {
	t.Parallel()

	a := completeAdapter()
	assert.NoError(t, a.Validate())
}

func TestValidateListsEveryMissingRole(t *testing.T) {
	t.Parallel()

	a := completeAdapter()
	a.Input = nil
	a.Stop = nil
	a.ResponseContent = nil

	err := a.Validate()
	require.Error(t, err)
	assert.Equal(t, api.KindAdapterIncomplete, api.KindOf(err))
	assert.Contains(t, err.Error(), "input")
	assert.Contains(t, err.Error(), "stop")
	assert.Contains(t, err.Error(), "response_content")
	assert.NotContains(t, err.Error(), "response_container")
}

func TestTimeoutFallbackChain(t *testing.T) {
	t.Parallel()

	a := completeAdapter()
	assert.Equal(t, 10*time.Second, a.Timeout(10*time.Second))
	assert.Equal(t, 30*time.Second, a.Timeout(0))
	assert.Equal(t, 30*time.Second, a.Timeout(-time.Second))

	a.DefaultTimeout = 0
	assert.Equal(t, 120*time.Second, a.Timeout(0))
}

func TestNewRegistryRejectsInvalid(t *testing.T) {
	t.Parallel()

	bad := completeAdapter()
	bad.Send = nil
	_, err := NewRegistry(completeAdapter(), bad)
	require.Error(t, err)
	assert.Equal(t, api.KindAdapterIncomplete, api.KindOf(err))
}

func TestRegistryURLHints(t *testing.T) {
	t.Parallel()

	a := completeAdapter()
	b := completeAdapter()
	b.Name = "other"
	b.URLHint = "https://other.test"

	reg, err := NewRegistry(a, b)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"testprov": "https://chat.test",
		"other":    "https://other.test",
	}, reg.URLHints())
}

func TestBuiltinsAreComplete(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(Builtins()...)
	require.NoError(t, err)
	for _, name := range []string{"chatgpt", "claude", "gemini"} {
		assert.Contains(t, reg, name)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	const doc = `
adapters:
  - name: myprov
    url_hint: https://my.test
    input: ["#input", "textarea"]
    send: ["#send"]
    stop: ["#stop"]
    response_container: ["div.reply"]
    response_content: ["div.content"]
    timeout_seconds: 90
`
	path := filepath.Join(t.TempDir(), "adapters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	adapters, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, adapters, 1)

	a := adapters[0]
	assert.Equal(t, "myprov", a.Name)
	assert.Equal(t, "https://my.test", a.URLHint)
	assert.Equal(t, []string{"#input", "textarea"}, a.Input)
	assert.Equal(t, 90*time.Second, a.DefaultTimeout)
	assert.NoError(t, a.Validate())
}

func TestLoadFileErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adapters: [not a mapping"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}
