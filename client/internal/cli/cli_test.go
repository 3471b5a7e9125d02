package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaystack/relaystack/pkg/events"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "relay-client", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"listen", "deliver"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestListenFlags(t *testing.T) {
	cmd, _, err := NewRootCommand().Find([]string{"listen"})
	require.NoError(t, err)

	url := cmd.Flags().Lookup("url")
	require.NotNil(t, url)
	assert.Equal(t, "ws://localhost:3000/socket", url.DefValue)

	identity := cmd.Flags().Lookup("identity")
	require.NotNil(t, identity)
	assert.Equal(t, "abcd", identity.DefValue)
}

func TestFormatEvent(t *testing.T) {
	hello, _ := events.Encode(events.Push, "你好")
	users, _ := events.Encode(events.Users, 3)

	for frame, want := range map[string]string{
		string(hello): "hello 你好",
		string(users): "users 3",
	} {
		env, err := events.Decode([]byte(frame))
		require.NoError(t, err)
		assert.Equal(t, want, formatEvent(env))
	}
}

func runDeliver(t *testing.T, handler http.HandlerFunc, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"deliver", "--api", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestDeliverCommand_Delivered(t *testing.T) {
	var body map[string]any
	out, err := runDeliver(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)                           //nolint:errcheck
		w.Write([]byte(`{"outcome":"delivered","connection_id":"c1"}`)) //nolint:errcheck
	}, "--identity", "abcd", "--message", "你好")

	require.NoError(t, err)
	assert.Contains(t, out, "delivered (connection c1)")
	assert.Equal(t, "abcd", body["identity"])
	assert.Equal(t, "你好", body["payload"])
}

func TestDeliverCommand_JSONPayload(t *testing.T) {
	var body map[string]any
	_, err := runDeliver(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)                           //nolint:errcheck
		w.Write([]byte(`{"outcome":"delivered","connection_id":"c1"}`)) //nolint:errcheck
	}, "--json", "--message", `{"text":"hi"}`)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi"}, body["payload"])
}

func TestDeliverCommand_InvalidJSON(t *testing.T) {
	_, err := runDeliver(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	}, "--json", "--message", `{`)
	assert.Error(t, err)
}

func TestDeliverCommand_Unroutable(t *testing.T) {
	out, err := runDeliver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"outcome":"unroutable"}`)) //nolint:errcheck
	})

	require.Error(t, err)
	assert.Contains(t, out, "unroutable")
}
